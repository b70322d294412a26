package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/config"
	"github.com/Adnuntius/ASgard/internal/registry"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: <state-dir>/asgard.json)")
	stateDir := flag.String("state-dir", "", "State directory (default: $ASGARD_STATE_DIR or ~/.asgard)")
	arinAPIKey := flag.String("arin-api-key", "", "ARIN API key with bulk whois access")
	skipArinBulk := flag.Bool("skip-arin-bulk", false, "Build without ARIN bulk data (most ARIN ASNs will show Unknown)")
	assumeYes := flag.Bool("yes", false, "Skip the confirmation prompt")
	flag.Parse()

	paths := config.NewStatePaths(*stateDir)
	if err := paths.EnsureDirectories(); err != nil {
		commons.Logger.Fatalf("Failed to initialize state directory: %v", err)
	}
	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = paths.ConfigFile()
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		commons.Logger.Fatalf("Failed to load config: %v", err)
	}

	// The full build downloads several gigabytes from the registries
	if !*assumeYes && isatty.IsTerminal(os.Stdout.Fd()) {
		var execute string
		fmt.Printf("This will download full registry dumps (multiple GB) into %s. Continue? [y/N]\n", paths.CacheDir())
		fmt.Scanf("%s", &execute)
		if execute != "y" {
			return
		}
	}

	builder := registry.NewBuilder(cfg, paths)
	builder.ArinAPIKey = *arinAPIKey
	builder.SkipArinBulk = *skipArinBulk

	entries, err := builder.Build()
	if err != nil {
		commons.Logger.Fatalf("Registry cache build failed: %v", err)
	}
	fmt.Printf("Registry cache ready with %d entries -> %s\n", entries, paths.DatabaseFile())
}
