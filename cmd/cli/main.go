package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Adnuntius/ASgard/internal/classify"
	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/config"
	"github.com/Adnuntius/ASgard/internal/enrich"
	"github.com/Adnuntius/ASgard/internal/limiter"
	"github.com/Adnuntius/ASgard/internal/models"
	"github.com/Adnuntius/ASgard/internal/pipeline"
	"github.com/Adnuntius/ASgard/internal/registry"
	"github.com/Adnuntius/ASgard/internal/report"
	"github.com/Adnuntius/ASgard/internal/telegram"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: <state-dir>/asgard.json)")
	stateDir := flag.String("state-dir", "", "State directory (default: $ASGARD_STATE_DIR or ~/.asgard)")
	outputFile := flag.String("output", "", "Output TSV file (default: <state-dir>/asn-classifications.tsv)")
	limit := flag.Int64("limit", 0, "Maximum number of ASNs to classify this run (0 = no limit)")
	reprocess := flag.String("reprocess", "", "Comma-separated ASNs to remove and classify again")
	acceptUnknowns := flag.Bool("accept-unknowns", false, "Persist rows with Unknown fields instead of retrying them next run")
	apiKey := flag.String("api-key", "", "OpenAI API key (default: $OPENAI_API_KEY)")
	model := flag.String("model", "", "Model name (default: from config)")
	rdapFallback := flag.Bool("rdap-fallback", false, "Query RDAP for ASNs missing from the registry cache")
	checkDomains := flag.Bool("check-domains", false, "Annotate metadata with contact domain DNS liveness")
	checkBGP := flag.Bool("check-bgp", false, "Annotate metadata with RIS Live BGP visibility")
	notify := flag.Bool("notify", false, "Post the run summary to the configured Telegram channel")
	chartFile := flag.String("chart", "", "Write a category distribution chart PNG to this path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

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

	key := *apiKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if strings.TrimSpace(key) == "" {
		commons.Logger.Fatal("Missing OpenAI API key. Set OPENAI_API_KEY or pass -api-key")
	}
	modelToUse := cfg.Model
	if *model != "" {
		modelToUse = *model
	}

	reprocessASNs, err := parseASNList(*reprocess)
	if err != nil {
		commons.Logger.Fatalf("Invalid -reprocess list: %v", err)
	}
	isReprocessing := len(reprocessASNs) > 0

	commons.Logger.Infof("Model: %s | OpenAI: %s | State: %s", modelToUse, cfg.OpenAIBaseURL, paths.BaseDir)

	database, err := registry.OpenDatabase(paths.DatabaseFile())
	if err != nil {
		commons.Logger.Fatalf("Failed to open registry cache: %v", err)
	}
	source := pipeline.ChainSource{database}
	if *rdapFallback {
		rdapClient := registry.NewRdapClient(&http.Client{Timeout: 30 * time.Second}, cfg.RDAPBaseURL)
		source = append(source, rdapClient)
	}
	var annotators []annotator
	if *checkDomains {
		annotators = append(annotators, enrich.NewDomainChecker("", 0))
	}
	if *checkBGP {
		annotators = append(annotators, enrich.NewVisibilityProbe("", 0))
	}

	rateLimiter := limiter.New(cfg.TokensPerMinute, cfg.MaxContextTokens)
	audit := classify.NewRequestLogger(paths.AuditDir())
	classifier := classify.NewClassifier(
		&http.Client{Timeout: 2 * time.Minute},
		cfg.OpenAIBaseURL, modelToUse, key, rateLimiter, audit, isReprocessing)

	store := pipeline.NewStore(paths.OutputFile(*outputFile))
	runner := &pipeline.Runner{
		Source:         &enrichingSource{ctx: ctx, inner: source, annotators: annotators},
		Classifier:     classifier,
		Store:          store,
		Limit:          *limit,
		AcceptUnknowns: *acceptUnknowns,
	}

	var summary pipeline.Summary
	if isReprocessing {
		summary, err = runner.Reprocess(ctx, reprocessASNs)
	} else {
		allocationCache := registry.NewAllocationCache(cfg, paths)
		allocations, allocErr := allocationCache.Allocations()
		if allocErr != nil {
			commons.Logger.Fatalf("Failed to load ASN allocations: %v", allocErr)
		}
		commons.Logger.Infof("Fetched %d allocation blocks (cache TTL %s)", len(allocations), cfg.RegistryTTL)
		runner.Allocations = allocations
		summary, err = runner.Run(ctx)
	}
	if err != nil {
		commons.Logger.Fatalf("Classification run failed: %v", err)
	}
	fmt.Printf("Classification complete -> %s\n", store.Path())

	counts, err := store.CategoryCounts()
	if err != nil {
		commons.Logger.Warnf("Failed to tally categories: %v", err)
		counts = map[string]int{}
	}

	chartPNG := renderChart(*chartFile, counts)
	if *notify {
		sendNotification(cfg, summary, counts, chartPNG)
	}
}

func renderChart(path string, counts map[string]int) *bytes.Buffer {
	buffer, err := report.GenerateCategoryChart(counts)
	if err != nil {
		commons.Logger.Debugf("Skipping category chart: %v", err)
		return nil
	}
	if path != "" {
		if err := os.WriteFile(path, buffer.Bytes(), 0o644); err != nil {
			commons.Logger.Warnf("Failed to write chart to %s: %v", path, err)
		} else {
			fmt.Printf("Category chart -> %s\n", path)
		}
	}
	return buffer
}

func sendNotification(cfg *config.Config, summary pipeline.Summary, counts map[string]int, chartPNG *bytes.Buffer) {
	token := cfg.TelegramToken
	if env := os.Getenv("TELEGRAM_BOT_TOKEN"); env != "" {
		token = env
	}
	notifier, err := telegram.NewNotifier(token, cfg.TelegramChannel)
	if err != nil {
		commons.Logger.Warnf("Telegram notifications disabled: %v", err)
		return
	}
	if err := notifier.SendRunSummary(summary, counts, chartPNG); err != nil {
		commons.Logger.Warnf("Failed to send Telegram summary: %v", err)
	}
}

// annotator adds remarks to a metadata record before classification.
type annotator interface {
	Annotate(ctx context.Context, metadata *models.AsnMetadata)
}

// enrichingSource wraps a metadata source and runs the configured
// annotators on every hit.
type enrichingSource struct {
	ctx        context.Context
	inner      pipeline.MetadataSource
	annotators []annotator
}

func (s *enrichingSource) Lookup(asn int64) (models.AsnMetadata, bool) {
	metadata, ok := s.inner.Lookup(asn)
	if !ok {
		return models.AsnMetadata{}, false
	}
	for _, annotate := range s.annotators {
		annotate.Annotate(s.ctx, &metadata)
	}
	return metadata, ok
}

func parseASNList(value string) ([]int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	var asns []int64
	for _, part := range strings.Split(trimmed, ",") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(part)), "AS"))
		if part == "" {
			continue
		}
		asn, err := strconv.ParseInt(part, 10, 64)
		if err != nil || asn <= 0 {
			return nil, fmt.Errorf("not a valid ASN: %q", part)
		}
		asns = append(asns, asn)
	}
	return asns, nil
}
