package registry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/config"
)

// Builder produces the registry metadata cache from the public registry
// feeds. The output file is only replaced once every stage has succeeded.
type Builder struct {
	cfg        *config.Config
	paths      config.StatePaths
	downloader *Downloader

	// ArinAPIKey overrides the configured key when set.
	ArinAPIKey string
	// SkipArinBulk builds the cache without the ARIN bulk-whois export.
	// Most ARIN ASNs will then resolve through RPSL or show Unknown.
	SkipArinBulk bool
}

// NewBuilder returns a Builder over the given configuration and state paths.
func NewBuilder(cfg *config.Config, paths config.StatePaths) *Builder {
	return &Builder{cfg: cfg, paths: paths, downloader: NewDownloader()}
}

// Build downloads all registry feeds, assembles the merged metadata and
// atomically promotes the result to the cache file. Returns the number of
// entries written.
func (b *Builder) Build() (int, error) {
	if err := b.paths.EnsureDirectories(); err != nil {
		return 0, err
	}
	commons.Logger.Info("Starting registry cache build")

	arinData, err := b.fetchArinBulk()
	if err != nil {
		return 0, err
	}
	delegated, err := b.fetchDelegated()
	if err != nil {
		return 0, err
	}
	rpslByASN, err := b.fetchRPSL()
	if err != nil {
		return 0, err
	}

	metadata := AssembleMetadata(delegated, rpslByASN, arinData)
	if err := WriteDatabase(b.paths.DatabaseFile(), metadata); err != nil {
		return 0, err
	}
	commons.Logger.Infof("Wrote registry cache with %d entries to %s", len(metadata), b.paths.DatabaseFile())
	return len(metadata), nil
}

// fetchDelegated downloads every delegated-extended feed and parses their
// concatenation. Any single failed feed fails the build; a cache missing a
// whole registry would silently misclassify its ASNs.
func (b *Builder) fetchDelegated() (map[int64][]*DelegatedRecord, error) {
	readers := make([]io.Reader, 0, len(b.cfg.RegistrySources))
	var tempFiles []string
	defer func() {
		for _, path := range tempFiles {
			os.Remove(path)
		}
	}()
	for _, source := range b.cfg.RegistrySources {
		commons.Logger.Infof("Downloading delegated extended from %s", source)
		path, err := b.downloader.FetchToTemp(source)
		if err != nil {
			return nil, fmt.Errorf("delegated extended download failed: %w", err)
		}
		tempFiles = append(tempFiles, path)
	}
	files := make([]*os.File, 0, len(tempFiles))
	defer func() {
		for _, file := range files {
			file.Close()
		}
	}()
	for _, path := range tempFiles {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open delegated extended download: %w", err)
		}
		files = append(files, file)
		readers = append(readers, file, strings.NewReader("\n"))
	}
	commons.Logger.Infof("Downloaded delegated extended data from %d registries", len(tempFiles))
	return ParseDelegatedExtended(io.MultiReader(readers...))
}

// fetchRPSL downloads the whois dumps best-effort and indexes their aut-num
// objects. A source that fails to download is logged and skipped; the first
// source to define an ASN wins.
func (b *Builder) fetchRPSL() (map[int64]*RpslObject, error) {
	byASN := make(map[int64]*RpslObject)
	for _, source := range b.cfg.RPSLSources {
		path, err := b.downloader.FetchToTemp(source)
		if err != nil {
			commons.Logger.Warnf("Skipping RPSL source %s: %v", source, err)
			continue
		}
		commons.Logger.Infof("Downloaded %s into %s", source, path)
		err = func() error {
			defer os.Remove(path)
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open RPSL download: %w", err)
			}
			defer file.Close()
			objects, err := ParseRPSLGz(file)
			if err != nil {
				return fmt.Errorf("parse RPSL dump %s: %w", source, err)
			}
			for asn, obj := range IndexRPSLByASN(objects) {
				if _, exists := byASN[asn]; !exists {
					byASN[asn] = obj
				}
			}
			return nil
		}()
		if err != nil {
			return nil, err
		}
	}
	return byASN, nil
}

// fetchArinBulk downloads and parses ARIN's three bulk-whois files. The
// asns.xml file is mandatory unless SkipArinBulk is set; an empty result
// suggests the API key lacks bulk whois access.
func (b *Builder) fetchArinBulk() (ArinBulkData, error) {
	if b.SkipArinBulk {
		commons.Logger.Info("Skipping ARIN bulk download")
		return EmptyArinBulkData(), nil
	}
	apiKey, err := b.resolveArinAPIKey()
	if err != nil {
		return ArinBulkData{}, err
	}
	var paths [3]string
	defer func() {
		for _, path := range paths {
			if path != "" {
				os.Remove(path)
			}
		}
	}()
	for i, fileName := range []string{"asns.xml", "orgs.xml", "pocs.xml"} {
		commons.Logger.Infof("Downloading ARIN %s", fileName)
		path, err := b.downloader.FetchToTemp(ArinBulkURL(fileName, apiKey))
		if err != nil {
			return ArinBulkData{}, fmt.Errorf("ARIN bulk download of %s failed "+
				"(your API key may not have bulk whois access enabled, "+
				"or pass -skip-arin-bulk to proceed without ARIN data): %w", fileName, err)
		}
		paths[i] = path
	}
	parser := BulkWhoisParser{RangeExpansionLimit: b.cfg.RangeExpansionLimit}
	data, err := parser.ParseThreePass(paths[0], paths[1], paths[2])
	if err != nil {
		return ArinBulkData{}, err
	}
	if len(data.Asns) == 0 {
		return ArinBulkData{}, fmt.Errorf("ARIN bulk download returned no ASNs, " +
			"visit https://account.arin.net to request bulk whois access " +
			"or pass -skip-arin-bulk")
	}
	return data, nil
}

// resolveArinAPIKey picks the key from the override, the config file or the
// environment, rejecting values containing whitespace.
func (b *Builder) resolveArinAPIKey() (string, error) {
	candidates := []struct {
		value  string
		source string
	}{
		{b.ArinAPIKey, "argument"},
		{b.cfg.ArinAPIKey, "config"},
		{os.Getenv("ASGARD_ARIN_API_KEY"), "environment"},
		{os.Getenv("ARIN_API_KEY"), "environment"},
	}
	for _, candidate := range candidates {
		key := strings.TrimSpace(candidate.value)
		if key == "" {
			continue
		}
		if strings.ContainsAny(key, " \t\r\n") {
			commons.Logger.Warnf("Ignoring ARIN API key from %s because it contains whitespace", candidate.source)
			continue
		}
		return key, nil
	}
	return "", fmt.Errorf("ARIN API key required: set ARIN_API_KEY, ASGARD_ARIN_API_KEY, " +
		"add it to the config file, or pass -arin-api-key")
}
