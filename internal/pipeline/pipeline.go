package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Adnuntius/ASgard/internal/classify"
	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/models"
)

// MetadataSource resolves the registry record of one ASN. A miss is not an
// error; the pipeline emits an all-Unknown row for it.
type MetadataSource interface {
	Lookup(asn int64) (models.AsnMetadata, bool)
}

// ChainSource tries sources in order and returns the first hit.
type ChainSource []MetadataSource

func (c ChainSource) Lookup(asn int64) (models.AsnMetadata, bool) {
	for _, source := range c {
		if meta, ok := source.Lookup(asn); ok {
			return meta, true
		}
	}
	return models.AsnMetadata{}, false
}

// Classifier is the single-ASN classification dependency of the pipeline.
type Classifier interface {
	Classify(ctx context.Context, metadata models.AsnMetadata) (classify.Result, error)
}

// Summary is the outcome of a completed run.
type Summary struct {
	Started      time.Time
	Finished     time.Time
	Classified   int64
	TotalPending int64
	ApproxTokens int64
	OutputPath   string
}

// Runner executes one classification run against the output store. A run is
// resumable: rows already present are never re-classified, and rows carrying
// Unknown fields are dropped up front so they get another attempt.
type Runner struct {
	Source      MetadataSource
	Classifier  Classifier
	Store       *Store
	Allocations []models.AsnAllocation

	// Limit caps the number of ASNs processed this run; <= 0 is unlimited.
	Limit int64
	// AcceptUnknowns persists rows with Unknown fields instead of skipping
	// them for a later retry.
	AcceptUnknowns bool
}

// Run classifies every pending allocated ASN and appends the results.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Started: time.Now(), OutputPath: r.Store.Path()}
	if len(r.Allocations) == 0 {
		return Summary{}, fmt.Errorf("no ASN allocations available")
	}
	allocations := sortedAllocations(r.Allocations)

	if err := r.Store.Normalize(); err != nil {
		return Summary{}, err
	}
	snapshot, err := r.Store.Load()
	if err != nil {
		return Summary{}, err
	}
	if len(snapshot.Known) > 0 {
		commons.Logger.Infof("Skipping %d ASNs already classified", len(snapshot.Known))
	}
	if len(snapshot.Unknown) > 0 && !r.AcceptUnknowns {
		commons.Logger.Infof("Will retry %d ASNs with Unknown fields (e.g., %v)",
			len(snapshot.Unknown), sample(snapshot.Unknown, 20))
		if err := r.Store.RewriteKnown(snapshot.Known); err != nil {
			return Summary{}, err
		}
	}

	processed := make(map[int64]struct{}, len(snapshot.Known))
	for asn := range snapshot.Known {
		processed[asn] = struct{}{}
	}
	if r.AcceptUnknowns {
		// Accepted Unknown rows are final; never classify them again.
		for _, asn := range snapshot.Unknown {
			processed[asn] = struct{}{}
		}
	}
	startAt := FirstMissing(allocations, processed)
	if startAt < 0 {
		commons.Logger.Info("Nothing new to classify")
		summary.Finished = time.Now()
		return summary, nil
	}
	total := CountPending(allocations, processed, startAt, r.Limit)
	if total == 0 {
		commons.Logger.Info("Nothing new to classify")
		summary.Finished = time.Now()
		return summary, nil
	}
	summary.TotalPending = total
	commons.Logger.Infof("Preparing to classify %d ASNs starting at AS%d", total, startAt)

	appender, err := r.Store.OpenAppend()
	if err != nil {
		return Summary{}, err
	}
	defer appender.Close()

	progressEvery := total / 1000
	if progressEvery < 1 {
		progressEvery = 1
	}
	sequence := NewPendingSequence(allocations, processed, startAt, r.Limit)
	for {
		asn, ok := sequence.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		row, approxTokens, err := r.classifyOne(ctx, asn)
		if err != nil {
			return Summary{}, err
		}
		// Allocation feeds can list the same ASN more than once; marking it
		// here keeps the sequence from yielding it again this run.
		processed[asn] = struct{}{}
		summary.ApproxTokens += approxTokens
		if row.HasUnknown() && !r.AcceptUnknowns {
			commons.Logger.Warnf("Skipping write for AS%d due to Unknown fields", asn)
			continue
		}
		if err := appender.Write(row); err != nil {
			return Summary{}, err
		}
		summary.Classified++
		if summary.Classified%progressEvery == 0 || summary.Classified == total {
			percent := float64(summary.Classified) * 100 / float64(total)
			commons.Logger.Infof("Progress: %.2f%% (%d/%d) | ~%d total tokens sent",
				percent, summary.Classified, total, summary.ApproxTokens)
		}
	}
	summary.Finished = time.Now()
	return summary, nil
}

// Reprocess removes the rows of the given ASNs and classifies them again.
func (r *Runner) Reprocess(ctx context.Context, asns []int64) (Summary, error) {
	summary := Summary{Started: time.Now(), OutputPath: r.Store.Path(), TotalPending: int64(len(asns))}
	commons.Logger.Infof("Reprocessing %d ASN(s): %v", len(asns), asns)
	if err := r.Store.Normalize(); err != nil {
		return Summary{}, err
	}
	if err := r.Store.Remove(asns); err != nil {
		return Summary{}, err
	}
	appender, err := r.Store.OpenAppend()
	if err != nil {
		return Summary{}, err
	}
	defer appender.Close()
	for _, asn := range asns {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		row, approxTokens, err := r.classifyOne(ctx, asn)
		if err != nil {
			return Summary{}, err
		}
		summary.ApproxTokens += approxTokens
		if row.HasUnknown() && !r.AcceptUnknowns {
			commons.Logger.Warnf("Skipping write for AS%d due to Unknown fields", asn)
			continue
		}
		if err := appender.Write(row); err != nil {
			return Summary{}, err
		}
		summary.Classified++
	}
	summary.Finished = time.Now()
	return summary, nil
}

// classifyOne resolves metadata and asks the model. A metadata miss yields
// the all-Unknown row without calling the model; a model failure aborts the
// run so transient API outages do not poison the output.
func (r *Runner) classifyOne(ctx context.Context, asn int64) (models.FinalClassification, int64, error) {
	metadata, ok := r.Source.Lookup(asn)
	if !ok {
		commons.Logger.Warnf("No registry record for AS%d", asn)
		return models.FinalClassification{
			ASN: asn, Name: "Unknown", Organization: "Unknown", Category: "Unknown",
		}, 0, nil
	}
	result, err := r.Classifier.Classify(ctx, metadata)
	if err != nil {
		return models.FinalClassification{}, 0, fmt.Errorf("classification failed for AS%d: %w", asn, err)
	}
	return result.Classification, result.ApproxPromptTokens, nil
}

func sortedAllocations(allocations []models.AsnAllocation) []models.AsnAllocation {
	out := make([]models.AsnAllocation, len(allocations))
	copy(out, allocations)
	sort.Slice(out, func(i, j int) bool { return out[i].StartASN < out[j].StartASN })
	return out
}

func sample(values []int64, max int) []int64 {
	if len(values) <= max {
		return values
	}
	return values[:max]
}
