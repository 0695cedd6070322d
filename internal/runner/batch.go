package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/signalnine/docprobe/internal/extract"
	"github.com/signalnine/docprobe/internal/fixture"
	"github.com/signalnine/docprobe/internal/pricing"
	"github.com/signalnine/docprobe/internal/remote"
	"github.com/signalnine/docprobe/internal/result"
)

const DefaultInstruction = "Extract the verification code. Reply with ONLY the code."

// Batch sends every fixture through the adapter and checks the returned code.
type Batch struct {
	Store       *fixture.Store
	Adapter     remote.Adapter
	Model       string
	Instruction string
	Options     remote.Options
	// Concurrency caps in-flight cases. 1 runs sequentially, 0 runs all at once.
	Concurrency int
	// Pricing estimates cost when the server does not report it. May be nil.
	Pricing *pricing.Table
	Logger  zerolog.Logger
	// OnResult is called once per finished case. Calls are serialized but
	// arrive in completion order.
	OnResult func(result.ProbeResult)
}

// RunAll runs one case per class. A failing case never stops the others and
// the report keeps the order of classes.
func (b *Batch) RunAll(ctx context.Context, classes []fixture.SizeClass) *result.BatchRunReport {
	results := make([]result.ProbeResult, len(classes))
	var notify sync.Mutex

	jobs := make([]Job, len(classes))
	for i, class := range classes {
		jobs[i] = func() error {
			pr := b.runCase(ctx, class)
			results[i] = pr
			if b.OnResult != nil {
				notify.Lock()
				b.OnResult(pr)
				notify.Unlock()
			}
			return nil
		}
	}
	RunPool(b.Concurrency, jobs)

	report := result.NewBatchRunReport(results)
	report.Model = b.Model
	report.Engine = b.Options.Engine
	return report
}

func (b *Batch) runCase(ctx context.Context, class fixture.SizeClass) result.ProbeResult {
	start := time.Now()
	log := b.Logger.With().Str("size_class", string(class)).Logger()

	expected, metaErr := b.Store.ReadExpectedCode(class)
	fail := func(err error) result.ProbeResult {
		log.Warn().Err(err).Msg("case failed")
		pr := result.NewProbeResult(string(class), expected, "")
		pr.Reason = err.Error()
		pr.DurationMS = time.Since(start).Milliseconds()
		return pr
	}

	path, err := b.Store.Resolve(class)
	if err != nil {
		return fail(err)
	}
	if metaErr != nil {
		return fail(metaErr)
	}
	size, err := b.Store.FileSize(class)
	if err != nil {
		return fail(err)
	}
	uri, err := b.Store.ReadDataURI(class)
	if err != nil {
		return fail(err)
	}

	instruction := b.Instruction
	if instruction == "" {
		instruction = DefaultInstruction
	}
	log.Debug().
		Str("size", fixture.FormatSize(size)).
		Int("encoded_bytes", len(uri)).
		Msg("sending fixture")

	resp, err := b.Adapter.Send(ctx, &remote.Request{
		Model:       b.Model,
		Instruction: instruction,
		Document:    uri,
		Filename:    filepath.Base(path),
		Options:     b.Options,
	})
	if err != nil {
		pr := fail(err)
		pr.FileSize = size
		return pr
	}

	extracted, found := extract.Code(resp.Text)
	pr := result.NewProbeResult(string(class), expected, extracted)
	pr.Usage = resp.Usage
	pr.FileSize = size
	pr.CostUSD = resp.Usage.Cost
	if pr.CostUSD == nil {
		if cost, ok := b.Pricing.Cost(b.Model, resp.Usage); ok {
			pr.CostUSD = &cost
		}
	}
	switch {
	case !found:
		pr.Reason = "no code in response"
	case !pr.Success:
		pr.Reason = fmt.Sprintf("extracted %s, expected %s", extracted, expected)
	}
	if !pr.Success {
		log.Debug().Strs("codes", extract.All(resp.Text)).Str("response", resp.Text).Msg("code check failed")
	}
	pr.DurationMS = time.Since(start).Milliseconds()
	return pr
}
