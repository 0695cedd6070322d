package result

import (
	"time"

	"github.com/signalnine/docprobe/internal/remote"
)

// ProbeResult is the outcome of one fixture run. It is not mutated after
// the runner records it.
type ProbeResult struct {
	SizeClass     string       `json:"size_class"`
	ExpectedCode  string       `json:"expected_code"`
	ExtractedCode string       `json:"extracted_code,omitempty"`
	Success       bool         `json:"success"`
	Usage         remote.Usage `json:"usage"`
	CostUSD       *float64     `json:"cost_usd,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	FileSize      int64        `json:"file_size"`
	DurationMS    int64        `json:"duration_ms"`
}

// NewProbeResult derives Success from the two codes. An empty extracted
// code never counts as a match.
func NewProbeResult(class, expected, extracted string) ProbeResult {
	return ProbeResult{
		SizeClass:     class,
		ExpectedCode:  expected,
		ExtractedCode: extracted,
		Success:       extracted != "" && extracted == expected,
	}
}

type FailedCase struct {
	SizeClass string `json:"size_class"`
	Reason    string `json:"reason"`
}

type BatchRunReport struct {
	RunID     string        `json:"run_id"`
	Model     string        `json:"model"`
	Engine    string        `json:"engine,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Results   []ProbeResult `json:"results"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    []FailedCase  `json:"failed_cases"`
}

// NewBatchRunReport aggregates results, keeping their order.
func NewBatchRunReport(results []ProbeResult) *BatchRunReport {
	r := &BatchRunReport{Results: results, Total: len(results), Failed: []FailedCase{}}
	for _, pr := range results {
		if pr.Success {
			r.Passed++
			continue
		}
		reason := pr.Reason
		if reason == "" {
			reason = "code mismatch"
		}
		r.Failed = append(r.Failed, FailedCase{SizeClass: pr.SizeClass, Reason: reason})
	}
	return r
}

func (r *BatchRunReport) OK() bool {
	return r.Passed == r.Total
}

// ExitCode is 0 only when every case passed.
func (r *BatchRunReport) ExitCode() int {
	if r.OK() {
		return 0
	}
	return 1
}

func (r *BatchRunReport) TotalCostUSD() float64 {
	var total float64
	for _, pr := range r.Results {
		if pr.CostUSD != nil {
			total += *pr.CostUSD
		}
	}
	return total
}

type Classification string

const (
	CacheWorking       Classification = "cache_working"
	CacheNotWorking    Classification = "cache_not_working"
	ControlValid       Classification = "control_valid"
	ControlInvalid     Classification = "control_invalid"
	UnexpectedFirstHit Classification = "unexpected_first_hit"
)

// Classify applies the cache-probe rule. A non-zero first call is always
// flagged rather than reported as success.
func Classify(first, second int, control bool) Classification {
	if control {
		if first == 0 && second == 0 {
			return ControlValid
		}
		return ControlInvalid
	}
	switch {
	case first > 0:
		return UnexpectedFirstHit
	case second > 0:
		return CacheWorking
	default:
		return CacheNotWorking
	}
}

// CacheProbePair records two identical requests sent a short delay apart.
// The classification is a heuristic; a cold cache or slow population can
// produce a miss on a provider whose caching works.
type CacheProbePair struct {
	Label           string         `json:"label"`
	Model           string         `json:"model"`
	Control         bool           `json:"control"`
	CachedFirst     int            `json:"cached_tokens_first"`
	CachedSecond    int            `json:"cached_tokens_second"`
	Classification  Classification `json:"classification"`
	BodiesIdentical bool           `json:"bodies_identical"`
	First           remote.Usage   `json:"first_usage"`
	Second          remote.Usage   `json:"second_usage"`
	StartedAt       time.Time      `json:"started_at"`
}

func (p *CacheProbePair) Passed() bool {
	return p.Classification == CacheWorking || p.Classification == ControlValid
}

func (p *CacheProbePair) ExitCode() int {
	if p.Passed() {
		return 0
	}
	return 1
}
