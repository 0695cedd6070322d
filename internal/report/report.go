package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/signalnine/docprobe/internal/fixture"
	"github.com/signalnine/docprobe/internal/result"
)

// ModelSummary aggregates every stored batch run for one model.
type ModelSummary struct {
	Model        string  `json:"model"`
	Runs         int     `json:"runs"`
	Cases        int     `json:"cases"`
	PassRate     float64 `json:"pass_rate"`
	MeanTokens   float64 `json:"mean_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

type output struct {
	Reports     []*result.BatchRunReport `json:"reports"`
	CacheProbes []*result.CacheProbePair `json:"cache_probes"`
	Models      []ModelSummary           `json:"models"`
}

// Generate reads stored results under dir (a single run directory or a
// directory of runs) and renders them as table, markdown or json.
func Generate(dir, format string, w io.Writer) error {
	reports, probes, err := collect(dir)
	if err != nil {
		return err
	}
	if len(reports) == 0 && len(probes) == 0 {
		return fmt.Errorf("no results found in %s", dir)
	}
	out := output{Reports: reports, CacheProbes: probes, Models: aggregate(reports)}

	switch format {
	case "markdown":
		return writeMarkdown(out, w)
	case "json":
		return writeJSON(out, w)
	default:
		return writeTable(out, w)
	}
}

func collect(dir string) ([]*result.BatchRunReport, []*result.CacheProbePair, error) {
	var (
		reports []*result.BatchRunReport
		probes  []*result.CacheProbePair
	)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		switch info.Name() {
		case "report.json":
			r, err := result.ReadReport(filepath.Dir(path))
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping unreadable report")
				return nil
			}
			reports = append(reports, r)
		case "cache-probe.json":
			p, err := result.ReadCacheProbe(filepath.Dir(path))
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping unreadable cache probe")
				return nil
			}
			probes = append(probes, p)
		}
		return nil
	})
	return reports, probes, err
}

func aggregate(reports []*result.BatchRunReport) []ModelSummary {
	type accum struct {
		runs   int
		cases  int
		passed int
		tokens float64
		cost   float64
	}
	byModel := map[string]*accum{}

	for _, r := range reports {
		a, ok := byModel[r.Model]
		if !ok {
			a = &accum{}
			byModel[r.Model] = a
		}
		a.runs++
		a.cases += r.Total
		a.passed += r.Passed
		a.cost += r.TotalCostUSD()
		for _, pr := range r.Results {
			a.tokens += float64(pr.Usage.TotalTokens)
		}
	}

	summaries := []ModelSummary{}
	for name, a := range byModel {
		s := ModelSummary{Model: name, Runs: a.runs, Cases: a.cases, TotalCostUSD: a.cost}
		if a.cases > 0 {
			s.PassRate = float64(a.passed) / float64(a.cases)
			s.MeanTokens = a.tokens / float64(a.cases)
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Model < summaries[j].Model
	})
	return summaries
}

// Narrate prints one console line for a finished case.
func Narrate(w io.Writer, pr result.ProbeResult) {
	tag := "PASS"
	if !pr.Success {
		tag = "FAIL"
	}
	extracted := pr.ExtractedCode
	if extracted == "" {
		extracted = "(none)"
	}
	fmt.Fprintf(w, "  [%s] %-7s %9s  expected=%s extracted=%s", tag, pr.SizeClass, fixture.FormatSize(pr.FileSize), pr.ExpectedCode, extracted)
	if !pr.Success && pr.Reason != "" {
		fmt.Fprintf(w, "  (%s)", pr.Reason)
	}
	fmt.Fprintln(w)
}

// Summary prints the passed/total line.
func Summary(w io.Writer, r *result.BatchRunReport) {
	fmt.Fprintf(w, "%d/%d passed", r.Passed, r.Total)
	if cost := r.TotalCostUSD(); cost > 0 {
		fmt.Fprintf(w, "  (cost $%.4f)", cost)
	}
	fmt.Fprintln(w)
}

func costString(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("$%.4f", *c)
}

func writeTable(out output, w io.Writer) error {
	for _, r := range out.Reports {
		fmt.Fprintf(w, "Run %s  model=%s", r.RunID, r.Model)
		if r.Engine != "" {
			fmt.Fprintf(w, "  engine=%s", r.Engine)
		}
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CLASS\tSIZE\tEXPECTED\tEXTRACTED\tRESULT\tTOKENS\tCACHED\tCOST")
		fmt.Fprintln(tw, strings.Repeat("-", 80))
		for _, pr := range r.Results {
			res := "PASS"
			if !pr.Success {
				res = "FAIL"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				pr.SizeClass, fixture.FormatSize(pr.FileSize), pr.ExpectedCode, orDash(pr.ExtractedCode),
				res, pr.Usage.TotalTokens, pr.Usage.CachedTokens, costString(pr.CostUSD))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  %s: %s\n", f.SizeClass, f.Reason)
		}
		Summary(w, r)
		fmt.Fprintln(w)
	}

	if len(out.CacheProbes) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROBE\tMODEL\tCONTROL\tFIRST\tSECOND\tIDENTICAL\tCLASSIFICATION")
		fmt.Fprintln(tw, strings.Repeat("-", 80))
		for _, p := range out.CacheProbes {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%t\t%s\n",
				p.Label, p.Model, p.Control, p.CachedFirst, p.CachedSecond, p.BodiesIdentical, p.Classification)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(out.Models) > 1 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tRUNS\tCASES\tPASS RATE\tMEAN TOKENS\tTOTAL COST")
		for _, s := range out.Models {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f%%\t%.0f\t$%.4f\n",
				s.Model, s.Runs, s.Cases, s.PassRate*100, s.MeanTokens, s.TotalCostUSD)
		}
		return tw.Flush()
	}
	return nil
}

func writeMarkdown(out output, w io.Writer) error {
	for _, r := range out.Reports {
		fmt.Fprintf(w, "### %s (%s)\n\n", r.Model, r.RunID)
		fmt.Fprintln(w, "| Class | Size | Expected | Extracted | Result | Tokens | Cost |")
		fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
		for _, pr := range r.Results {
			res := "✅"
			if !pr.Success {
				res = "❌"
			}
			fmt.Fprintf(w, "| %s | %s | `%s` | `%s` | %s | %d | %s |\n",
				pr.SizeClass, fixture.FormatSize(pr.FileSize), pr.ExpectedCode, orDash(pr.ExtractedCode),
				res, pr.Usage.TotalTokens, costString(pr.CostUSD))
		}
		fmt.Fprintf(w, "\n**%d/%d passed**\n\n", r.Passed, r.Total)
	}
	if len(out.CacheProbes) > 0 {
		fmt.Fprintln(w, "| Probe | Model | Control | First | Second | Classification |")
		fmt.Fprintln(w, "|---|---|---|---|---|---|")
		for _, p := range out.CacheProbes {
			fmt.Fprintf(w, "| %s | %s | %t | %d | %d | %s |\n",
				p.Label, p.Model, p.Control, p.CachedFirst, p.CachedSecond, p.Classification)
		}
	}
	return nil
}

func writeJSON(out output, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
