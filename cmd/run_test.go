package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalnine/docprobe/internal/config"
	"github.com/signalnine/docprobe/internal/fixture"
	"github.com/signalnine/docprobe/internal/remote"
	"github.com/signalnine/docprobe/internal/result"
)

func TestSelectClasses(t *testing.T) {
	configured := []string{"small", "medium", "large", "xlarge"}
	tests := []struct {
		name  string
		sizes []string
		want  []fixture.SizeClass
	}{
		{"no sizes keeps configured order", nil, []fixture.SizeClass{"small", "medium", "large", "xlarge"}},
		{"sizes in given order", []string{"large", "small"}, []fixture.SizeClass{"large", "small"}},
		{"case and whitespace folded", []string{" LARGE ", "Small"}, []fixture.SizeClass{"large", "small"}},
		{"duplicates dropped", []string{"small", "small", "medium"}, []fixture.SizeClass{"small", "medium"}},
		{"unknown kept", []string{"huge"}, []fixture.SizeClass{"huge"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectClasses(configured, tt.sizes)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("selectClasses(%v) = %v, want %v", tt.sizes, got, tt.want)
			}
		})
	}
}

func TestApplyRunOverrides(t *testing.T) {
	defer func() { flagModel, flagEngine, flagParallel = "", "", -1 }()

	cfg := config.Default()
	flagModel, flagEngine, flagParallel = "openai/gpt-4o", "mistral-ocr", 0
	if err := applyRunOverrides(cfg); err != nil {
		t.Fatalf("applyRunOverrides: %v", err)
	}
	if cfg.Model != "openai/gpt-4o" || cfg.Engine != "mistral-ocr" || cfg.Concurrency != 0 {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	flagEngine = "tesseract"
	if err := applyRunOverrides(cfg); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestDefaultCachePrefixIsStableAndCacheable(t *testing.T) {
	a, b := defaultCachePrefix(), defaultCachePrefix()
	if a != b {
		t.Fatal("default prefix changes between calls")
	}
	if n := remote.NewTokenCounter().Count(a); n < remote.MinCacheableTokens {
		t.Errorf("default prefix has %d tokens, want at least %d", n, remote.MinCacheableTokens)
	}
}

var fixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestProbeRequestBuilder(t *testing.T) {
	cfg := config.Default()
	build := probeRequestBuilder(cfg, "prefix", "", "", false, fixedTime)
	first, second := build(), build()
	if !reflect.DeepEqual(first, second) {
		t.Error("builder returned different requests")
	}
	if !first.Options.CacheControl {
		t.Error("cache directive missing on non-control probe")
	}
	if first.Instruction != defaultProbeInstruction {
		t.Errorf("instruction = %q", first.Instruction)
	}

	control := probeRequestBuilder(cfg, "prefix", "", "", true, fixedTime)()
	if control.Options.CacheControl {
		t.Error("control probe must not send a cache directive")
	}
}

var codes = map[string]string{
	"small":  "SMALL-7X9Q2",
	"medium": "MEDIUM-K4P8R",
}

// fakeRouter answers chat completions with the code of whichever fixture the
// request carries, or reports cached tokens on every call after the first.
func fakeRouter(t *testing.T, wrong string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		answer := "OK"
		for class, code := range codes {
			if bytes.Contains(body, []byte(`"test-`+class+`.pdf"`)) {
				answer = "The code is " + code
				if class == wrong {
					answer = "The code is " + strings.ToUpper(class) + "-00000"
				}
			}
		}
		cached := 0
		if n > 1 {
			cached = 1500
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"model":"test/model","choices":[{"message":{"role":"assistant","content":%q}}],
			"usage":{"prompt_tokens":2000,"completion_tokens":5,"total_tokens":2005,"prompt_tokens_details":{"cached_tokens":%d}}}`, answer, cached)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func setupWorkspace(t *testing.T, baseURL string) (cfgPath, resultsDir string) {
	t.Helper()
	dir := t.TempDir()
	fixtures := filepath.Join(dir, "fixtures")
	resultsDir = filepath.Join(dir, "results")
	if err := os.MkdirAll(fixtures, 0o755); err != nil {
		t.Fatal(err)
	}
	for class, code := range codes {
		if err := os.WriteFile(filepath.Join(fixtures, "test-"+class+".pdf"), []byte("%PDF "+code), 0o644); err != nil {
			t.Fatal(err)
		}
		meta := fmt.Sprintf(`{"verificationCode":%q,"type":"text"}`, code)
		if err := os.WriteFile(filepath.Join(fixtures, "test-"+class+".json"), []byte(meta), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfgPath = filepath.Join(dir, "docprobe.yaml")
	cfg := fmt.Sprintf(`model: test/model
fixtures:
  dir: %s
  classes: [small, medium]
cache_probe:
  delay: 1ms
results:
  dir: %s
`, fixtures, resultsDir)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.APIKeyEnv, "test-key")
	t.Setenv(config.BaseURLEnv, baseURL)
	return cfgPath, resultsDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommandPasses(t *testing.T) {
	srv, calls := fakeRouter(t, "")
	cfgPath, resultsDir := setupWorkspace(t, srv.URL)

	out, err := execute(t, "--config", cfgPath, "run")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
	if !strings.Contains(out, "2/2 passed") {
		t.Errorf("missing summary in output:\n%s", out)
	}

	rep, err := result.ReadReport(filepath.Join(resultsDir, "latest"))
	if err != nil {
		t.Fatalf("reading saved report: %v", err)
	}
	if rep.RunID == "" || rep.Model != "test/model" || rep.Passed != 2 {
		t.Errorf("unexpected saved report: %+v", rep)
	}
}

func TestRunCommandFailureExitsNonZero(t *testing.T) {
	srv, _ := fakeRouter(t, "medium")
	cfgPath, _ := setupWorkspace(t, srv.URL)

	out, err := execute(t, "--config", cfgPath, "run", "--no-save")
	if !errors.Is(err, ErrChecksFailed) {
		t.Fatalf("err = %v, want ErrChecksFailed", err)
	}
	if !strings.Contains(out, "1/2 passed") {
		t.Errorf("missing summary in output:\n%s", out)
	}
	if !strings.Contains(out, "extracted MEDIUM-00000, expected MEDIUM-K4P8R") {
		t.Errorf("missing mismatch reason in output:\n%s", out)
	}
}

func TestRunCommandMissingAPIKey(t *testing.T) {
	srv, calls := fakeRouter(t, "")
	cfgPath, _ := setupWorkspace(t, srv.URL)
	t.Setenv(config.APIKeyEnv, "")

	_, err := execute(t, "--config", cfgPath, "run")
	if !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server saw %d calls before the configuration error", calls.Load())
	}
}

func TestCacheProbeCommand(t *testing.T) {
	srv, calls := fakeRouter(t, "")
	cfgPath, resultsDir := setupWorkspace(t, srv.URL)

	out, err := execute(t, "--config", cfgPath, "cache-probe", "--label", "sonnet")
	if err != nil {
		t.Fatalf("cache-probe: %v\n%s", err, out)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
	if !strings.Contains(out, "[PASS] "+string(result.CacheWorking)) {
		t.Errorf("unexpected output:\n%s", out)
	}

	pair, err := result.ReadCacheProbe(filepath.Join(resultsDir, "latest"))
	if err != nil {
		t.Fatalf("reading saved probe: %v", err)
	}
	if pair.Label != "sonnet" || pair.CachedSecond != 1500 || !pair.BodiesIdentical {
		t.Errorf("unexpected saved probe: %+v", pair)
	}
}

func TestCacheProbeControlFailsWhenCacheHits(t *testing.T) {
	srv, _ := fakeRouter(t, "")
	cfgPath, _ := setupWorkspace(t, srv.URL)

	out, err := execute(t, "--config", cfgPath, "cache-probe", "--control", "--save=false")
	if !errors.Is(err, ErrChecksFailed) {
		t.Fatalf("err = %v, want ErrChecksFailed", err)
	}
	if !strings.Contains(out, string(result.ControlInvalid)) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestListCommand(t *testing.T) {
	srv, _ := fakeRouter(t, "")
	cfgPath, _ := setupWorkspace(t, srv.URL)

	out, err := execute(t, "--config", cfgPath, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"SMALL-7X9Q2", "MEDIUM-K4P8R", "small", "medium"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestReportCommandJSON(t *testing.T) {
	srv, _ := fakeRouter(t, "")
	cfgPath, _ := setupWorkspace(t, srv.URL)

	if _, err := execute(t, "--config", cfgPath, "run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err := execute(t, "--config", cfgPath, "report", "--format", "json")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var parsed struct {
		Reports []result.BatchRunReport `json:"reports"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("report output is not JSON: %v\n%s", err, out)
	}
	if len(parsed.Reports) != 1 || parsed.Reports[0].Passed != 2 {
		t.Errorf("unexpected report: %+v", parsed.Reports)
	}
}
