package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	reportFile     = "report.json"
	cacheProbeFile = "cache-probe.json"
)

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

func WriteReport(runDir string, report *BatchRunReport) error {
	return writeJSON(filepath.Join(runDir, reportFile), report)
}

func ReadReport(runDir string) (*BatchRunReport, error) {
	var report BatchRunReport
	if err := readJSON(filepath.Join(runDir, reportFile), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func WriteCacheProbe(runDir string, pair *CacheProbePair) error {
	return writeJSON(filepath.Join(runDir, cacheProbeFile), pair)
}

func ReadCacheProbe(runDir string) (*CacheProbePair, error) {
	var pair CacheProbePair
	if err := readJSON(filepath.Join(runDir, cacheProbeFile), &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
