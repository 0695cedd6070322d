package fixture

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrFixtureNotFound  = errors.New("fixture not found")
	ErrMetadataNotFound = errors.New("fixture metadata not found")
	ErrMetadataCorrupt  = errors.New("fixture metadata corrupt")
)

// SizeClass tags a fixture, e.g. "small" or "xlarge".
type SizeClass string

// DefaultClasses is the ordered set a batch run covers when none is configured.
var DefaultClasses = []SizeClass{"small", "medium", "large", "xlarge"}

var (
	classPattern = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	codePattern  = regexp.MustCompile(`^[A-Z]+-[A-Z0-9]{5}$`)
)

// Metadata is the sidecar record stored next to each PDF. Field names match
// existing fixture sets and must not change.
type Metadata struct {
	VerificationCode string `json:"verificationCode"`
	Description      string `json:"description,omitempty"`
	Size             string `json:"size,omitempty"`
	Type             string `json:"type,omitempty"`
	Purpose          string `json:"purpose,omitempty"`
	Regression       string `json:"regression,omitempty"`
}

// Store reads fixtures from a directory laid out as test-<class>.pdf plus
// test-<class>.json. It never writes.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) pdfPath(class SizeClass) string {
	return filepath.Join(s.root, "test-"+string(class)+".pdf")
}

func (s *Store) metaPath(class SizeClass) string {
	return filepath.Join(s.root, "test-"+string(class)+".json")
}

// Resolve maps a size class to its PDF path.
func (s *Store) Resolve(class SizeClass) (string, error) {
	if !classPattern.MatchString(string(class)) {
		return "", fmt.Errorf("%w: invalid size class %q", ErrFixtureNotFound, class)
	}
	path := s.pdfPath(class)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFixtureNotFound, path)
		}
		return "", fmt.Errorf("stat fixture %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrFixtureNotFound, path)
	}
	return path, nil
}

// ReadBytes loads the raw PDF payload.
func (s *Store) ReadBytes(class SizeClass) ([]byte, error) {
	path, err := s.Resolve(class)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	return data, nil
}

// ReadDataURI returns the fixture as a data:application/pdf;base64 URI.
// Repeated calls return identical strings.
func (s *Store) ReadDataURI(class SizeClass) (string, error) {
	data, err := s.ReadBytes(class)
	if err != nil {
		return "", err
	}
	return DataURI(data), nil
}

// DataURI base64-encodes a PDF payload into a data URI.
func DataURI(data []byte) string {
	const prefix = "data:application/pdf;base64,"
	var b strings.Builder
	b.Grow(len(prefix) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(prefix)
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// ReadMetadata loads and validates the sidecar record.
func (s *Store) ReadMetadata(class SizeClass) (*Metadata, error) {
	if !classPattern.MatchString(string(class)) {
		return nil, fmt.Errorf("%w: invalid size class %q", ErrMetadataNotFound, class)
	}
	path := s.metaPath(class)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMetadataNotFound, path)
		}
		return nil, fmt.Errorf("reading metadata %s: %w", path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadataCorrupt, path, err)
	}
	if meta.VerificationCode == "" {
		return nil, fmt.Errorf("%w: %s: verificationCode is required", ErrMetadataCorrupt, path)
	}
	if !codePattern.MatchString(meta.VerificationCode) {
		return nil, fmt.Errorf("%w: %s: malformed verificationCode %q", ErrMetadataCorrupt, path, meta.VerificationCode)
	}
	return &meta, nil
}

// ReadExpectedCode returns the verification code embedded in the fixture.
func (s *Store) ReadExpectedCode(class SizeClass) (string, error) {
	meta, err := s.ReadMetadata(class)
	if err != nil {
		return "", err
	}
	return meta.VerificationCode, nil
}

func (s *Store) FileSize(class SizeClass) (int64, error) {
	path, err := s.Resolve(class)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat fixture %s: %w", path, err)
	}
	return info.Size(), nil
}

// Fingerprint is the hex xxhash64 of the fixture bytes.
func (s *Store) Fingerprint(class SizeClass) (string, error) {
	data, err := s.ReadBytes(class)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

// Classes lists the size classes that have a PDF in the store, in canonical
// order: the default classes first, then anything else alphabetically.
func (s *Store) Classes() ([]SizeClass, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "test-*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("listing fixtures: %w", err)
	}
	var classes []SizeClass
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "test-"), ".pdf")
		if classPattern.MatchString(name) {
			classes = append(classes, SizeClass(name))
		}
	}
	SortClasses(classes)
	return classes, nil
}

// SortClasses orders classes small < medium < large < xlarge < others.
func SortClasses(classes []SizeClass) {
	rank := func(c SizeClass) int {
		for i, d := range DefaultClasses {
			if c == d {
				return i
			}
		}
		return len(DefaultClasses)
	}
	sort.SliceStable(classes, func(i, j int) bool {
		ri, rj := rank(classes[i]), rank(classes[j])
		if ri != rj {
			return ri < rj
		}
		return classes[i] < classes[j]
	})
}

// EncodedSize is the length of n bytes after base64 encoding, excluding the
// data URI prefix.
func EncodedSize(n int64) int64 {
	return (n + 2) / 3 * 4
}

// FormatSize renders KB below 1 MiB and MB with one decimal otherwise.
func FormatSize(n int64) string {
	const mib = 1024 * 1024
	if n < mib {
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/mib)
}
