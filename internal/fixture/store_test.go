package fixture_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/docprobe/internal/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, class string, pdf []byte, meta string) {
	t.Helper()
	if pdf != nil {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "test-"+class+".pdf"), pdf, 0o644))
	}
	if meta != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "test-"+class+".json"), []byte(meta), 0o644))
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "small", []byte("%PDF-1.4 small"), `{"verificationCode":"SMALL-7X9Q2"}`)
	store := fixture.NewStore(dir)

	path, err := store.Resolve("small")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test-small.pdf"), path)

	_, err = store.Resolve("large")
	assert.ErrorIs(t, err, fixture.ErrFixtureNotFound)

	_, err = store.Resolve("../etc")
	assert.ErrorIs(t, err, fixture.ErrFixtureNotFound)

	_, err = store.Resolve("")
	assert.ErrorIs(t, err, fixture.ErrFixtureNotFound)
}

func TestReadDataURI(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("%PDF-1.4\x00\x01\x02binary")
	writeFixture(t, dir, "small", payload, "")
	store := fixture.NewStore(dir)

	first, err := store.ReadDataURI("small")
	require.NoError(t, err)
	second, err := store.ReadDataURI("small")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.True(t, strings.HasPrefix(first, "data:application/pdf;base64,"))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(first, "data:application/pdf;base64,"))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestReadDataURILargeFile(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef, 0x42}, 11*1024*1024/5)
	writeFixture(t, dir, "xlarge", payload, "")
	store := fixture.NewStore(dir)

	uri, err := store.ReadDataURI("xlarge")
	require.NoError(t, err)
	encoded := strings.TrimPrefix(uri, "data:application/pdf;base64,")
	assert.Equal(t, fixture.EncodedSize(int64(len(payload))), int64(len(encoded)))
}

func TestReadExpectedCode(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "small", []byte("pdf"), `{
  "verificationCode": "SMALL-7X9Q2",
  "description": "Small test PDF",
  "size": "33KB",
  "type": "text",
  "purpose": "baseline",
  "regression": "pdf-text engine dropped page 2 once"
}`)
	writeFixture(t, dir, "medium", []byte("pdf"), `not json`)
	writeFixture(t, dir, "large", []byte("pdf"), `{"description":"no code"}`)
	writeFixture(t, dir, "xlarge", []byte("pdf"), `{"verificationCode":"xlarge-abc"}`)
	store := fixture.NewStore(dir)

	code, err := store.ReadExpectedCode("small")
	require.NoError(t, err)
	assert.Equal(t, "SMALL-7X9Q2", code)

	meta, err := store.ReadMetadata("small")
	require.NoError(t, err)
	assert.Equal(t, "pdf-text engine dropped page 2 once", meta.Regression)
	assert.Equal(t, "baseline", meta.Purpose)

	_, err = store.ReadExpectedCode("medium")
	assert.ErrorIs(t, err, fixture.ErrMetadataCorrupt)

	_, err = store.ReadExpectedCode("large")
	assert.ErrorIs(t, err, fixture.ErrMetadataCorrupt)

	_, err = store.ReadExpectedCode("xlarge")
	assert.ErrorIs(t, err, fixture.ErrMetadataCorrupt)

	_, err = store.ReadExpectedCode("tiny")
	assert.ErrorIs(t, err, fixture.ErrMetadataNotFound)
}

func TestFileSizeAndFingerprint(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "small", []byte("0123456789"), "")
	writeFixture(t, dir, "medium", []byte("0123456789"), "")
	writeFixture(t, dir, "large", []byte("9876543210"), "")
	store := fixture.NewStore(dir)

	size, err := store.FileSize("small")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	a, err := store.Fingerprint("small")
	require.NoError(t, err)
	b, err := store.Fingerprint("medium")
	require.NoError(t, err)
	c, err := store.Fingerprint("large")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestClasses(t *testing.T) {
	dir := t.TempDir()
	for _, c := range []string{"xlarge", "custom", "small", "large", "medium"} {
		writeFixture(t, dir, c, []byte("pdf"), "")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("x"), 0o644))

	classes, err := fixture.NewStore(dir).Classes()
	require.NoError(t, err)
	assert.Equal(t, []fixture.SizeClass{"small", "medium", "large", "xlarge", "custom"}, classes)
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{33 * 1024, "33.0 KB"},
		{1023 * 1024, "1023.0 KB"},
		{1024 * 1024, "1.0 MB"},
		{11 * 1024 * 1024, "11.0 MB"},
		{1536 * 1024, "1.5 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fixture.FormatSize(tt.n), "FormatSize(%d)", tt.n)
	}
}

func TestEncodedSize(t *testing.T) {
	assert.Equal(t, int64(0), fixture.EncodedSize(0))
	assert.Equal(t, int64(4), fixture.EncodedSize(1))
	assert.Equal(t, int64(4), fixture.EncodedSize(3))
	assert.Equal(t, int64(8), fixture.EncodedSize(4))
}
