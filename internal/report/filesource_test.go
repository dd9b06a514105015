package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestFileSourceDeliversEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	src := NewFileSource(dir, 45)
	ctx := context.Background()

	writeFile(t, dir, "a.json", `{"id":"r1","ticker":"ACME","stance":"buy","confidence":80,"published_at":"2026-08-27T12:00:00Z"}`)
	writeFile(t, dir, "b.json", `{"id":"r2","ticker":"ACME","stance":"SELL","confidence":70,"published_at":"2026-08-27T10:00:00Z"}`)

	reports, err := src.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	// Ordered by publication time, stances normalized.
	assert.Equal(t, "r2", reports[0].ID)
	assert.Equal(t, StanceSell, reports[0].Stance)
	assert.Equal(t, "r1", reports[1].ID)
	assert.Equal(t, StanceBuy, reports[1].Stance)

	// Second poll delivers nothing new.
	reports, err = src.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestFileSourceSkipsMalformedAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	src := NewFileSource(dir, 45)
	ctx := context.Background()

	writeFile(t, dir, "broken.json", `{not json`)
	writeFile(t, dir, "notes.txt", `ignore me`)
	writeFile(t, dir, "ok.json", `{"id":"r1","ticker":"ACME","stance":"BUY","confidence":120}`)

	reports, err := src.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "r1", reports[0].ID)
	assert.Equal(t, 100.0, reports[0].Confidence, "confidence clamped to [0,100]")

	// The malformed file stays skipped on later polls.
	reports, err = src.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestFileSourceMissingDirIsEmptyNotError(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope"), 45)
	reports, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestFileSourceFillsIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	src := NewFileSource(dir, 45)

	writeFile(t, dir, "2026-08-27.json", `{"ticker":"ACME","stance":"HOLD","confidence":50}`)
	reports, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "2026-08-27.json", reports[0].ID)
}

func TestFileSourceImpliesStanceFromConfidence(t *testing.T) {
	dir := t.TempDir()
	src := NewFileSource(dir, 45)

	writeFile(t, dir, "hold.json", `{"id":"r1","ticker":"ACME","confidence":60}`)
	writeFile(t, dir, "fade.json", `{"id":"r2","ticker":"ACME","confidence":40}`)

	reports, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	byID := map[string]Report{reports[0].ID: reports[0], reports[1].ID: reports[1]}
	assert.Equal(t, StanceHold, byID["r1"].Stance, "confidence above the watch line implies HOLD")
	assert.Equal(t, StanceFade, byID["r2"].Stance, "at or below implies FADE")
}

func TestNormalizeStance(t *testing.T) {
	assert.Equal(t, StanceBuy, NormalizeStance(" buy "))
	assert.Equal(t, StanceFade, NormalizeStance("fade"))
	assert.Equal(t, StanceHold, NormalizeStance("ACCUMULATE"), "unknown degrades to HOLD")
}

func TestImpliedStance(t *testing.T) {
	assert.Equal(t, StanceHold, ImpliedStance(50, 45))
	assert.Equal(t, StanceFade, ImpliedStance(45, 45))
	assert.Equal(t, StanceFade, ImpliedStance(10, 45))
}
