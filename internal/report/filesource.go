package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileSource reads report records from JSON files dropped into a
// directory, one report per file. It stands in for the RSS pipeline
// at the same interface boundary. Files already delivered in this
// process are skipped; durable dedup is the store's report table.
type FileSource struct {
	dir            string
	watchThreshold float64
	mu             sync.Mutex
	seen           map[string]bool
}

// NewFileSource reads reports from dir. watchThreshold drives the
// implied stance of records that carry only a confidence number.
func NewFileSource(dir string, watchThreshold float64) *FileSource {
	return &FileSource{dir: dir, watchThreshold: watchThreshold, seen: map[string]bool{}}
}

func (fs *FileSource) Poll(ctx context.Context) ([]Report, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read report dir: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []Report
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if fs.seen[e.Name()] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		b, err := os.ReadFile(filepath.Join(fs.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read report %s: %w", e.Name(), err)
		}
		var r Report
		if err := json.Unmarshal(b, &r); err != nil {
			// A malformed drop should not wedge the scan loop.
			fs.seen[e.Name()] = true
			continue
		}
		if r.ID == "" {
			r.ID = e.Name()
		}
		r.Confidence = ClampConfidence(r.Confidence)
		if r.Stance == "" {
			r.Stance = ImpliedStance(r.Confidence, fs.watchThreshold)
		} else {
			r.Stance = NormalizeStance(r.Stance)
		}
		fs.seen[e.Name()] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}
