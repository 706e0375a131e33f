package engine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// PartialExt is the file extension of stored partial snapshots.
const PartialExt = ".tsp"

// FlushFunc writes a partial to a file.
// This allows the engine package to not depend on storage package directly.
type FlushFunc func(path string, p *Partial) error

// FlushPartial stores p in dir using the provided writer function and
// returns the file path.
// Filename format: partial_{Shard}.tsp
func FlushPartial(p *Partial, dir string, writerFn FlushFunc) (string, error) {
	return FlushPartialAs(p, dir, "", writerFn)
}

// FlushPartialAs is FlushPartial with a filename prefix, for callers that
// spool partials of the same shard number more than once.
func FlushPartialAs(p *Partial, dir, prefix string, writerFn FlushFunc) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%spartial_%04d%s", prefix, p.Shard, PartialExt)
	path := filepath.Join(dir, filename)

	if err := writerFn(path, p); err != nil {
		return "", fmt.Errorf("flush %s: %w", filename, err)
	}

	log.Printf("Flushed partial: %s (%d lines)", filename, p.Counts.TotalLines)
	return path, nil
}
