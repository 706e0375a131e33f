package engine

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunCleaner periodically removes partial snapshots in dir older than
// retention, until ctx is done.
func RunCleaner(ctx context.Context, dir string, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Cleaner started. Retention: %v, Interval: %v", retention, interval)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			PurgeExpiredPartials(dir, now.Add(-retention))
		}
	}
}

// PurgeExpiredPartials deletes partial snapshots last modified before
// threshold and returns how many were removed.
func PurgeExpiredPartials(dir string, threshold time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleaner error: failed to read %s: %v", dir, err)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), PartialExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Printf("Cleaner error: failed to delete %s: %v", entry.Name(), err)
			continue
		}
		log.Printf("Expired partial deleted: %s", entry.Name())
		removed++
	}
	return removed
}
