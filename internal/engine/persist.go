package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// PersistentStats holds cumulative statistics that survive restarts.
type PersistentStats struct {
	Runs           int64                      `json:"runs"`
	TotalLines     int64                      `json:"total_lines"`
	ValidRecords   int64                      `json:"valid_records"`
	Excluded       int64                      `json:"excluded"`
	ErrorsByReason map[ParseErrorReason]int64 `json:"errors_by_reason"`
	Interrupted    int64                      `json:"interrupted"`
}

// SystemStats contains high-level service metrics for the API response.
type SystemStats struct {
	IngestionRate  float64                    `json:"ingestion_rate"` // lines/sec
	LinesInFlight  int64                      `json:"lines_in_flight"`
	Runs           int64                      `json:"runs"`
	TotalLines     int64                      `json:"total_lines"`
	ValidRecords   int64                      `json:"valid_records"`
	ParseErrors    int64                      `json:"parse_errors"`
	ErrorsByReason map[ParseErrorReason]int64 `json:"errors_by_reason"`
	DiskUsage      int64                      `json:"disk_usage"` // bytes
}

// statsFileName is the filename for persisted stats
const statsFileName = ".tailstat.stats"

// StatsStore accumulates report totals and persists them under dataDir.
// An empty dataDir keeps the totals in memory only.
type StatsStore struct {
	dataDir  string
	progress *Progress

	mu    sync.RWMutex
	stats PersistentStats
}

// OpenStatsStore loads previously persisted totals, if any.
func OpenStatsStore(dataDir string, progress *Progress) *StatsStore {
	return &StatsStore{
		dataDir:  dataDir,
		progress: progress,
		stats:    loadPersistentStats(dataDir),
	}
}

// Record adds the totals of one finished report and persists them.
func (s *StatsStore) Record(r *Report) error {
	s.mu.Lock()
	s.stats.Runs++
	s.stats.TotalLines += r.TotalLines
	s.stats.ValidRecords += r.ValidRecords
	s.stats.Excluded += r.Excluded
	for reason, n := range r.ErrorsByReason {
		s.stats.ErrorsByReason[reason] += n
	}
	if r.Interrupted {
		s.stats.Interrupted++
	}
	snapshot := s.copyLocked()
	s.mu.Unlock()

	if s.dataDir == "" {
		return nil
	}
	return savePersistentStats(s.dataDir, snapshot)
}

// Stats merges the persisted totals with live progress.
func (s *StatsStore) Stats() SystemStats {
	s.mu.RLock()
	disk := s.copyLocked()
	s.mu.RUnlock()

	stats := SystemStats{
		Runs:           disk.Runs,
		TotalLines:     disk.TotalLines,
		ValidRecords:   disk.ValidRecords,
		ErrorsByReason: disk.ErrorsByReason,
	}
	for _, n := range disk.ErrorsByReason {
		stats.ParseErrors += n
	}
	if s.progress != nil {
		stats.IngestionRate = s.progress.Rate()
		stats.LinesInFlight = s.progress.Lines()
	}

	if s.dataDir != "" {
		var size int64
		_ = filepath.Walk(s.dataDir, func(_ string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				size += info.Size()
			}
			return nil
		})
		stats.DiskUsage = size
	}
	return stats
}

func (s *StatsStore) copyLocked() PersistentStats {
	out := s.stats
	out.ErrorsByReason = make(map[ParseErrorReason]int64, len(s.stats.ErrorsByReason))
	for k, v := range s.stats.ErrorsByReason {
		out.ErrorsByReason[k] = v
	}
	return out
}

// loadPersistentStats reads stats from disk.
func loadPersistentStats(dataDir string) PersistentStats {
	stats := PersistentStats{ErrorsByReason: make(map[ParseErrorReason]int64)}
	if dataDir == "" {
		return stats
	}

	data, err := os.ReadFile(filepath.Join(dataDir, statsFileName))
	if err != nil {
		return stats
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		// Corrupted file, start over
		return PersistentStats{ErrorsByReason: make(map[ParseErrorReason]int64)}
	}
	if stats.ErrorsByReason == nil {
		stats.ErrorsByReason = make(map[ParseErrorReason]int64)
	}
	return stats
}

// savePersistentStats writes stats to disk atomically.
func savePersistentStats(dataDir string, stats PersistentStats) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dataDir, statsFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
