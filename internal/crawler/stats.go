package crawler

import (
	"sync/atomic"
	"time"
)

// CrawlStats counts attempt outcomes for one run.
type CrawlStats struct {
	processed  atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	discarded  atomic.Int64
	deferred   atomic.Int64
	start      time.Time
}

// StatsSnapshot is a copy of CrawlStats at one instant.
type StatsSnapshot struct {
	Processed     int64     `json:"processed"`
	Successful    int64     `json:"successful"`
	Failed        int64     `json:"failed"`
	Skipped       int64     `json:"skipped"`
	Discarded     int64     `json:"discarded"`
	Deferred      int64     `json:"deferred"`
	Start         time.Time `json:"start"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	PagesPerMin   float64   `json:"pages_per_minute"`
}

func newCrawlStats(start time.Time) *CrawlStats {
	return &CrawlStats{start: start}
}

// Snapshot copies the counters as of now.
func (s *CrawlStats) Snapshot(now time.Time) StatsSnapshot {
	snap := StatsSnapshot{
		Processed:  s.processed.Load(),
		Successful: s.successful.Load(),
		Failed:     s.failed.Load(),
		Skipped:    s.skipped.Load(),
		Discarded:  s.discarded.Load(),
		Deferred:   s.deferred.Load(),
		Start:      s.start,
	}
	if elapsed := now.Sub(s.start); elapsed > 0 {
		snap.UptimeSeconds = elapsed.Seconds()
		snap.PagesPerMin = float64(snap.Processed) / elapsed.Minutes()
	}
	return snap
}
