package crawler

import (
	"net/http"
	"time"
)

// FrontierEntry is a pending URL. It lives in the durable store until a
// worker dequeues it.
type FrontierEntry struct {
	URL        string    `json:"url"`
	Priority   int       `json:"priority"`
	Depth      int       `json:"depth"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// HostState is the per-host politeness and outcome record.
type HostState struct {
	Host            string        `json:"host"`
	LastRequestTime time.Time     `json:"last_request_time,omitempty"`
	MinDelay        time.Duration `json:"min_delay"`
	RequestsToday   int64         `json:"requests_today"`
	ErrorsToday     int64         `json:"errors_today"`
}

// RobotsRuleSet is the cached robots.txt for a host. An empty Raw means
// allow everything.
type RobotsRuleSet struct {
	Raw      string        `json:"raw"`
	CachedAt time.Time     `json:"cached_at"`
	TTL      time.Duration `json:"ttl"`
}

// Expired reports whether the rule set is stale at now.
func (r RobotsRuleSet) Expired(now time.Time) bool {
	return !now.Before(r.CachedAt.Add(r.TTL))
}

// ConcurrencyState is a point-in-time view of the admission gate.
type ConcurrencyState struct {
	Current  int `json:"current"`
	Min      int `json:"min"`
	Max      int `json:"max"`
	InFlight int `json:"in_flight"`
}

// FetchRequest is what the engine asks a Fetcher for.
type FetchRequest struct {
	URL     string
	Depth   int
	Headers http.Header
}

// FetchResponse is a completed fetch. Body is already capped at the
// configured maximum; Truncated reports whether bytes were dropped.
type FetchResponse struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Truncated   bool
	ContentType string
	Duration    time.Duration
}

// Extraction is the structured record produced by the content extractor.
type Extraction struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Keywords    string         `json:"keywords,omitempty"`
	TextSample  string         `json:"text_sample,omitempty"`
	Links       []string       `json:"-"`
	Fields      map[string]any `json:"fields,omitempty"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// ResultRecord is handed to the storage collaborator for a fetched page.
type ResultRecord struct {
	RunID          string
	URL            string
	Domain         string
	Path           string
	Extraction     Extraction
	LinksCount     int
	Depth          int
	ResponseSize   int
	ResponseTimeMs int64
	StatusCode     int
	ContentType    string
	CrawledAt      time.Time
}

// ErrorRecord is handed to the storage collaborator for a failed fetch.
type ErrorRecord struct {
	RunID      string
	URL        string
	Domain     string
	Kind       ErrorKind
	Message    string
	StatusCode int
	RetryCount int
	OccurredAt time.Time
}
