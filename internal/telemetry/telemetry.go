// Package telemetry keeps a bounded in-memory history of request usage for
// the /stats endpoint and optionally forwards each record to an external
// collector.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// historySize bounds the ring buffer; the oldest record is dropped
	// when a new one arrives at capacity.
	historySize = 1000

	forwardTimeout = 5 * time.Second
)

// Record is one completed request.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	User         string    `json:"user"`
	Model        string    `json:"model"`
	Endpoint     string    `json:"endpoint"`
	Status       int       `json:"status"`
	DurationMS   int64     `json:"duration_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Streaming    bool      `json:"streaming"`
}

// Snapshot is the aggregate view served by /stats.
type Snapshot struct {
	TotalRequests     int            `json:"total_requests"`
	TotalInputTokens  int            `json:"total_input_tokens"`
	TotalOutputTokens int            `json:"total_output_tokens"`
	AverageDurationMS float64        `json:"average_duration_ms"`
	RequestsByModel   map[string]int `json:"requests_by_model"`
	RequestsByStatus  map[string]int `json:"requests_by_status"`
	Recent            []Record       `json:"recent"`
}

type Collector struct {
	mu      sync.Mutex
	records []Record
	next    int
	full    bool

	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCollector builds a collector. endpoint may be empty, in which case
// records are only kept locally.
func NewCollector(endpoint string, logger *slog.Logger) *Collector {
	return &Collector{
		records:    make([]Record, historySize),
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: forwardTimeout},
		logger:     logger,
	}
}

// Add stores a record and, when an endpoint is configured, forwards it in
// the background. Forwarding failures are logged and never affect the
// request path.
func (c *Collector) Add(rec Record) {
	c.mu.Lock()
	c.records[c.next] = rec
	c.next = (c.next + 1) % historySize

	if c.next == 0 {
		c.full = true
	}
	c.mu.Unlock()

	if c.endpoint != "" {
		go c.forward(rec)
	}
}

func (c *Collector) forward(rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Telemetry forward failed", "error", err)
		return
	}

	resp.Body.Close()
}

// ordered returns the stored records oldest first.
func (c *Collector) ordered() []Record {
	if !c.full {
		return append([]Record(nil), c.records[:c.next]...)
	}

	out := make([]Record, 0, historySize)
	out = append(out, c.records[c.next:]...)
	out = append(out, c.records[:c.next]...)

	return out
}

// Snapshot aggregates the stored history. Recent holds the last 10 records,
// newest first.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	records := c.ordered()
	c.mu.Unlock()

	snap := Snapshot{
		TotalRequests:    len(records),
		RequestsByModel:  make(map[string]int),
		RequestsByStatus: make(map[string]int),
		Recent:           []Record{},
	}

	var totalDuration int64

	for _, rec := range records {
		snap.TotalInputTokens += rec.InputTokens
		snap.TotalOutputTokens += rec.OutputTokens
		totalDuration += rec.DurationMS
		snap.RequestsByModel[rec.Model]++
		snap.RequestsByStatus[strconv.Itoa(rec.Status)]++
	}

	if len(records) > 0 {
		snap.AverageDurationMS = float64(totalDuration) / float64(len(records))
	}

	recent := 10
	if len(records) < recent {
		recent = len(records)
	}

	for i := len(records) - 1; i >= len(records)-recent; i-- {
		snap.Recent = append(snap.Recent, records[i])
	}

	return snap
}
