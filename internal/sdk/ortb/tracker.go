package ortb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

const (
	// trackerWorkerCount is the number of concurrent tracker workers
	trackerWorkerCount = 2
	// trackerTimeout is the max time for one tracker request
	trackerTimeout = 2 * time.Second
)

// Tracker fires impression, click and win-notice URLs from a bounded
// worker pool. Firing never blocks the caller; URLs are dropped when the
// queue is full.
type Tracker struct {
	httpClient *http.Client
	queue      chan string
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	fired   atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewTracker creates a tracker and starts its workers
func NewTracker(httpClient *http.Client, queueSize int) *Tracker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: trackerTimeout}
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	t := &Tracker{
		httpClient: httpClient,
		queue:      make(chan string, queueSize),
	}
	for i := 0; i < trackerWorkerCount; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	return t
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for url := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), trackerTimeout)
		if err := t.send(ctx, url); err != nil {
			t.failed.Add(1)
			logger.Exchange().Debug().Err(err).Str("url", url).Msg("Tracker request failed")
		} else {
			t.fired.Add(1)
		}
		cancel()
	}
}

func (t *Tracker) send(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create tracker request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fire tracker: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("tracker returned status %d", resp.StatusCode)
	}
	return nil
}

// Fire queues urls. Empty entries are skipped.
func (t *Tracker) Fire(urls ...string) {
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if !t.enqueue(url) {
			t.dropped.Add(1)
		}
	}
}

// enqueue reports false when the queue is full or closed
func (t *Tracker) enqueue(url string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.queue <- url:
		return true
	default:
		return false
	}
}

// Close drains queued URLs and stops the workers
func (t *Tracker) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// TrackerStats contains tracker counters
type TrackerStats struct {
	Fired   int64 `json:"fired"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}

// Stats returns the tracker counters
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		Fired:   t.fired.Load(),
		Failed:  t.failed.Load(),
		Dropped: t.dropped.Load(),
		Queued:  len(t.queue),
	}
}
