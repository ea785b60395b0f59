package metrics

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/events"
	"github.com/foxzi/courier/internal/models"
	"github.com/foxzi/courier/internal/storage"
)

// CampaignCounter reports stored campaigns per status
type CampaignCounter interface {
	CountByStatus(ctx context.Context) (map[models.CampaignStatus]int, error)
}

var bucketMetrics = []byte("metrics")

// ShadowCounters stores counter values for persistence
type ShadowCounters struct {
	CampaignTransitions map[string]float64 `json:"campaign_transitions"`
	MessagesSent        map[string]float64 `json:"messages_sent"`
	MessagesFailed      map[string]float64 `json:"messages_failed"`
	RemindersRecorded   map[string]float64 `json:"reminders_recorded"`
	SchedulerFaults     float64            `json:"scheduler_faults"`
	APIRequests         map[string]float64 `json:"api_requests"`
	APIErrors           map[string]float64 `json:"api_errors"`
	RateLimitExceeded   map[string]float64 `json:"ratelimit_exceeded"`
}

// Collector persists counters across restarts, turns bus events into
// metric updates and refreshes system gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	campaigns     CampaignCounter
	flushInterval time.Duration
	startTime     time.Time

	shadow ShadowCounters
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, campaigns CampaignCounter, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		campaigns:     campaigns,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		shadow: ShadowCounters{
			CampaignTransitions: make(map[string]float64),
			MessagesSent:        make(map[string]float64),
			MessagesFailed:      make(map[string]float64),
			RemindersRecorded:   make(map[string]float64),
			APIRequests:         make(map[string]float64),
			APIErrors:           make(map[string]float64),
			RateLimitExceeded:   make(map[string]float64),
		},
		stopCh: make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Metrics returns the underlying metric set
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// Handle is an events.Handler
func (c *Collector) Handle(e events.Event) {
	switch ev := e.(type) {
	case events.CampaignTransitioned:
		c.TrackCampaignTransition(ev.To)
	case events.CampaignDispatched:
		c.metrics.CampaignDispatchSeconds.Observe(ev.Duration.Seconds())
	case events.MessageAttempted:
		if ev.OK {
			c.TrackMessageSent(ev.Source, ev.Channel)
		} else {
			c.TrackMessageFailed(ev.Source, ev.Channel)
		}
	case events.ReminderRecorded:
		c.TrackReminderRecorded(ev.Tier)
	case events.SchedulerTicked:
		c.metrics.SchedulerTickSeconds.Observe(ev.Duration.Seconds())
		c.metrics.LastSchedulerTick.SetToCurrentTime()
		if ev.Fault != nil {
			c.TrackSchedulerFault()
		}
	case events.SendRateLimited:
		c.TrackRateLimitExceeded(ev.Channel, ev.Level)
	}
}

func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte("counters"))
		if data == nil {
			return nil
		}

		var shadow ShadowCounters
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		for k, v := range shadow.CampaignTransitions {
			c.shadow.CampaignTransitions[k] = v
			c.metrics.CampaignTransitionsTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.MessagesSent {
			source, ch := splitLabelKey(k)
			c.shadow.MessagesSent[k] = v
			c.metrics.MessagesSentTotal.WithLabelValues(source, ch).Add(v)
		}
		for k, v := range shadow.MessagesFailed {
			source, ch := splitLabelKey(k)
			c.shadow.MessagesFailed[k] = v
			c.metrics.MessagesFailedTotal.WithLabelValues(source, ch).Add(v)
		}
		for k, v := range shadow.RemindersRecorded {
			c.shadow.RemindersRecorded[k] = v
			c.metrics.RemindersRecordedTotal.WithLabelValues(k).Add(v)
		}
		c.shadow.SchedulerFaults = shadow.SchedulerFaults
		c.metrics.SchedulerFaultsTotal.Add(shadow.SchedulerFaults)

		for k, v := range shadow.APIRequests {
			method, path, status := splitTripleLabelKey(k)
			c.shadow.APIRequests[k] = v
			c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Add(v)
		}
		for k, v := range shadow.APIErrors {
			c.shadow.APIErrors[k] = v
			c.metrics.APIErrorsTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.RateLimitExceeded {
			ch, level := splitLabelKey(k)
			c.shadow.RateLimitExceeded[k] = v
			c.metrics.RateLimitExceededTotal.WithLabelValues(ch, level).Add(v)
		}

		return nil
	})
}

func (c *Collector) persistCounters() error {
	c.mu.Lock()
	data, err := json.Marshal(c.shadow)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put([]byte("counters"), data)
	})
}

func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))
	c.metrics.StorageUsedBytes.Set(float64(storage.Size(c.db)))

	if c.campaigns != nil {
		counts, err := c.campaigns.CountByStatus(ctx)
		if err == nil {
			for _, status := range models.Statuses {
				c.metrics.CampaignsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
			}
		}
	}
}

// TrackCampaignTransition counts a transition into status
func (c *Collector) TrackCampaignTransition(status string) {
	c.mu.Lock()
	c.shadow.CampaignTransitions[status]++
	c.mu.Unlock()
	c.metrics.CampaignTransitionsTotal.WithLabelValues(status).Inc()
}

// TrackMessageSent tracks a sent message and updates shadow counter
func (c *Collector) TrackMessageSent(source, ch string) {
	c.mu.Lock()
	c.shadow.MessagesSent[makeLabelKey(source, ch)]++
	c.mu.Unlock()
	c.metrics.MessagesSentTotal.WithLabelValues(source, ch).Inc()
}

// TrackMessageFailed tracks a failed message and updates shadow counter
func (c *Collector) TrackMessageFailed(source, ch string) {
	c.mu.Lock()
	c.shadow.MessagesFailed[makeLabelKey(source, ch)]++
	c.mu.Unlock()
	c.metrics.MessagesFailedTotal.WithLabelValues(source, ch).Inc()
}

// TrackReminderRecorded counts a completed ledger entry
func (c *Collector) TrackReminderRecorded(tier string) {
	c.mu.Lock()
	c.shadow.RemindersRecorded[tier]++
	c.mu.Unlock()
	c.metrics.RemindersRecordedTotal.WithLabelValues(tier).Inc()
}

// TrackSchedulerFault counts a failed reminder scan
func (c *Collector) TrackSchedulerFault() {
	c.mu.Lock()
	c.shadow.SchedulerFaults++
	c.mu.Unlock()
	c.metrics.SchedulerFaultsTotal.Inc()
}

// TrackAPIRequest tracks an API request and updates shadow counter
func (c *Collector) TrackAPIRequest(method, path, status string) {
	key := makeTripleLabelKey(method, path, status)
	c.mu.Lock()
	c.shadow.APIRequests[key]++
	c.mu.Unlock()
	c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// TrackAPIError tracks an API error and updates shadow counter
func (c *Collector) TrackAPIError(errorType string) {
	c.mu.Lock()
	c.shadow.APIErrors[errorType]++
	c.mu.Unlock()
	c.metrics.APIErrorsTotal.WithLabelValues(errorType).Inc()
}

// TrackRateLimitExceeded tracks rate limit exceeded and updates shadow counter
func (c *Collector) TrackRateLimitExceeded(ch, level string) {
	c.mu.Lock()
	c.shadow.RateLimitExceeded[makeLabelKey(ch, level)]++
	c.mu.Unlock()
	c.metrics.RateLimitExceededTotal.WithLabelValues(ch, level).Inc()
}

func makeLabelKey(a, b string) string {
	return a + "|" + b
}

func splitLabelKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func makeTripleLabelKey(a, b, c string) string {
	return a + "|" + b + "|" + c
}

func splitTripleLabelKey(key string) (string, string, string) {
	a, rest, _ := strings.Cut(key, "|")
	b, c, _ := strings.Cut(rest, "|")
	return a, b, c
}
