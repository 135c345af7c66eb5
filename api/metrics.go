package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertExchangeFailureSpike AlertType = "exchange_failure_spike"
	AlertProviderErrorSpike   AlertType = "provider_error_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingWindow counts events inside a trailing time window.
type slidingWindow struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

// add records an event at now and reports the count if it reached the
// threshold. The window is reset after firing.
func (s *slidingWindow) add(now time.Time) (int, bool) {
	s.times = append(s.times, now)
	s.times = trimWindow(s.times, now, s.window)
	if len(s.times) < s.threshold {
		return 0, false
	}
	n := len(s.times)
	s.times = s.times[:0]
	return n, true
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	exchangeFailures slidingWindow
	providerErrors   slidingWindow

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultExchangeFailureWindow    = 1 * time.Minute
	defaultExchangeFailureThreshold = 20
	defaultProviderErrorWindow      = 5 * time.Minute
	defaultProviderErrorThreshold   = 50
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		exchangeFailures: slidingWindow{window: defaultExchangeFailureWindow, threshold: defaultExchangeFailureThreshold},
		providerErrors:   slidingWindow{window: defaultProviderErrorWindow, threshold: defaultProviderErrorThreshold},
		alertFn:          alertFn,
		now:              time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditOAuthFailure:
		m.record(&m.exchangeFailures, AlertExchangeFailureSpike, "code exchange failure rate exceeds threshold")
	case AuditOAuthProviderError:
		m.record(&m.providerErrors, AlertProviderErrorSpike, "provider error rate exceeds threshold")
	}
}

func (m *metricsCollector) record(w *slidingWindow, typ AlertType, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n, fire := w.add(now)
	if !fire {
		return
	}
	m.alertFn(AlertEvent{
		Type:      typ,
		Message:   msg,
		Count:     n,
		Threshold: w.threshold,
		Timestamp: now,
	})
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
