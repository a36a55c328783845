package processor

import (
	"sync/atomic"
	"time"
)

type ServiceMetrics struct {
	totalProcessed  int64
	totalFailed     int64
	totalDurationNs int64
	lastResetNs     int64
}

type MetricsSnapshot struct {
	TotalProcessed int64
	TotalFailed    int64
	RatePerSecond  float64
	AvgDuration    time.Duration
	Uptime         time.Duration
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{
		lastResetNs: time.Now().UnixNano(),
	}
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	atomic.AddInt64(&m.totalProcessed, 1)
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

func (m *ServiceMetrics) RecordFailure() {
	atomic.AddInt64(&m.totalFailed, 1)
}

func (m *ServiceMetrics) Snapshot() MetricsSnapshot {
	processed := atomic.LoadInt64(&m.totalProcessed)
	failed := atomic.LoadInt64(&m.totalFailed)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	lastResetNs := atomic.LoadInt64(&m.lastResetNs)

	uptime := time.Since(time.Unix(0, lastResetNs))

	s := MetricsSnapshot{
		TotalProcessed: processed,
		TotalFailed:    failed,
		Uptime:         uptime,
	}
	if secs := uptime.Seconds(); secs > 0 {
		s.RatePerSecond = float64(processed) / secs
	}
	if processed > 0 {
		s.AvgDuration = time.Duration(durationNs / processed)
	}
	return s
}

func (m *ServiceMetrics) Reset() {
	atomic.StoreInt64(&m.totalProcessed, 0)
	atomic.StoreInt64(&m.totalFailed, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.lastResetNs, time.Now().UnixNano())
}
