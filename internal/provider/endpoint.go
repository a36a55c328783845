package provider

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// EndpointMetrics tracks the outcome and latency of requests to one base URL.
type EndpointMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64

	mu             sync.RWMutex
	latencyHistory []int64
	maxHistorySize int
}

func NewEndpointMetrics() *EndpointMetrics {
	return &EndpointMetrics{
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (m *EndpointMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.latencyHistory) >= m.maxHistorySize {
		m.latencyHistory = m.latencyHistory[1:]
	}
	m.latencyHistory = append(m.latencyHistory, latencyMs)
	m.mu.Unlock()
}

func (m *EndpointMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *EndpointMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *EndpointMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *EndpointMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	sorted := slices.Clone(m.latencyHistory)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type EndpointState int32

const (
	StateHealthy EndpointState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s EndpointState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Endpoint is one base URL of the calls API.
type Endpoint struct {
	name             string
	url              string
	client           *fasthttp.Client
	metrics          *EndpointMetrics
	state            atomic.Int32
	weight           atomic.Int32
	lastHealthCheck  atomic.Int64
	circuitOpenUntil atomic.Int64
}

func NewEndpoint(name, url string, weight int, client *fasthttp.Client) *Endpoint {
	e := &Endpoint{
		name:    name,
		url:     url,
		client:  client,
		metrics: NewEndpointMetrics(),
	}
	e.state.Store(int32(StateHealthy))
	e.weight.Store(int32(weight))
	return e
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) GetState() EndpointState {
	return EndpointState(e.state.Load())
}

func (e *Endpoint) SetState(state EndpointState) {
	e.state.Store(int32(state))
}

// IsAvailable half-opens an expired circuit as a side effect.
func (e *Endpoint) IsAvailable() bool {
	state := e.GetState()
	if state == StateCircuitOpen {
		if time.Now().Unix() > e.circuitOpenUntil.Load() {
			e.SetState(StateDegraded)
			return true
		}
		return false
	}
	return state != StateUnhealthy
}

// Score ranks endpoints; higher is better and zero means unusable.
func (e *Endpoint) Score() float64 {
	if !e.IsAvailable() {
		return 0.0
	}

	successScore := e.metrics.SuccessRate() * 100

	// 0ms scores 100, 5s and slower scores 0
	latencyScore := 100.0
	if avg := e.metrics.AvgLatencyMs(); avg > 0 {
		latencyScore = 100.0 * (1.0 - float64(avg)/5000.0)
		if latencyScore < 0 {
			latencyScore = 0
		}
	}

	recentPenalty := 1.0 - float64(e.metrics.ConsecutiveFails.Load())*0.1
	if recentPenalty < 0.1 {
		recentPenalty = 0.1
	}

	statePenalty := 1.0
	if e.GetState() == StateDegraded {
		statePenalty = 0.5
	}

	base := float64(e.weight.Load())
	return (successScore*0.4 + latencyScore*0.4 + base*0.2) * recentPenalty * statePenalty
}
