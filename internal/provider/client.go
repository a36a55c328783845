package provider

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/prom"
	"github.com/valyala/fasthttp"
)

type Config struct {
	Endpoints               []EndpointConfig
	APIKey                  string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	PageSize                int
	MaxPages                int
	MaxConns                int
	ReadBufferSize          int
	WriteBufferSize         int
	HealthCheckInterval     time.Duration // zero disables the background checks
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	// Dial overrides the TCP dialer, used to reach in-memory servers.
	Dial fasthttp.DialFunc
}

type EndpointConfig struct {
	Name   string
	URL    string
	Weight int // 1-100
}

// Client talks to the calls API over a set of weighted base URLs.
type Client struct {
	config    *Config
	endpoints []*Endpoint
	mu        sync.RWMutex
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}

	c := &Client{
		config:    config,
		endpoints: make([]*Endpoint, 0, len(config.Endpoints)),
		stopCh:    make(chan struct{}),
	}

	for _, ec := range config.Endpoints {
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
			Dial:                config.Dial,
		}
		c.endpoints = append(c.endpoints, NewEndpoint(ec.Name, ec.URL, ec.Weight, httpClient))
		logger.Info("[provider] endpoint initialized", "name", ec.Name, "url", ec.URL, "weight", ec.Weight)
	}

	if config.HealthCheckInterval > 0 {
		c.wg.Add(2)
		go c.healthChecker()
		go c.metricsCollector()
	}

	logger.Info("[provider] client initialized", "endpoints", len(c.endpoints), "timeout", config.Timeout)
	return c, nil
}

// SelectEndpoint returns the available endpoint with the best score.
func (c *Client) SelectEndpoint() (*Endpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Endpoint
	var bestScore float64
	for _, e := range c.endpoints {
		if !e.IsAvailable() {
			continue
		}
		if score := e.Score(); best == nil || score > bestScore {
			best, bestScore = e, score
		}
	}

	if best == nil {
		return nil, ErrNoAvailableProviders
	}
	return best, nil
}

// getJSON runs a GET with bounded retries and decodes the reply into out.
// Only retryable failures are attempted again.
func (c *Client) getJSON(ctx context.Context, path string, args *fasthttp.Args, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		e, err := c.SelectEndpoint()
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		body, err := c.doRequest(ctx, e, fasthttp.MethodGet, path, args)
		latency := time.Since(start)

		if err != nil {
			prom.AddProviderRequestDuration(latency.Seconds(), e.name, statusLabel(err))
			if !IsRetryable(err) {
				// the endpoint answered; a 4xx says nothing about its health
				e.metrics.RecordSuccess(latency.Milliseconds())
				return err
			}
			e.metrics.RecordFailure()
			c.checkCircuitBreaker(e)
			logger.Warn("[provider] request failed", "error", err, "endpoint", e.name, "attempt", attempt+1)
			lastErr = err
			continue
		}

		e.metrics.RecordSuccess(latency.Milliseconds())
		prom.AddProviderRequestDuration(latency.Seconds(), e.name, "200")

		if err := json.Unmarshal(body, out); err != nil {
			return errors.Join(ErrMalformedResponse, err)
		}
		return nil
	}

	if lastErr == nil {
		lastErr = ErrNoAvailableProviders
	}
	return lastErr
}

func (c *Client) doRequest(ctx context.Context, e *Endpoint, method, path string, args *fasthttp.Args) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := e.url + path
	if args != nil && args.Len() > 0 {
		uri += "?" + args.String()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("authorization", c.config.APIKey)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := e.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, &TransportError{Endpoint: e.name, Err: err}
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, &APIError{StatusCode: status, Body: string(resp.Body())}
	}

	return slices.Clone(resp.Body()), nil
}

func statusLabel(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.StatusCode)
	}
	return "error"
}

func (c *Client) checkCircuitBreaker(e *Endpoint) {
	fails := e.metrics.ConsecutiveFails.Load()
	if fails >= int32(c.config.CircuitBreakerThreshold) {
		e.SetState(StateCircuitOpen)
		e.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).Unix())
		logger.Warn("[provider] circuit breaker opened", "endpoint", e.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
	}
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	c.mu.RLock()
	endpoints := slices.Clone(c.endpoints)
	c.mu.RUnlock()

	for _, e := range endpoints {
		healthy := c.checkHealth(ctx, e)
		e.lastHealthCheck.Store(time.Now().Unix())

		oldState := e.GetState()
		newState := oldState
		if healthy {
			if oldState == StateUnhealthy || oldState == StateDegraded {
				newState = StateHealthy
			}
		} else if oldState != StateCircuitOpen {
			newState = StateUnhealthy
		}

		if newState != oldState {
			e.SetState(newState)
			logger.Info("[provider] endpoint state changed", "endpoint", e.name, "old_state", oldState.String(), "new_state", newState.String())
		}
	}
}

func (c *Client) checkHealth(ctx context.Context, e *Endpoint) bool {
	body, err := c.doRequest(ctx, e, fasthttp.MethodGet, "/health", nil)
	if err != nil {
		return false
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

func (c *Client) metricsCollector() {
	defer c.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evaluateEndpoints()
		case <-c.stopCh:
			return
		}
	}
}

// evaluateEndpoints moves endpoints between healthy and degraded based on
// their recent success rate and latency.
func (c *Client) evaluateEndpoints() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.endpoints {
		state := e.GetState()
		if state == StateCircuitOpen || state == StateUnhealthy {
			continue
		}

		successRate := e.metrics.SuccessRate()
		avgLatency := e.metrics.AvgLatencyMs()

		if successRate < 0.8 || avgLatency > 5000 {
			if state != StateDegraded {
				e.SetState(StateDegraded)
				logger.Warn("[provider] endpoint degraded", "endpoint", e.name, "success_rate", successRate, "avg_latency_ms", avgLatency)
			}
		} else if successRate > 0.95 && avgLatency < 2000 && state != StateHealthy {
			e.SetState(StateHealthy)
			logger.Info("[provider] endpoint recovered", "endpoint", e.name)
		}
	}
}

type EndpointStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"totalRequests"`
	FailedReqs       int64   `json:"failedRequests"`
	SuccessRate      float64 `json:"successRate"`
	AvgLatencyMs     int64   `json:"avgLatencyMs"`
	P95LatencyMs     int64   `json:"p95LatencyMs"`
	ConsecutiveFails int32   `json:"consecutiveFails"`
}

// Stats returns one row per endpoint, best score first.
func (c *Client) Stats() []EndpointStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]EndpointStats, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		stats = append(stats, EndpointStats{
			Name:             e.name,
			URL:              e.url,
			State:            e.GetState().String(),
			Score:            e.Score(),
			TotalRequests:    e.metrics.TotalRequests.Load(),
			FailedReqs:       e.metrics.FailedReqs.Load(),
			SuccessRate:      e.metrics.SuccessRate(),
			AvgLatencyMs:     e.metrics.AvgLatencyMs(),
			P95LatencyMs:     e.metrics.P95LatencyMs(),
			ConsecutiveFails: e.metrics.ConsecutiveFails.Load(),
		})
	}

	slices.SortFunc(stats, func(a, b EndpointStats) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return stats
}

func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	logger.Info("[provider] client closed")
	return nil
}
