package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var statuses = []string{"completed", "completed", "completed", "no-answer", "busy", "failed"}

// MockProvider serves a calls list API backed by an in-memory slice.
type MockProvider struct {
	mu        sync.RWMutex
	calls     []*provider.RawCall
	apiKey    string
	errorRate float64
	rng       *rand.Rand
}

func NewMockProvider(apiKey string, errorRate float64) *MockProvider {
	return &MockProvider{
		apiKey:    apiKey,
		errorRate: errorRate,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed generates perNumber calls for every number, alternating direction.
func (m *MockProvider) Seed(numbers []string, perNumber int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, n := range numbers {
		for i := 0; i < perNumber; i++ {
			status := statuses[m.rng.Intn(len(statuses))]
			seconds := 0
			if status == "completed" {
				seconds = 5 + m.rng.Intn(900)
			}
			other := fmt.Sprintf("+1555%07d", m.rng.Intn(10_000_000))
			call := &provider.RawCall{
				CallID:            uuid.NewString(),
				To:                n,
				From:              other,
				CallLength:        float64(seconds) / 60,
				CorrectedDuration: json.RawMessage(strconv.Quote(strconv.Itoa(seconds))),
				Status:            status,
				Completed:         true,
				CreatedAt:         now.Add(-time.Duration(m.rng.Intn(72*60)) * time.Minute).Format(time.RFC3339),
			}
			if i%2 == 1 {
				call.To, call.From = other, n
			}
			if status == "completed" {
				call.RecordingURL = "https://recordings.example.com/" + call.CallID + ".mp3"
			}
			m.calls = append(m.calls, call)
		}
	}

	log.Info().Int("numbers", len(numbers)).Int("calls", len(m.calls)).Msg("Seeded mock calls")
}

func (m *MockProvider) Add(calls ...*provider.RawCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, calls...)
}

func (m *MockProvider) shouldFail() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorRate > 0 && m.rng.Float64() < m.errorRate
}

type listQuery struct {
	Limit      int    `form:"limit"`
	From       int    `form:"from"`
	Ascending  bool   `form:"ascending"`
	SortBy     string `form:"sort_by"`
	ToNumber   string `form:"to_number"`
	FromNumber string `form:"from_number"`
}

// list returns one page of calls matching q and the total match count.
func (m *MockProvider) list(q listQuery) ([]*provider.RawCall, int) {
	m.mu.RLock()
	matched := make([]*provider.RawCall, 0, len(m.calls))
	for _, c := range m.calls {
		if q.ToNumber != "" && c.To != q.ToNumber {
			continue
		}
		if q.FromNumber != "" && c.From != q.FromNumber {
			continue
		}
		matched = append(matched, c)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if q.Ascending {
			return matched[i].CreatedAt < matched[j].CreatedAt
		}
		return matched[i].CreatedAt > matched[j].CreatedAt
	})

	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	if q.From >= len(matched) {
		return []*provider.RawCall{}, len(matched)
	}
	end := min(q.From+q.Limit, len(matched))
	return matched[q.From:end], len(matched)
}

type Handler struct {
	provider *MockProvider
}

func NewHandler(p *MockProvider) *Handler {
	return &Handler{provider: p}
}

func (h *Handler) authorize(c *gin.Context) {
	if h.provider.apiKey != "" && c.GetHeader("authorization") != h.provider.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	c.Next()
}

// ListCalls handles GET /v1/calls
func (h *Handler) ListCalls(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid query",
			"details": err.Error(),
		})
		return
	}

	if h.provider.shouldFail() {
		log.Warn().Str("to", q.ToNumber).Str("from", q.FromNumber).Msg("Simulated provider failure")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider temporarily unavailable"})
		return
	}

	page, total := h.provider.list(q)
	log.Info().
		Str("to", q.ToNumber).
		Str("from", q.FromNumber).
		Int("offset", q.From).
		Int("returned", len(page)).
		Int("total", total).
		Msg("Listed calls")

	c.JSON(http.StatusOK, provider.ListCallsResponse{Calls: page, TotalCount: total})
}

// AddCalls lets local runs and tests inject calls.
func (h *Handler) AddCalls(c *gin.Context) {
	var calls []*provider.RawCall
	if err := c.ShouldBindJSON(&calls); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}
	for _, call := range calls {
		if call.CallID == "" {
			call.CallID = uuid.NewString()
		}
		if call.CreatedAt == "" {
			call.CreatedAt = time.Now().UTC().Format(time.RFC3339)
		}
	}
	h.provider.Add(calls...)
	c.JSON(http.StatusCreated, gin.H{"added": len(calls)})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		ErrorRate *float64 `json:"error_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.provider.mu.Lock()
	if config.ErrorRate != nil && *config.ErrorRate >= 0 && *config.ErrorRate <= 1 {
		h.provider.errorRate = *config.ErrorRate
		log.Info().Float64("rate", *config.ErrorRate).Msg("Updated error rate")
	}
	rate := h.provider.errorRate
	h.provider.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"error_rate": rate})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/v1", handler.authorize)
	{
		v1.GET("/calls", handler.ListCalls)
		v1.POST("/calls", handler.AddCalls)
		v1.PUT("/config", handler.UpdateConfig)
	}

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	apiKey := getEnv("PROVIDER_API_KEY", "")
	errorRate := getEnvFloat("ERROR_RATE", 0)
	perNumber := getEnvInt("SEED_CALLS_PER_NUMBER", 10)
	var numbers []string
	for _, n := range strings.Split(getEnv("SEED_NUMBERS", ""), ",") {
		if n = strings.TrimSpace(n); n != "" {
			numbers = append(numbers, n)
		}
	}

	log.Info().
		Str("port", port).
		Float64("error_rate", errorRate).
		Strs("numbers", numbers).
		Msg("Starting mock calls provider")

	p := NewMockProvider(apiKey, errorRate)
	p.Seed(numbers, perNumber)
	router := SetupRouter(NewHandler(p))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
