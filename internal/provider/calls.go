package provider

import (
	"context"
	"encoding/json"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// RawCall is a call record as the provider returns it.
type RawCall struct {
	CallID                 string          `json:"call_id"`
	To                     string          `json:"to"`
	From                   string          `json:"from"`
	CallLength             float64         `json:"call_length"` // minutes
	CorrectedDuration      json.RawMessage `json:"corrected_duration,omitempty"`
	Status                 string          `json:"status"`
	Completed              bool            `json:"completed"`
	RecordingURL           string          `json:"recording_url"`
	ConcatenatedTranscript string          `json:"concatenated_transcript"`
	CreatedAt              string          `json:"created_at"`
}

// DurationSeconds prefers the provider's corrected duration, which arrives as
// a string or a number of seconds, and falls back to call_length minutes.
func (c *RawCall) DurationSeconds() int64 {
	if s, ok := c.correctedSeconds(); ok {
		return s
	}
	if c.CallLength <= 0 || math.IsNaN(c.CallLength) || math.IsInf(c.CallLength, 0) {
		return 0
	}
	return int64(math.Round(c.CallLength * 60))
}

func (c *RawCall) correctedSeconds() (int64, bool) {
	raw := strings.TrimSpace(string(c.CorrectedDuration))
	if raw == "" || raw == "null" {
		return 0, false
	}
	raw = strings.Trim(raw, `"`)
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// StartedAt parses created_at; it is nil when the provider omits it or uses
// an unknown layout.
func (c *RawCall) StartedAt() *time.Time {
	s := strings.TrimSpace(c.CreatedAt)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

type ListCallsQuery struct {
	Limit      int
	Offset     int
	Ascending  bool
	SortBy     string
	ToNumber   string
	FromNumber string
}

func (q ListCallsQuery) args() *fasthttp.Args {
	args := &fasthttp.Args{}
	args.SetUint("limit", q.Limit)
	args.Set("ascending", strconv.FormatBool(q.Ascending))
	if q.SortBy != "" {
		args.Set("sort_by", q.SortBy)
	}
	if q.Offset > 0 {
		args.SetUint("from", q.Offset)
	}
	if q.ToNumber != "" {
		args.Set("to_number", q.ToNumber)
	}
	if q.FromNumber != "" {
		args.Set("from_number", q.FromNumber)
	}
	return args
}

type ListCallsResponse struct {
	Calls      []*RawCall `json:"calls"`
	TotalCount int        `json:"total_count"`
}

// ListCalls fetches a single page.
func (c *Client) ListCalls(ctx context.Context, q ListCallsQuery) (*ListCallsResponse, error) {
	if q.Limit <= 0 {
		q.Limit = c.config.PageSize
	}
	if q.SortBy == "" {
		q.SortBy = "created_at"
	}

	var resp ListCallsResponse
	if err := c.getJSON(ctx, "/v1/calls", q.args(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Calls walks every page of q lazily. It stops on an empty page, once
// total_count is reached, after MaxPages pages, or when the consumer stops.
// An error is yielded once and ends the sequence.
func (c *Client) Calls(ctx context.Context, q ListCallsQuery) iter.Seq2[*RawCall, error] {
	return func(yield func(*RawCall, error) bool) {
		pages := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := c.ListCalls(ctx, q)
			if err != nil {
				yield(nil, err)
				return
			}
			pages++

			for _, call := range page.Calls {
				if call == nil {
					continue
				}
				if !yield(call, nil) {
					return
				}
			}

			q.Offset += len(page.Calls)
			if len(page.Calls) == 0 || q.Offset >= page.TotalCount {
				return
			}
			if c.config.MaxPages > 0 && pages >= c.config.MaxPages {
				return
			}
		}
	}
}
