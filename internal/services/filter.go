package services

import (
	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/provider"
)

type NumberNormalizer interface {
	Normalize(raw string) (string, error)
}

// MatchedCall is a provider call attributed to one owned number, with both
// ends already in E.164 where they could be normalized.
type MatchedCall struct {
	Raw         *provider.RawCall
	OwnedNumber string
	Inbound     bool
	To          string
	From        string
}

// CallFilter keeps the calls that belong to a user's numbers.
type CallFilter struct {
	normalizer NumberNormalizer
}

func NewCallFilter(n NumberNormalizer) *CallFilter {
	return &CallFilter{normalizer: n}
}

// Filter returns the calls whose to or from number equals an owned number.
// A to match wins over a from match. Calls repeating an external id already
// returned, or already present in seen, are dropped; seen is updated.
func (f *CallFilter) Filter(calls []*provider.RawCall, owned []*model.PhoneNumber, seen map[string]struct{}) []*MatchedCall {
	ownedSet := make(map[string]struct{}, len(owned))
	for _, n := range owned {
		ownedSet[n.Number] = struct{}{}
	}
	if seen == nil {
		seen = make(map[string]struct{})
	}

	out := make([]*MatchedCall, 0, len(calls))
	for _, c := range calls {
		if c == nil || c.CallID == "" {
			continue
		}
		if _, dup := seen[c.CallID]; dup {
			continue
		}

		to := f.normalize(c.To)
		from := f.normalize(c.From)

		m := &MatchedCall{Raw: c, To: to, From: from}
		if _, ok := ownedSet[to]; ok && to != "" {
			m.OwnedNumber, m.Inbound = to, true
		} else if _, ok := ownedSet[from]; ok && from != "" {
			m.OwnedNumber = from
		} else {
			continue
		}

		seen[c.CallID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// normalize returns "" for numbers that do not parse, so they match nothing.
func (f *CallFilter) normalize(raw string) string {
	n, err := f.normalizer.Normalize(raw)
	if err != nil {
		return ""
	}
	return n
}
