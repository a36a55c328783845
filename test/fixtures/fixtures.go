package fixtures

import (
	"testing"

	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/pkg/pg"
	"github.com/nimasrn/call-billing/test/helpers"
)

// Owned numbers used across the e2e scenarios. Strangers never belong to a
// seeded user.
const (
	NumberAlice   = "+14155550100"
	NumberAlice2  = "+14155550101"
	NumberBob     = "+14155550200"
	NumberCarol   = "+14155550300"
	NumberDave    = "+14155550400"
	StrangerOne   = "+12125550199"
	StrangerTwo   = "+13105550123"
	NumberNoOwner = "+16175550000"
)

type UserFixture struct {
	ID           int64
	Verified     bool
	BalanceCents int64
	Numbers      []string
}

var (
	Alice = UserFixture{
		ID:           1,
		Verified:     true,
		BalanceCents: 1000,
		Numbers:      []string{NumberAlice, NumberAlice2},
	}

	// Bob cannot afford a ten minute call.
	Bob = UserFixture{
		ID:           2,
		Verified:     true,
		BalanceCents: 50,
		Numbers:      []string{NumberBob},
	}

	Carol = UserFixture{
		ID:           3,
		Verified:     true,
		BalanceCents: 200,
		Numbers:      []string{NumberCarol},
	}

	Dave = UserFixture{
		ID:           4,
		Verified:     false,
		BalanceCents: 500,
		Numbers:      []string{NumberDave},
	}
)

// Seed inserts each user with its wallet and numbers.
func Seed(t *testing.T, db *pg.DB, users ...UserFixture) {
	t.Helper()
	for _, u := range users {
		helpers.CreateTestUser(t, db, u.ID, u.Verified)
		helpers.CreateTestWallet(t, db, u.ID, u.BalanceCents)
		for _, n := range u.Numbers {
			helpers.CreateTestPhoneNumber(t, db, u.ID, n)
		}
	}
}

// Inbound is a completed call from a stranger to an owned number.
func Inbound(id, owned string, seconds int64) *provider.RawCall {
	return helpers.RawCall(id, owned, StrangerOne, seconds)
}

// Outbound is a completed call from an owned number to a stranger.
func Outbound(id, owned string, seconds int64) *provider.RawCall {
	return helpers.RawCall(id, StrangerTwo, owned, seconds)
}

// Missed is a call that never connected.
func Missed(id, owned string) *provider.RawCall {
	c := helpers.RawCall(id, owned, StrangerOne, 0)
	c.Status = "no-answer"
	return c
}

// Unrelated touches none of the seeded numbers.
func Unrelated(id string, seconds int64) *provider.RawCall {
	return helpers.RawCall(id, NumberNoOwner, StrangerOne, seconds)
}
