// Package memory is an in-process implementation of store.Store. Each
// transaction works on a private clone of the whole state and swaps it in on
// success, so a failed transaction leaves nothing behind. Transactions are
// fully serialized.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bloodlink/internal/store"
	"bloodlink/internal/utils"
	"bloodlink/pkg/types"
)

var _ store.Store = (*Store)(nil)

type state struct {
	organizations map[string]types.Organization
	donors        map[string]types.Donor
	donations     map[string]types.Donation
	units         map[string]types.BloodUnit
	requests      map[string]types.Request
}

func newState() state {
	return state{
		organizations: make(map[string]types.Organization),
		donors:        make(map[string]types.Donor),
		donations:     make(map[string]types.Donation),
		units:         make(map[string]types.BloodUnit),
		requests:      make(map[string]types.Request),
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.organizations {
		out.organizations[k] = v
	}
	for k, v := range s.donors {
		out.donors[k] = cloneDonor(v)
	}
	for k, v := range s.donations {
		out.donations[k] = cloneDonation(v)
	}
	for k, v := range s.units {
		out.units[k] = cloneUnit(v)
	}
	for k, v := range s.requests {
		out.requests[k] = cloneRequest(v)
	}
	return out
}

type Option func(*Store)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

func New(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = tx.state
	return nil
}

type transaction struct {
	state state
	now   func() time.Time
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return utils.TimePtr(*t)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	return utils.StringPtr(*s)
}

func cloneDonor(d types.Donor) types.Donor {
	d.LastDonationDate = cloneTime(d.LastDonationDate)
	return d
}

func cloneDonation(d types.Donation) types.Donation {
	if d.AllTestsPassed != nil {
		d.AllTestsPassed = utils.BoolPtr(*d.AllTestsPassed)
	}
	d.TestedAt = cloneTime(d.TestedAt)
	history := make([]types.DonationHistoryEntry, len(d.History))
	for i, h := range d.History {
		h.Notes = cloneString(h.Notes)
		history[i] = h
	}
	d.History = history
	return d
}

func cloneUnit(u types.BloodUnit) types.BloodUnit {
	u.DonationID = cloneString(u.DonationID)
	u.RequestID = cloneString(u.RequestID)
	u.IssuedAt = cloneTime(u.IssuedAt)
	return u
}

func cloneRequest(r types.Request) types.Request {
	r.AssignedTo = cloneString(r.AssignedTo)
	r.FulfilledAt = cloneTime(r.FulfilledAt)
	return r
}
