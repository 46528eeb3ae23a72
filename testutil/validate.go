// Package testutil contains helpers for testing baodb stores.
package testutil

import (
	"context"
	"testing"

	"github.com/bobg/baodb"
)

// Report summarizes the events of one validation sweep.
type Report struct {
	Total    uint64
	Entries  map[uint64]baodb.ValidateEntry
	Errors   map[uint64]string // ID -> ValidateDone.Error, for every entry that finished
	Progress int               // number of ValidateProgress events received
}

// Failed lists the hashes of entries that finished with an error.
func (r Report) Failed() []baodb.Hash {
	var out []baodb.Hash
	for id, msg := range r.Errors {
		if msg != "" {
			out = append(out, r.Entries[id].Hash)
		}
	}
	return out
}

// Collect calls run with a channel,
// gathers everything sent on it into a Report,
// and checks that the events follow the progress protocol:
// ValidateStarting first,
// and each entry's ValidateEntry before its own ValidateProgress and ValidateDone,
// with exactly one ValidateDone per entry.
// It returns run's error.
func Collect(t *testing.T, run func(chan<- baodb.ValidateEvent) error) (Report, error) {
	t.Helper()

	var (
		ch    = make(chan baodb.ValidateEvent, 16)
		errch = make(chan error, 1)
		rep   = Report{
			Entries: make(map[uint64]baodb.ValidateEntry),
			Errors:  make(map[uint64]string),
		}
		started bool
	)

	go func() {
		defer close(ch)
		errch <- run(ch)
	}()

	for ev := range ch {
		switch ev := ev.(type) {
		case baodb.ValidateStarting:
			if started {
				t.Error("second ValidateStarting")
			}
			started = true
			rep.Total = ev.Total

		case baodb.ValidateEntry:
			if !started {
				t.Errorf("ValidateEntry %d before ValidateStarting", ev.ID)
			}
			if _, ok := rep.Entries[ev.ID]; ok {
				t.Errorf("duplicate ValidateEntry %d", ev.ID)
			}
			rep.Entries[ev.ID] = ev

		case baodb.ValidateProgress:
			if _, ok := rep.Entries[ev.ID]; !ok {
				t.Errorf("ValidateProgress %d before its ValidateEntry", ev.ID)
			}
			if _, ok := rep.Errors[ev.ID]; ok {
				t.Errorf("ValidateProgress %d after its ValidateDone", ev.ID)
			}
			rep.Progress++

		case baodb.ValidateDone:
			if _, ok := rep.Entries[ev.ID]; !ok {
				t.Errorf("ValidateDone %d before its ValidateEntry", ev.ID)
			}
			if _, ok := rep.Errors[ev.ID]; ok {
				t.Errorf("duplicate ValidateDone %d", ev.ID)
			}
			rep.Errors[ev.ID] = ev.Error

		default:
			t.Errorf("unexpected event type %T", ev)
		}
	}

	return rep, <-errch
}

// Validate runs m.Validate through Collect.
// It fails the test if the sweep fails
// or some entry never reaches ValidateDone.
func Validate(ctx context.Context, t *testing.T, m baodb.ReadonlyMap) Report {
	t.Helper()

	rep, err := Collect(t, func(ch chan<- baodb.ValidateEvent) error {
		return m.Validate(ctx, ch)
	})
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(rep.Errors)) != rep.Total {
		t.Errorf("got %d ValidateDone events, want %d", len(rep.Errors), rep.Total)
	}
	return rep
}
