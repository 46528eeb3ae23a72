// Package logging implements a ReadonlyMap that delegates everything to a nested map,
// logging operations as they happen.
package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/store"
)

var _ baodb.ReadonlyMap = &Map{}

// Map wraps a nested ReadonlyMap with logging.
type Map struct {
	m   baodb.ReadonlyMap
	log *zap.Logger
}

// New produces a new Map wrapping m.
func New(m baodb.ReadonlyMap, log *zap.Logger) *Map {
	return &Map{m: m, log: log}
}

func (m *Map) Lookup(h baodb.Hash) (baodb.MapEntry, bool) {
	e, ok := m.m.Lookup(h)
	m.log.Debug("Lookup", zap.Stringer("hash", h), zap.Bool("found", ok))
	if !ok {
		return nil, false
	}
	return mapEntry{MapEntry: e, log: m.log}, true
}

func (m *Map) Blobs() []baodb.Hash {
	hashes := m.m.Blobs()
	m.log.Debug("Blobs", zap.Int("count", len(hashes)))
	return hashes
}

func (m *Map) Roots() []baodb.Hash {
	hashes := m.m.Roots()
	m.log.Debug("Roots", zap.Int("count", len(hashes)))
	return hashes
}

func (m *Map) Validate(ctx context.Context, ch chan<- baodb.ValidateEvent) error {
	m.log.Info("Validate starting")
	err := m.m.Validate(ctx, ch)
	if err != nil {
		m.log.Error("Validate", zap.Error(err))
	} else {
		m.log.Info("Validate done")
	}
	return err
}

type mapEntry struct {
	baodb.MapEntry
	log *zap.Logger
}

func (e mapEntry) Outboard(ctx context.Context) (baodb.Outboard, error) {
	ob, err := e.MapEntry.Outboard(ctx)
	if err != nil {
		e.log.Error("Outboard", zap.Stringer("hash", e.Hash()), zap.Error(err))
	} else {
		e.log.Debug("Outboard", zap.Stringer("hash", e.Hash()), zap.Uint64("size", ob.Size()))
	}
	return ob, err
}

func (e mapEntry) DataReader(ctx context.Context) (baodb.DataReader, error) {
	r, err := e.MapEntry.DataReader(ctx)
	if err != nil {
		e.log.Error("DataReader", zap.Stringer("hash", e.Hash()), zap.Error(err))
	} else {
		e.log.Debug("DataReader", zap.Stringer("hash", e.Hash()), zap.Int64("size", r.Size()))
	}
	return r, err
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (baodb.ReadonlyMap, error) {
		nested, err := store.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}
		log, ok := store.Logger(ctx)
		if !ok {
			log = zap.NewNop()
		}
		return New(nested, log), nil
	})
}
