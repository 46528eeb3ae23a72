// Package validate re-verifies blobs against their outboards
// with bounded concurrency,
// reporting progress as a stream of baodb.ValidateEvents.
package validate

import (
	"context"
	"io"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/bao"
	"github.com/bobg/baodb/blocking"
)

// Item is one blob to validate.
type Item struct {
	Hash     baodb.Hash
	Path     string // non-empty for blobs stored in files
	Size     uint64
	Outboard []byte

	// Open opens the blob's content.
	// It is called from the blocking pool.
	Open func() (io.ReadCloser, error)
}

// Sort puts items in validation order:
// file-backed items first, by path and then hash,
// followed by in-memory items, by hash.
func Sort(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if (a.Path != "") != (b.Path != "") {
			return a.Path != ""
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Hash.Less(b.Hash)
	})
}

type config struct {
	workers int
	log     *zap.Logger
	pool    *blocking.Pool
}

// Option configures Run.
type Option func(*config)

// Workers sets the number of items validated at once.
// The default is the number of CPUs.
func Workers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Logger sets the logger.
func Logger(l *zap.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// Pool sets the pool that verification runs on.
// The default is blocking.Default().
func Pool(p *blocking.Pool) Option {
	return func(c *config) {
		c.pool = p
	}
}

// Run validates items, sending events on ch.
// It sorts items (see Sort) and numbers them in that order,
// sends ValidateStarting,
// then validates up to the configured number of items at once.
//
// ValidateStarting, ValidateEntry, and ValidateDone are always delivered
// (Run waits for the receiver);
// ValidateProgress events are dropped when ch is full.
//
// A blob that fails to open or verify is reported in its ValidateDone.
// Run returns an error only if ctx is canceled
// or verification panics,
// in which case the remaining items are abandoned.
func Run(ctx context.Context, items []Item, ch chan<- baodb.ValidateEvent, opts ...Option) error {
	c := config{
		workers: runtime.NumCPU(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.pool == nil {
		c.pool = blocking.Default()
	}

	Sort(items)

	err := send(ctx, ch, baodb.ValidateStarting{Total: uint64(len(items))})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		id, item := uint64(i), item
		g.Go(func() error {
			return c.one(gctx, ch, id, item)
		})
	}

	if err = g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *config) one(ctx context.Context, ch chan<- baodb.ValidateEvent, id uint64, item Item) error {
	err := send(ctx, ch, baodb.ValidateEntry{
		ID:   id,
		Hash: item.Hash,
		Path: item.Path,
		Size: item.Size,
	})
	if err != nil {
		return err
	}

	// Verification can outlive this call when ctx is canceled.
	// It must not send on ch after that.
	var (
		mu      sync.Mutex
		stopped bool
	)
	defer func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}()

	progress := func(offset uint64) {
		mu.Lock()
		defer mu.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		select {
		case ch <- baodb.ValidateProgress{ID: id, Offset: offset}:
		default:
		}
	}

	var verr error
	err = c.pool.Do(ctx, func() error {
		verr = c.verify(item, progress)
		return nil
	})
	if err != nil {
		return err
	}

	done := baodb.ValidateDone{ID: id}
	if verr != nil {
		c.log.Debug("validation failed", zap.Stringer("hash", item.Hash), zap.String("path", item.Path), zap.Error(verr))
		done.Error = verr.Error()
	}
	return send(ctx, ch, done)
}

func (c *config) verify(item Item, progress func(uint64)) error {
	r, err := item.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	if item.Path != "" {
		c.log.Debug("validating", zap.String("path", item.Path))
		defer c.log.Debug("done validating", zap.String("path", item.Path))
	}
	return bao.Validate(item.Hash, r, item.Outboard, progress)
}

func send(ctx context.Context, ch chan<- baodb.ValidateEvent, ev baodb.ValidateEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- ev:
		return nil
	}
}
