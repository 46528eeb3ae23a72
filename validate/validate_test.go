package validate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/bao"
	"github.com/bobg/baodb/blocking"
	"github.com/bobg/baodb/testutil"
)

func memItem(data []byte, path string) Item {
	ob := bao.Compute(data)
	return Item{
		Hash:     ob.Root(),
		Path:     path,
		Size:     uint64(len(data)),
		Outboard: ob.Bytes(),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func TestSort(t *testing.T) {
	var (
		a = memItem([]byte("a"), "")
		b = memItem([]byte("b"), "")
		x = memItem([]byte("x"), "/x")
		y = memItem([]byte("y"), "/y")
	)
	if b.Hash.Less(a.Hash) {
		a, b = b, a
	}

	items := []Item{b, y, a, x}
	Sort(items)

	var got []baodb.Hash
	for _, item := range items {
		got = append(got, item.Hash)
	}
	want := []baodb.Hash{x.Hash, y.Hash, a.Hash, b.Hash}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRun(t *testing.T) {
	var (
		ctx   = context.Background()
		items []Item
	)
	for i := 0; i < 10; i++ {
		items = append(items, memItem(testutil.RandBytes(int64(i), i*bao.BlockSize/3), ""))
	}

	bad := memItem(testutil.RandBytes(100, 2*bao.BlockSize), "/bad")
	bad.Open = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(make([]byte, 2*bao.BlockSize))), nil
	}
	missing := memItem([]byte("missing"), "/missing")
	missing.Open = func() (io.ReadCloser, error) {
		return nil, errors.New("no such file")
	}
	items = append(items, bad, missing)

	rep, err := testutil.Collect(t, func(ch chan<- baodb.ValidateEvent) error {
		return Run(ctx, items, ch, Workers(3), Logger(zaptest.NewLogger(t)))
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total != uint64(len(items)) {
		t.Errorf("got total %d, want %d", rep.Total, len(items))
	}

	// File-backed items sort first: /bad is id 0, /missing is id 1.
	if rep.Entries[0].Hash != bad.Hash || rep.Errors[0] == "" {
		t.Errorf("entry 0: got %v, error %q; want a failure for %s", rep.Entries[0], rep.Errors[0], bad.Hash)
	}
	if rep.Entries[1].Path != "/missing" || rep.Errors[1] != "no such file" {
		t.Errorf("entry 1: got %v, error %q", rep.Entries[1], rep.Errors[1])
	}
	for id := uint64(2); id < rep.Total; id++ {
		if msg := rep.Errors[id]; msg != "" {
			t.Errorf("entry %d: unexpected error %s", id, msg)
		}
	}
}

func TestRunEmpty(t *testing.T) {
	rep, err := testutil.Collect(t, func(ch chan<- baodb.ValidateEvent) error {
		return Run(context.Background(), nil, ch)
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total != 0 || len(rep.Entries) != 0 {
		t.Errorf("got %+v, want an empty report", rep)
	}
}

func TestRunPanic(t *testing.T) {
	items := []Item{memItem([]byte("a"), ""), memItem([]byte("b"), "")}
	items[1].Open = func() (io.ReadCloser, error) {
		panic("unexpected")
	}

	_, err := testutil.Collect(t, func(ch chan<- baodb.ValidateEvent) error {
		return Run(context.Background(), items, ch)
	})
	var p *blocking.PanicError
	if !errors.As(err, &p) {
		t.Errorf("got %v, want a PanicError", err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	items := []Item{memItem([]byte("a"), ""), memItem([]byte("b"), "")}

	// An unbuffered channel nobody reads stands in for a receiver that has gone away.
	ch := make(chan baodb.ValidateEvent)
	errch := make(chan error, 1)
	go func() {
		errch <- Run(ctx, items, ch)
	}()
	cancel()

	if err := <-errch; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestRunProgress(t *testing.T) {
	data := testutil.RandBytes(7, 5*bao.BlockSize-10)
	items := []Item{memItem(data, "")}

	// Room for every event, so none is dropped.
	ch := make(chan baodb.ValidateEvent, 16)
	if err := Run(context.Background(), items, ch, Workers(1)); err != nil {
		t.Fatal(err)
	}
	close(ch)

	var offsets []uint64
	for ev := range ch {
		if p, ok := ev.(baodb.ValidateProgress); ok {
			offsets = append(offsets, p.Offset)
		}
	}
	want := []uint64{
		bao.BlockSize,
		2 * bao.BlockSize,
		3 * bao.BlockSize,
		4 * bao.BlockSize,
		uint64(len(data)),
	}
	if diff := cmp.Diff(want, offsets); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSlowReceiver(t *testing.T) {
	const nblocks = 64
	items := []Item{memItem(testutil.RandBytes(8, nblocks*bao.BlockSize), "")}

	var (
		ch       = make(chan baodb.ValidateEvent)
		errch    = make(chan error, 1)
		progress int
		done     []baodb.ValidateDone
	)
	go func() {
		errch <- Run(context.Background(), items, ch)
		close(ch)
	}()

	<-ch // Starting
	<-ch // Entry
	time.Sleep(100 * time.Millisecond)

	for ev := range ch {
		switch ev := ev.(type) {
		case baodb.ValidateProgress:
			progress++
		case baodb.ValidateDone:
			done = append(done, ev)
		}
	}
	if err := <-errch; err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0].Error != "" {
		t.Errorf("got done events %v, want one success", done)
	}
	if progress >= nblocks {
		t.Errorf("got %d progress events, want some dropped", progress)
	}
}

type gatedReader struct {
	r      io.Reader
	gate   <-chan struct{}
	n      int
	closed chan struct{}
}

func (g *gatedReader) Read(p []byte) (int, error) {
	<-g.gate
	n, err := g.r.Read(p)
	g.n += n
	return n, err
}

func (g *gatedReader) Close() error {
	close(g.closed)
	return nil
}

func TestRunCanceledMidVerify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		data    = testutil.RandBytes(9, 3*bao.BlockSize)
		item    = memItem(data, "")
		gate    = make(chan struct{})
		started = make(chan struct{})
		r       = &gatedReader{r: bytes.NewReader(data), gate: gate, closed: make(chan struct{})}
	)
	item.Open = func() (io.ReadCloser, error) {
		close(started)
		return r, nil
	}

	var (
		ch    = make(chan baodb.ValidateEvent, 16)
		errch = make(chan error, 1)
	)
	go func() {
		errch <- Run(ctx, []Item{item}, ch)
	}()

	<-started
	cancel()
	if err := <-errch; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}

	// The receiver is gone.
	// Verification, still running, must not send on the closed channel.
	close(ch)
	close(gate)
	<-r.closed

	if r.n != len(data) {
		t.Errorf("verification stopped after %d of %d bytes", r.n, len(data))
	}
}
