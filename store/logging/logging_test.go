package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/store/mem"
	"github.com/bobg/baodb/testutil"
)

func TestLogging(t *testing.T) {
	var (
		ctx       = context.Background()
		core, obs = observer.New(zapcore.DebugLevel)
		db, names = mem.New([]mem.NamedBlob{{Name: "a", Data: []byte("a")}})
		m         = New(db, zap.New(core))
	)

	e, ok := m.Lookup(names["a"])
	if !ok {
		t.Fatal("a not found")
	}
	if _, err := e.Outboard(ctx); err != nil {
		t.Fatal(err)
	}
	r, err := e.DataReader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	if _, ok = m.Lookup(baodb.Zero); ok {
		t.Error("found the zero hash")
	}
	m.Blobs()
	m.Roots()
	testutil.Validate(ctx, t, m)

	for _, msg := range []string{"Lookup", "Outboard", "DataReader", "Blobs", "Roots", "Validate done"} {
		if obs.FilterMessage(msg).Len() == 0 {
			t.Errorf("no %q log entry", msg)
		}
	}
	if n := obs.FilterMessage("Lookup").Len(); n != 2 {
		t.Errorf("got %d Lookup entries, want 2", n)
	}
}
