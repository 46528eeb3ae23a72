package lru

import (
	"context"
	"testing"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/store/mem"
)

type countingMap struct {
	baodb.ReadonlyMap
	outboards int
}

func (m *countingMap) Lookup(h baodb.Hash) (baodb.MapEntry, bool) {
	e, ok := m.ReadonlyMap.Lookup(h)
	if !ok {
		return nil, false
	}
	return countingEntry{MapEntry: e, m: m}, true
}

type countingEntry struct {
	baodb.MapEntry
	m *countingMap
}

func (e countingEntry) Outboard(ctx context.Context) (baodb.Outboard, error) {
	e.m.outboards++
	return e.MapEntry.Outboard(ctx)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	db, names := mem.New([]mem.NamedBlob{
		{Name: "a", Data: []byte("a")},
		{Name: "b", Data: []byte("b")},
		{Name: "c", Data: []byte("c")},
	})
	nested := &countingMap{ReadonlyMap: db}

	m, err := New(nested, 2)
	if err != nil {
		t.Fatal(err)
	}

	get := func(name string) {
		t.Helper()
		e, ok := m.Lookup(names[name])
		if !ok {
			t.Fatalf("%s not found", name)
		}
		ob, err := e.Outboard(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ob.Root() != names[name] {
			t.Errorf("got root %s for %s, want %s", ob.Root(), name, names[name])
		}
	}

	get("a")
	get("a")
	if nested.outboards != 1 {
		t.Errorf("got %d nested calls, want 1", nested.outboards)
	}

	get("b")
	get("c") // evicts a
	get("a")
	if nested.outboards != 4 {
		t.Errorf("got %d nested calls, want 4", nested.outboards)
	}

	if _, ok := m.Lookup(baodb.Zero); ok {
		t.Error("found the zero hash")
	}
	if len(m.Blobs()) != 3 {
		t.Errorf("got %d blobs, want 3", len(m.Blobs()))
	}
}
