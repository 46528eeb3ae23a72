package bao

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
)

func randBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

var sizes = []int{0, 1, BlockSize - 1, BlockSize, BlockSize + 1, 5*BlockSize + 17}

func TestComputeVerify(t *testing.T) {
	for _, size := range sizes {
		data := randBytes(int64(size), size)
		ob := Compute(data)

		if ob.Size() != uint64(size) {
			t.Errorf("size %d: got Size %d", size, ob.Size())
		}

		var offsets []uint64
		err := ob.Verify(bytes.NewReader(data), func(off uint64) {
			offsets = append(offsets, off)
		})
		if err != nil {
			t.Fatalf("size %d: %s", size, err)
		}
		if uint64(len(offsets)) != ob.NumBlocks() {
			t.Errorf("size %d: got %d progress calls, want %d", size, len(offsets), ob.NumBlocks())
		}
		if last := offsets[len(offsets)-1]; last != uint64(size) {
			t.Errorf("size %d: last progress offset %d", size, last)
		}
	}
}

func TestDeterminism(t *testing.T) {
	f := func(data []byte) bool {
		a, b := Compute(data), Compute(append([]byte(nil), data...))
		return a.Root() == b.Root() && bytes.Equal(a.Bytes(), b.Bytes())
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestDistinct(t *testing.T) {
	if Sum([]byte("hello")) == Sum([]byte("world")) {
		t.Error("distinct content has the same hash")
	}
	if Sum(nil) == Sum([]byte{0}) {
		t.Error("empty content collides with a zero byte")
	}
}

func TestComputeReader(t *testing.T) {
	data := randBytes(1, 3*BlockSize+5)
	got, err := ComputeReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	want := Compute(data)
	if got.Root() != want.Root() {
		t.Errorf("got root %s, want %s", got.Root(), want.Root())
	}
	if diff := cmp.Diff(want.Bytes(), got.Bytes()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCorruption(t *testing.T) {
	data := randBytes(2, 4*BlockSize)
	ob := Compute(data)

	t.Run("flip", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[2*BlockSize+10] ^= 1
		err := ob.Verify(bytes.NewReader(bad), nil)
		var m *MismatchError
		if !errors.As(err, &m) {
			t.Fatalf("got %v, want a MismatchError", err)
		}
		if m.Offset != 2*BlockSize {
			t.Errorf("got offset %d, want %d", m.Offset, 2*BlockSize)
		}
	})

	t.Run("truncate", func(t *testing.T) {
		err := ob.Verify(bytes.NewReader(data[:3*BlockSize+1]), nil)
		var m *MismatchError
		if !errors.As(err, &m) {
			t.Fatalf("got %v, want a MismatchError", err)
		}
		if m.Offset != 3*BlockSize {
			t.Errorf("got offset %d, want %d", m.Offset, 3*BlockSize)
		}
	})

	t.Run("block", func(t *testing.T) {
		if err := ob.VerifyBlock(1, data[BlockSize:2*BlockSize]); err != nil {
			t.Error(err)
		}
		if err := ob.VerifyBlock(0, data[BlockSize:2*BlockSize]); err == nil {
			t.Error("block verified at the wrong index")
		}
		err := ob.VerifyBlock(ob.NumBlocks(), nil)
		var m *MismatchError
		if err == nil || errors.As(err, &m) {
			t.Errorf("got %v for an out-of-range block, want a range error", err)
		}
	})
}

func TestParse(t *testing.T) {
	data := randBytes(3, 2*BlockSize+1)
	ob := Compute(data)

	parsed, err := Parse(ob.Root(), ob.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Size() != ob.Size() {
		t.Errorf("got size %d, want %d", parsed.Size(), ob.Size())
	}
	if err = Validate(ob.Root(), bytes.NewReader(data), ob.Bytes(), nil); err != nil {
		t.Error(err)
	}

	cases := map[string][]byte{
		"short":     ob.Bytes()[:4],
		"truncated": ob.Bytes()[:len(ob.Bytes())-1],
		"flipped": func() []byte {
			b := append([]byte(nil), ob.Bytes()...)
			b[len(b)-1] ^= 1
			return b
		}(),
		"header only":       {0, 0, 0, 0, 0, 0, 0, 0},
		"max size":          bytes.Repeat([]byte{0xff}, 8),
		"max size one leaf": append(bytes.Repeat([]byte{0xff}, 8), make([]byte, 32)...),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(ob.Root(), b)
			if !errors.Is(err, ErrBadOutboard) {
				t.Errorf("got %v, want ErrBadOutboard", err)
			}
		})
	}

	if _, err = Parse(Sum([]byte("other")), ob.Bytes()); !errors.Is(err, ErrBadOutboard) {
		t.Errorf("got %v, want ErrBadOutboard for the wrong root", err)
	}
}

func TestNumBlocks(t *testing.T) {
	cases := []struct {
		size, want uint64
	}{
		{0, 1},
		{1, 1},
		{BlockSize, 1},
		{BlockSize + 1, 2},
		{math.MaxUint64, math.MaxUint64/BlockSize + 1},
	}
	for _, c := range cases {
		if got := numBlocks(c.size); got != c.want {
			t.Errorf("numBlocks(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
