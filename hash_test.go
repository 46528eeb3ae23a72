package baodb

import (
	"sort"
	"testing"
	"testing/quick"
)

func TestHashHex(t *testing.T) {
	f := func(b [HashSize]byte) bool {
		h := Hash(b)
		got, err := HashFromHex(h.String())
		return err == nil && got == h
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}

	for _, s := range []string{"", "abc", "zz" + Zero.String()[2:], Zero.String() + "00"} {
		if _, err := HashFromHex(s); err == nil {
			t.Errorf("HashFromHex(%q) succeeded", s)
		}
	}
}

func TestHashOrder(t *testing.T) {
	hashes := []Hash{
		HashFromBytes([]byte{2}),
		HashFromBytes([]byte{0, 1}),
		Zero,
		HashFromBytes([]byte{1, 0xff}),
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })

	for i := 1; i < len(hashes); i++ {
		if c := hashes[i-1].Compare(hashes[i]); c != -1 {
			t.Errorf("Compare(%s, %s) = %d, want -1", hashes[i-1], hashes[i], c)
		}
	}
	if !hashes[0].IsZero() {
		t.Errorf("got %s first, want zero", hashes[0])
	}
	if hashes[3][0] != 2 {
		t.Errorf("got %s last", hashes[3])
	}
}
