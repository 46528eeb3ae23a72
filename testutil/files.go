package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// RandBytes produces n pseudorandom bytes determined by seed.
func RandBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// WriteFile writes n pseudorandom bytes to a file named name in dir,
// returning the file's path and content.
func WriteFile(t *testing.T, dir, name string, seed int64, n int) (string, []byte) {
	t.Helper()

	data := RandBytes(seed, n)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path, data
}

// FlipByte inverts one bit of the byte at offset in the file at path.
func FlipByte(t *testing.T, path string, offset int64) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var b [1]byte
	if _, err = f.ReadAt(b[:], offset); err != nil {
		t.Fatal(err)
	}
	b[0] ^= 1
	if _, err = f.WriteAt(b[:], offset); err != nil {
		t.Fatal(err)
	}
}
