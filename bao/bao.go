// Package bao builds and checks outboards:
// hash trees over blob content,
// stored apart from the content they describe.
//
// Content is split into blocks of BlockSize bytes
// (the last block may be short; empty content is a single empty block).
// Each block is hashed together with its index into a leaf,
// leaves are combined pairwise into a binary tree,
// and the tree's root is combined with the content length into the blob's Hash.
// All hashes are keyed BLAKE3, with a distinct key per tree level role,
// so a leaf can never be passed off as a parent or a root.
//
// The serialized outboard is the content length
// (8 bytes, little-endian)
// followed by the 32-byte leaf hashes in order.
// Parents are recomputed from the leaves when an outboard is parsed.
package bao

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/bobg/baodb"
)

// BlockSize is the block size for every outboard in the store.
const BlockSize = 16 * 1024

const headerSize = 8

type domainKey [32]byte

var (
	leafKey = domainKey{
		'b', 'a', 'o', 'd', 'b', '.', 'l', 'e', 'a', 'f',
	}
	parentKey = domainKey{
		'b', 'a', 'o', 'd', 'b', '.', 'p', 'a', 'r', 'e', 'n', 't',
	}
	rootKey = domainKey{
		'b', 'a', 'o', 'd', 'b', '.', 'r', 'o', 'o', 't',
	}
)

var _ baodb.Outboard = &Outboard{}

// Outboard is an in-memory outboard.
type Outboard struct {
	root baodb.Hash
	size uint64
	buf  []byte
}

// ErrBadOutboard is the error for an outboard that is malformed
// or does not derive the expected root.
var ErrBadOutboard = errors.New("bad outboard")

// MismatchError is the error for content that does not match its outboard.
// Offset is the start of the first block that failed,
// either because its hash differs or because the content ended inside it.
type MismatchError struct {
	Offset uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("hash mismatch at offset %d", e.Offset)
}

// Compute builds the outboard for data.
func Compute(data []byte) *Outboard {
	ob, _ := ComputeReader(bytes.NewReader(data)) // reading a bytes.Reader does not fail
	return ob
}

// Sum is the Hash of data.
func Sum(data []byte) baodb.Hash {
	return Compute(data).Root()
}

// ComputeReader builds the outboard for the content read from r until EOF.
// It holds at most one block of content in memory at a time.
func ComputeReader(r io.Reader) (*Outboard, error) {
	var (
		buf   = make([]byte, headerSize, headerSize+baodb.HashSize)
		block = make([]byte, BlockSize)
		h     = newHasher(leafKey)
		size  uint64
		index uint64
	)
	for {
		n, err := io.ReadFull(r, block)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(err, "reading content at offset %d", size)
		}
		if n > 0 || index == 0 {
			leaf := leafHash(h, index, block[:n])
			buf = append(buf, leaf[:]...)
			index++
			size += uint64(n)
		}
		if err != nil {
			break
		}
	}
	binary.LittleEndian.PutUint64(buf, size)

	return &Outboard{
		root: rootHash(merkleRoot(leaves(buf)), size),
		size: size,
		buf:  buf,
	}, nil
}

// Parse interprets b as the outboard for the blob with hash root.
// It fails with ErrBadOutboard if b is malformed
// or its leaves do not derive root.
// The buffer is retained, not copied.
func Parse(root baodb.Hash, b []byte) (*Outboard, error) {
	if len(b) < headerSize {
		return nil, errors.Wrapf(ErrBadOutboard, "outboard is %d bytes, too short for a header", len(b))
	}
	size := binary.LittleEndian.Uint64(b)
	body := uint64(len(b) - headerSize)
	if body%baodb.HashSize != 0 {
		return nil, errors.Wrapf(ErrBadOutboard, "outboard body is %d bytes, not a multiple of %d", body, baodb.HashSize)
	}
	if got, want := body/baodb.HashSize, numBlocks(size); got == 0 || got != want {
		return nil, errors.Wrapf(ErrBadOutboard, "outboard has %d leaves, want %d for content size %d", got, want, size)
	}
	if got := rootHash(merkleRoot(leaves(b)), size); got != root {
		return nil, errors.Wrapf(ErrBadOutboard, "outboard derives root %s, want %s", got, root)
	}
	return &Outboard{root: root, size: size, buf: b}, nil
}

// Validate checks the content read from r
// against the outboard ob for the blob with hash root.
// See Outboard.Verify.
func Validate(root baodb.Hash, r io.Reader, ob []byte, progress func(uint64)) error {
	o, err := Parse(root, ob)
	if err != nil {
		return err
	}
	return o.Verify(r, progress)
}

// Root implements baodb.Outboard.
func (o *Outboard) Root() baodb.Hash { return o.root }

// Size implements baodb.Outboard.
func (o *Outboard) Size() uint64 { return o.size }

// Bytes implements baodb.Outboard.
func (o *Outboard) Bytes() []byte { return o.buf }

// NumBlocks is the number of blocks the content is divided into.
func (o *Outboard) NumBlocks() uint64 {
	return numBlocks(o.size)
}

// VerifyBlock checks a single block of content.
// Blocks can be checked in any order,
// which is what makes it possible to verify a range of a blob
// without reading what precedes it.
func (o *Outboard) VerifyBlock(index uint64, block []byte) error {
	if index >= o.NumBlocks() {
		return errors.Errorf("block %d out of range (%d blocks)", index, o.NumBlocks())
	}
	offset := index * BlockSize
	if uint64(len(block)) != o.blockLen(index) {
		return &MismatchError{Offset: offset}
	}
	if leafHash(newHasher(leafKey), index, block) != o.leaf(index) {
		return &MismatchError{Offset: offset}
	}
	return nil
}

// Verify implements baodb.Outboard.
// Content beyond the outboard's size is not read.
func (o *Outboard) Verify(r io.Reader, progress func(uint64)) error {
	var (
		block  = make([]byte, BlockSize)
		h      = newHasher(leafKey)
		offset uint64
		n      = o.NumBlocks()
	)
	for i := uint64(0); i < n; i++ {
		want := o.blockLen(i)
		_, err := io.ReadFull(r, block[:want])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return &MismatchError{Offset: offset}
		}
		if err != nil {
			return errors.Wrapf(err, "reading block at offset %d", offset)
		}
		if leafHash(h, i, block[:want]) != o.leaf(i) {
			return &MismatchError{Offset: offset}
		}
		offset += want
		if progress != nil {
			progress(offset)
		}
	}
	return nil
}

func (o *Outboard) blockLen(index uint64) uint64 {
	start := index * BlockSize
	if rest := o.size - start; rest < BlockSize {
		return rest
	}
	return BlockSize
}

func (o *Outboard) leaf(index uint64) baodb.Hash {
	start := headerSize + index*baodb.HashSize
	return baodb.HashFromBytes(o.buf[start : start+baodb.HashSize])
}

func numBlocks(size uint64) uint64 {
	if size == 0 {
		return 1
	}
	n := size / BlockSize
	if size%BlockSize != 0 {
		n++
	}
	return n
}

func leaves(buf []byte) []baodb.Hash {
	body := buf[headerSize:]
	out := make([]baodb.Hash, 0, len(body)/baodb.HashSize)
	for len(body) >= baodb.HashSize {
		out = append(out, baodb.HashFromBytes(body[:baodb.HashSize]))
		body = body[baodb.HashSize:]
	}
	return out
}

func newHasher(key domainKey) *blake3.Hasher {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only possible with a key of the wrong length.
		panic("bao: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return h
}

func sum(h *blake3.Hasher) baodb.Hash {
	return baodb.HashFromBytes(h.Sum(nil))
}

func leafHash(h *blake3.Hasher, index uint64, block []byte) baodb.Hash {
	var ibuf [8]byte
	binary.LittleEndian.PutUint64(ibuf[:], index)
	h.Reset()
	h.Write(ibuf[:])
	h.Write(block)
	return sum(h)
}

// merkleRoot combines leaves pairwise, bottom-up.
// An odd node at the end of a level is promoted unhashed.
func merkleRoot(level []baodb.Hash) baodb.Hash {
	if len(level) == 0 {
		return baodb.Zero
	}
	if len(level) == 1 {
		return level[0]
	}

	var (
		h        = newHasher(parentKey)
		combined [2 * baodb.HashSize]byte
	)
	for len(level) > 1 {
		next := make([]baodb.Hash, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			copy(combined[:baodb.HashSize], level[i][:])
			copy(combined[baodb.HashSize:], level[i+1][:])
			h.Reset()
			h.Write(combined[:])
			next[i/2] = sum(h)
		}
		if len(level)%2 == 1 {
			next[len(next)-1] = level[len(level)-1]
		}
		level = next
	}
	return level[0]
}

func rootHash(merkle baodb.Hash, size uint64) baodb.Hash {
	var sbuf [8]byte
	binary.LittleEndian.PutUint64(sbuf[:], size)
	h := newHasher(rootKey)
	h.Write(merkle[:])
	h.Write(sbuf[:])
	return sum(h)
}
