package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/bobg/flock"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/baodb"
)

// Names within a data directory.
const (
	// OutboardsDir holds one file per blob, named by its hex hash,
	// containing the blob's outboard.
	OutboardsDir = "outboards"

	// CollectionsDir holds one file per internal entry, named by its hex hash,
	// containing the entry's content.
	CollectionsDir = "collections"

	// PathsFile lists every blob as a CBOR array of [hash, size, path] records,
	// sorted by hash.
	// Path is null for internal entries.
	PathsFile = "paths"

	lockFile = "paths.lock"
)

type dataPaths struct {
	dir         string
	outboards   string
	collections string
	paths       string
	lock        string
}

func newDataPaths(dir string) dataPaths {
	return dataPaths{
		dir:         dir,
		outboards:   filepath.Join(dir, OutboardsDir),
		collections: filepath.Join(dir, CollectionsDir),
		paths:       filepath.Join(dir, PathsFile),
		lock:        filepath.Join(dir, lockFile),
	}
}

func (d dataPaths) outboard(h baodb.Hash) string {
	return filepath.Join(d.outboards, h.String())
}

func (d dataPaths) collection(h baodb.Hash) string {
	return filepath.Join(d.collections, h.String())
}

var locker flock.Locker

// withLock runs f holding the advisory lock on the data directory,
// which must exist.
func (d dataPaths) withLock(f func() error) error {
	if err := d.createLock(); err != nil {
		return err
	}
	return d.locked(f)
}

// withReadLock is like withLock,
// except that f runs without the lock
// when the lock file cannot be created in a read-only directory.
func (d dataPaths) withReadLock(log *zap.Logger, f func() error) error {
	err := d.createLock()
	if isReadOnly(err) {
		log.Debug("read-only data directory, loading without lock", zap.String("dir", d.dir), zap.Error(err))
		return f()
	}
	if err != nil {
		return err
	}
	return d.locked(f)
}

func (d dataPaths) createLock() error {
	lf, err := os.OpenFile(d.lock, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating lock file %s", d.lock)
	}
	return lf.Close()
}

func isReadOnly(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EROFS)
}

func (d dataPaths) locked(f func() error) error {
	if err := locker.Lock(d.lock); err != nil {
		return errors.Wrapf(err, "locking %s", d.lock)
	}
	defer locker.Unlock(d.lock)

	return f()
}

// PathRecord describes one blob in a Snapshot.
type PathRecord struct {
	Hash baodb.Hash
	Size uint64
	Path string // empty for internal entries
}

type pathRecordWire struct {
	_    struct{} `cbor:",toarray"`
	Hash baodb.Hash
	Size uint64
	Path *string
}

// Core Deterministic Encoding (RFC 8949 §4.2):
// the same records always produce the same bytes.
var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("file: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("file: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalPaths(recs []PathRecord) ([]byte, error) {
	wire := make([]pathRecordWire, 0, len(recs))
	for _, rec := range recs {
		w := pathRecordWire{Hash: rec.Hash, Size: rec.Size}
		if rec.Path != "" {
			p := rec.Path
			w.Path = &p
		}
		wire = append(wire, w)
	}
	return cborEncMode.Marshal(wire)
}

func unmarshalPaths(b []byte) ([]PathRecord, error) {
	var wire []pathRecordWire
	if err := cborDecMode.Unmarshal(b, &wire); err != nil {
		return nil, err
	}
	out := make([]PathRecord, 0, len(wire))
	for _, w := range wire {
		rec := PathRecord{Hash: w.Hash, Size: w.Size}
		if w.Path != nil {
			rec.Path = *w.Path
		}
		out = append(out, rec)
	}
	return out, nil
}

type blobSeq func(yield func(baodb.Hash, []byte) error) error

func sliceSeq(hashes []baodb.Hash, bufs [][]byte) blobSeq {
	return func(yield func(baodb.Hash, []byte) error) error {
		for i, h := range hashes {
			if err := yield(h, bufs[i]); err != nil {
				return err
			}
		}
		return nil
	}
}

// Snapshot is the contents of a Database as three independent sequences:
// a PathRecord for every blob,
// the outboard of every blob,
// and the content of every internal entry.
//
// It is the only bridge between a Database and its data directory:
// Database.Snapshot and LoadSnapshot produce one,
// Persist and FromSnapshot consume one.
// A Snapshot can be consumed only once.
// A Snapshot loaded from disk reads outboard and collection files
// as it is consumed, not before.
//
// The data directory holds:
//
//	outboards/<hex hash>    outboard of each blob
//	collections/<hex hash>  content of each internal entry
//	paths                   sorted CBOR list of [hash, size, path|null]
type Snapshot struct {
	paths       []PathRecord
	outboards   blobSeq
	collections blobSeq
	consumed    bool
}

var errConsumed = errors.New("snapshot already consumed")

func (s *Snapshot) consume() error {
	if s.consumed {
		return errConsumed
	}
	s.consumed = true
	return nil
}

// Snapshot takes a snapshot of db.
// The read lock is held only while copying the index;
// the copy shares its buffers with db.
func (db *Database) Snapshot() *Snapshot {
	db.mu.RLock()
	var (
		paths                  = make([]PathRecord, 0, len(db.entries))
		obHashes, collHashes   []baodb.Hash
		outboards, collections [][]byte
	)
	for h, e := range db.entries {
		paths = append(paths, PathRecord{Hash: h, Size: e.Size, Path: e.Path})
		obHashes = append(obHashes, h)
		outboards = append(outboards, e.Outboard)
		if !e.IsExternal() {
			collHashes = append(collHashes, h)
			collections = append(collections, e.Data)
		}
	}
	db.mu.RUnlock()

	return &Snapshot{
		paths:       paths,
		outboards:   sliceSeq(obHashes, outboards),
		collections: sliceSeq(collHashes, collections),
	}
}

// LoadSnapshot reads a snapshot from the data directory dir.
//
// A missing directory or paths file is an empty snapshot
// (the paths file is written last, so its absence means nothing was ever saved).
// The outboard of every blob listed in the paths file must exist;
// a missing one makes the snapshot fail when consumed.
// Entries in the collections directory that are subdirectories,
// are not named by a hex hash,
// or are not listed in the paths file
// are skipped.
//
// LoadSnapshot does not take the directory lock.
func LoadSnapshot(dir string, log *zap.Logger) (*Snapshot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	d := newDataPaths(dir)

	b, err := os.ReadFile(d.paths)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug("no paths file, starting empty", zap.String("file", d.paths))
		return emptySnapshot(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", d.paths)
	}
	paths, err := unmarshalPaths(b)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", d.paths)
	}

	var (
		required = make(map[baodb.Hash]struct{}, len(paths))
		hashes   = make([]baodb.Hash, 0, len(paths))
	)
	for _, rec := range paths {
		if _, ok := required[rec.Hash]; ok {
			continue
		}
		required[rec.Hash] = struct{}{}
		hashes = append(hashes, rec.Hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })

	outboards := func(yield func(baodb.Hash, []byte) error) error {
		for _, h := range hashes {
			path := d.outboard(h)
			ob, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "reading outboard %s", path)
			}
			if err = yield(h, ob); err != nil {
				return err
			}
		}
		return nil
	}

	dirents, err := os.ReadDir(d.collections)
	if errors.Is(err, os.ErrNotExist) {
		dirents = nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading collections directory %s", d.collections)
	}

	collections := func(yield func(baodb.Hash, []byte) error) error {
		for _, dirent := range dirents {
			path := filepath.Join(d.collections, dirent.Name())
			if dirent.IsDir() {
				log.Debug("skipping directory", zap.String("path", path))
				continue
			}
			h, err := baodb.HashFromHex(dirent.Name())
			if err != nil {
				log.Debug("skipping unexpected path", zap.String("path", path), zap.Error(err))
				continue
			}
			if dirent.Name() != h.String() {
				log.Debug("skipping unexpected path", zap.String("path", path))
				continue
			}
			if _, ok := required[h]; !ok {
				log.Debug("skipping unexpected hash", zap.Stringer("hash", h))
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "reading collection %s", path)
			}
			if err = yield(h, data); err != nil {
				return err
			}
		}
		return nil
	}

	return &Snapshot{
		paths:       paths,
		outboards:   outboards,
		collections: collections,
	}, nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		outboards:   sliceSeq(nil, nil),
		collections: sliceSeq(nil, nil),
	}
}

// Persist writes s to the data directory dir,
// creating it and its subdirectories as needed.
// The paths file is written last,
// by writing a temporary file and renaming it into place.
//
// Persist does not take the directory lock.
func (s *Snapshot) Persist(dir string) error {
	if err := s.consume(); err != nil {
		return err
	}

	d := newDataPaths(dir)
	for _, sub := range []string{d.dir, d.outboards, d.collections} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return errors.Wrapf(err, "creating directory %s", sub)
		}
	}

	err := s.outboards(func(h baodb.Hash, ob []byte) error {
		path := d.outboard(h)
		return errors.Wrapf(os.WriteFile(path, ob, 0644), "writing outboard %s", path)
	})
	if err != nil {
		return err
	}

	err = s.collections(func(h baodb.Hash, data []byte) error {
		path := d.collection(h)
		return errors.Wrapf(os.WriteFile(path, data, 0644), "writing collection %s", path)
	})
	if err != nil {
		return err
	}

	paths := append([]PathRecord(nil), s.paths...)
	sort.Slice(paths, func(i, j int) bool { return paths[i].Hash.Less(paths[j].Hash) })
	b, err := marshalPaths(paths)
	if err != nil {
		return errors.Wrap(err, "encoding paths")
	}

	tmp := d.paths + ".tmp"
	if err = os.WriteFile(tmp, b, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, d.paths), "renaming %s to %s", tmp, d.paths)
}

// FromSnapshot builds a Database from a snapshot.
//
// It first reads every outboard and collection in s;
// a duplicate hash or a read failure in either sequence is an error.
// Then for each PathRecord with an outboard it adds
// an external entry, if the record has a path,
// or an internal entry, if there is a collection for the hash.
// Records with no outboard,
// or with neither a path nor a collection,
// are dropped with a warning.
func FromSnapshot(s *Snapshot, opts ...Option) (*Database, error) {
	db := New(opts...)
	entries, dropped, err := reconcile(s)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		db.log.Warn("dropped incomplete entries", zap.Int("dropped", dropped))
	}
	db.entries = entries
	return db, nil
}

func collect(seq blobSeq, what string) (map[baodb.Hash][]byte, error) {
	out := make(map[baodb.Hash][]byte)
	err := seq(func(h baodb.Hash, b []byte) error {
		if _, ok := out[h]; ok {
			return errors.Errorf("duplicate %s for %s", what, h)
		}
		out[h] = b
		return nil
	})
	return out, errors.Wrapf(err, "reading %ss", what)
}

func reconcile(s *Snapshot) (map[baodb.Hash]Entry, int, error) {
	if err := s.consume(); err != nil {
		return nil, 0, err
	}

	outboards, err := collect(s.outboards, "outboard")
	if err != nil {
		return nil, 0, err
	}
	collections, err := collect(s.collections, "collection")
	if err != nil {
		return nil, 0, err
	}

	var (
		entries = make(map[baodb.Hash]Entry, len(s.paths))
		dropped int
	)
	for _, rec := range s.paths {
		ob, ok := outboards[rec.Hash]
		if !ok {
			dropped++
			continue
		}
		if rec.Path != "" {
			entries[rec.Hash] = External(rec.Path, rec.Size, ob)
			continue
		}
		data, ok := collections[rec.Hash]
		if !ok {
			dropped++
			continue
		}
		entries[rec.Hash] = Internal(data, ob)
	}
	return entries, dropped, nil
}

// Load reads the Database saved in the data directory dir.
// A directory that does not exist, or holds no paths file, produces an empty Database.
// The work runs on the blocking pool, holding the directory lock.
func Load(ctx context.Context, dir string, opts ...Option) (*Database, error) {
	db := New(opts...)
	d := newDataPaths(dir)

	err := db.pool.Do(ctx, func() error {
		if _, err := os.Stat(d.dir); errors.Is(err, os.ErrNotExist) {
			db.log.Info("no data directory, starting empty", zap.String("dir", d.dir))
			return nil
		}
		return d.withReadLock(db.log, func() error {
			db.log.Info("loading snapshot", zap.String("dir", d.dir))
			s, err := LoadSnapshot(d.dir, db.log)
			if err != nil {
				return err
			}
			entries, dropped, err := reconcile(s)
			if err != nil {
				return errors.Wrapf(err, "loading %s", d.dir)
			}
			if dropped > 0 {
				db.log.Warn("dropped incomplete entries", zap.Int("dropped", dropped))
			}
			db.entries = entries
			db.log.Info("database loaded", zap.Int("entries", len(entries)))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Save writes db to the data directory dir.
// Only the snapshot is taken under db's lock;
// the writing happens afterward on the blocking pool,
// holding the directory lock.
// Entries added meanwhile are not saved.
func (db *Database) Save(ctx context.Context, dir string) error {
	s := db.Snapshot()
	d := newDataPaths(dir)

	return db.pool.Do(ctx, func() error {
		if err := os.MkdirAll(d.dir, 0755); err != nil {
			return errors.Wrapf(err, "creating directory %s", d.dir)
		}
		return d.withLock(func() error {
			db.log.Info("persisting database", zap.String("dir", d.dir))
			if err := s.Persist(d.dir); err != nil {
				return err
			}
			db.log.Info("database stored")
			return nil
		})
	})
}
