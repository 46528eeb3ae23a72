package baodb

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
)

type bytesReader struct {
	*bytes.Reader
}

func (bytesReader) Close() error { return nil }

// BytesReader produces a DataReader over an in-memory buffer.
// The buffer is not copied.
func BytesReader(b []byte) DataReader {
	return bytesReader{Reader: bytes.NewReader(b)}
}

type fileReader struct {
	*os.File
	size int64
}

func (f fileReader) Size() int64 { return f.size }

// OpenFile produces a DataReader over the file at path.
// Its size is the size of the file when it was opened.
func OpenFile(path string) (DataReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "statting %s", path)
	}
	return fileReader{File: f, size: info.Size()}, nil
}
