package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/baodb"
)

func (c maincmd) get(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	args = fs.Args()
	if len(args) != 1 {
		return errors.New("usage: get HASH")
	}

	h, err := baodb.HashFromHex(args[0])
	if err != nil {
		return errors.Wrapf(err, "decoding hash %s", args[0])
	}

	ob, r, err := baodb.Open(ctx, c.m, h)
	if err != nil {
		return errors.Wrapf(err, "opening %s", h)
	}
	defer r.Close()

	if err = ob.Verify(io.NewSectionReader(r, 0, r.Size()), nil); err != nil {
		return errors.Wrapf(err, "verifying %s", h)
	}

	_, err = io.Copy(os.Stdout, io.NewSectionReader(r, 0, int64(ob.Size())))
	return errors.Wrap(err, "writing blob to stdout")
}
