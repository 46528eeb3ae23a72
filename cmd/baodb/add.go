package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/baodb/store/file"
)

func (c maincmd) add(ctx context.Context, fs *flag.FlagSet, args []string) error {
	internal := fs.Bool("internal", false, "store file contents in the database instead of referring to the files")
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	db, ok := c.m.(*file.Database)
	if !ok {
		return fmt.Errorf("cannot add to a store of type %T", c.m)
	}
	root, ok := c.conf["root"].(string)
	if !ok {
		return errors.New(`config missing "root" parameter`)
	}

	for _, path := range fs.Args() {
		if *internal {
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "reading %s", path)
			}
			h := db.AddBytes(data)
			fmt.Printf("%s %s\n", h, path)
			continue
		}

		h, err := db.AddFile(ctx, path)
		if err != nil {
			return errors.Wrapf(err, "adding %s", path)
		}
		fmt.Printf("%s %s\n", h, path)
	}

	return db.Save(ctx, root)
}
