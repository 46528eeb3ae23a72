package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/bobg/baodb"
)

func (c maincmd) blobs(_ context.Context, _ *flag.FlagSet, _ []string) error {
	printHashes(c.m.Blobs())
	return nil
}

func (c maincmd) roots(_ context.Context, _ *flag.FlagSet, _ []string) error {
	printHashes(c.m.Roots())
	return nil
}

func printHashes(hashes []baodb.Hash) {
	for _, h := range hashes {
		fmt.Println(h)
	}
}
