package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/baodb"
)

func (c maincmd) validate(ctx context.Context, _ *flag.FlagSet, _ []string) error {
	var (
		ch    = make(chan baodb.ValidateEvent, 64)
		errch = make(chan error, 1)
	)
	go func() {
		defer close(ch)
		errch <- c.m.Validate(ctx, ch)
	}()

	var (
		entries = make(map[uint64]baodb.ValidateEntry)
		failed  int
	)
	for ev := range ch {
		switch ev := ev.(type) {
		case baodb.ValidateStarting:
			c.log.Info("validating", zap.Uint64("total", ev.Total))

		case baodb.ValidateEntry:
			entries[ev.ID] = ev

		case baodb.ValidateProgress:
			c.log.Debug("progress", zap.Uint64("id", ev.ID), zap.Uint64("offset", ev.Offset))

		case baodb.ValidateDone:
			e := entries[ev.ID]
			name := e.Path
			if name == "" {
				name = "(internal)"
			}
			if ev.Error != "" {
				failed++
				fmt.Printf("FAIL %s %s: %s\n", e.Hash, name, ev.Error)
			} else {
				fmt.Printf("ok   %s %s\n", e.Hash, name)
			}
		}
	}
	if err := <-errch; err != nil {
		return errors.Wrap(err, "validating")
	}
	if failed > 0 {
		return fmt.Errorf("%d entries failed validation", failed)
	}
	return nil
}
