// Command baodb is a CLI interface to BAO blob stores.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/bobg/subcmd"
	"go.uber.org/zap"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/store"
	_ "github.com/bobg/baodb/store/file"
	_ "github.com/bobg/baodb/store/logging"
	_ "github.com/bobg/baodb/store/lru"
	_ "github.com/bobg/baodb/store/mem"
)

type maincmd struct {
	m    baodb.ReadonlyMap
	conf map[string]interface{}
	log  *zap.Logger
}

func main() {
	var (
		config = flag.String("config", "baodb.json", "path to config file")
		debug  = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	if *config == "" {
		log.Fatal("Config value not set")
	}

	var conf map[string]interface{}
	f, err := os.Open(*config)
	if err != nil {
		log.Fatalf("Opening config file %s: %s", *config, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	err = dec.Decode(&conf)
	if err != nil {
		log.Fatalf("Decoding config file %s: %s", *config, err)
	}

	typ, ok := conf["type"].(string)
	if !ok {
		log.Fatalf("Config file %s missing `type` parameter", *config)
	}

	var logger *zap.Logger
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Creating logger: %s", err)
	}
	defer logger.Sync()

	ctx := store.WithLogger(context.Background(), logger)

	m, err := store.Create(ctx, typ, conf)
	if err != nil {
		log.Fatalf("Creating %s-type store: %s", typ, err)
	}

	err = subcmd.Run(ctx, maincmd{m: m, conf: conf, log: logger}, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"add":      c.add,
		"blobs":    c.blobs,
		"get":      c.get,
		"roots":    c.roots,
		"validate": c.validate,
	}
}
