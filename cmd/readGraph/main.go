package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	ouroboros "github.com/i5heu/ouroboros-graph"
	"github.com/i5heu/ouroboros-graph/internal/config"
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/logging"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"gopkg.in/yaml.v2"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	path := flag.String("path", "", "data directory, overrides the config file")
	kinds := flag.String("kinds", "new", "anchor kinds to dump: n=node e=edge w=walker")
	flag.Parse()

	log := logging.Logger
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	} else if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("environment: %v", err)
	}
	if *path != "" {
		cfg.Store.Paths = []string{*path}
	}
	if l, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr); err == nil {
		log = l
	} else {
		log.Warnf("logger config ignored: %v", err)
	}

	db, err := ouroboros.New(ouroboros.FromFile(cfg, log))
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := db.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer db.CloseWithoutContext()

	store, err := db.Store()
	if err != nil {
		log.Fatal(err)
	}

	total := 0
	for _, kind := range types.AnchorTypes {
		if !strings.ContainsRune(*kinds, rune(kind)) {
			continue
		}
		n, err := dump(ctx, store, kind)
		if err != nil {
			log.Fatalf("dump %s: %v", kind, err)
		}
		total += n
	}
	fmt.Printf("# total documents: %d\n", total)
}

func dump(ctx context.Context, store datastore.Store, kind types.AnchorType) (int, error) {
	scanner, ok := store.Collection(kind).(datastore.Scanner)
	if !ok {
		return 0, fmt.Errorf("collection %s can not be scanned", kind.Collection())
	}

	count := 0
	err := scanner.Scan(ctx, func(doc datastore.Document) error {
		out, err := yaml.Marshal(map[string]any{kind.Collection(): map[string]any(doc)})
		if err != nil {
			return err
		}
		fmt.Printf("---\n%s", out)
		count++
		return nil
	})
	return count, err
}
