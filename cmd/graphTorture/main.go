package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	ouroboros "github.com/i5heu/ouroboros-graph"
	"github.com/i5heu/ouroboros-graph/pkg/anchor"
	"github.com/i5heu/ouroboros-graph/pkg/logging"
	"github.com/i5heu/ouroboros-graph/pkg/types"
)

type Block struct {
	anchor.NodeArchitype
	Writer int
	Seq    int
}

type Link struct {
	anchor.EdgeArchitype
}

var (
	// 1 = Save per node, 2 = one Flush per chain
	mode             = flag.Int("mode", 2, "1 = save every node, 2 = flush whole chains")
	writers          = flag.Int("writers", 16, "concurrent writers")
	chainLength      = flag.Int("chain", 200, "nodes per writer")
	limitConcurrency = flag.Int("limit", 8, "writers allowed to commit at once")
	dataPath         = flag.String("path", "./tmp", "data directory")
)

func main() {
	flag.Parse()
	log := logging.Logger

	db, err := ouroboros.New(ouroboros.Config{
		Paths:  []string{toAbsolutePath(*dataPath)},
		Retry:  &anchor.RetryConfig{TransactionMaxRetry: 5, CommitMaxRetry: 5},
		Logger: log,
	})
	if err != nil {
		log.Fatal(err)
	}
	db.Registry().MustRegister(anchor.Definition{New: func() anchor.Architype { return &Block{} }})
	db.Registry().MustRegister(anchor.Definition{New: func() anchor.Architype { return &Link{} }})

	ctx := context.Background()
	if err := db.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer db.CloseWithoutContext()

	start := time.Now()
	refs := make([][]types.Ref, *writers)
	wg := sync.WaitGroup{}
	limitConcurrencyChan := make(chan struct{}, *limitConcurrency)

	for w := 0; w < *writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			limitConcurrencyChan <- struct{}{}
			defer func() { <-limitConcurrencyChan }()

			written, err := writeChain(ctx, db, w)
			if err != nil {
				log.Errorf("writer %d: %v", w, err)
			}
			refs[w] = written
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	ec, err := db.SystemContext()
	if err != nil {
		log.Fatal(err)
	}
	total, notFoundCounter := 0, 0
	for w, chain := range refs {
		for seq, ref := range chain {
			total++
			arch, err := ec.Arena.Node(ref).Sync(ctx, ec, nil)
			if err != nil {
				log.Fatalf("Error reading %s: %v", ref, err)
			}
			if arch == nil {
				notFoundCounter++
				continue
			}
			b := arch.(*Block)
			if b.Writer != w || b.Seq != seq {
				log.Printf("Error: %s holds writer=%d seq=%d, want %d/%d", ref, b.Writer, b.Seq, w, seq)
			}
		}
	}

	percentNotFound := 0.0
	if total > 0 {
		percentNotFound = float64(notFoundCounter) / float64(total) * 100
	}
	fmt.Println("not found nodes :", percentNotFound, "%  Nodes:", total, "Nodes not found:", notFoundCounter, "Took:", elapsed)
}

func writeChain(ctx context.Context, db *ouroboros.OuroborosDB, writer int) ([]types.Ref, error) {
	ec, err := db.SystemContext()
	if err != nil {
		return nil, err
	}

	var refs []types.Ref
	var prev *anchor.NodeAnchor
	for seq := 0; seq < *chainLength; seq++ {
		n, err := anchor.NewNode(ec, &Block{Writer: writer, Seq: seq})
		if err != nil {
			return refs, err
		}
		if prev != nil {
			e, err := anchor.NewEdge(ec, &Link{})
			if err != nil {
				return refs, err
			}
			prev.ConnectNode(n, e)
		}
		if *mode == 1 {
			if _, err := n.Save(ctx, ec, nil); err != nil {
				return refs, err
			}
		}
		refs = append(refs, n.Reference())
		prev = n
	}
	if *mode == 2 {
		if _, err := ec.Flush(ctx); err != nil {
			return refs, err
		}
	}
	return refs, nil
}

func toAbsolutePath(relativePathOrAbsolute string) string {
	absolutePath, err := filepath.Abs(relativePathOrAbsolute)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return relativePathOrAbsolute
	}
	return absolutePath
}
