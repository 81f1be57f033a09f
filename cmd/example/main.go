package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	ouroboros "github.com/i5heu/ouroboros-graph"
	"github.com/i5heu/ouroboros-graph/pkg/anchor"
	"github.com/i5heu/ouroboros-graph/pkg/logging"
	"github.com/i5heu/ouroboros-graph/pkg/types"
)

type Person struct {
	anchor.NodeArchitype
	Name   string
	Greets int
}

type Knows struct {
	anchor.EdgeArchitype
	Since int
}

// Greeter walks over "Knows" edges and greets everyone it finds.
type Greeter struct {
	anchor.WalkerArchitype
	Greeted []string
}

func greet(ctx context.Context, ec *anchor.ExecContext, here, other anchor.Architype) (any, error) {
	g := here.(*Greeter)
	p := other.(*Person)
	p.Greets++
	g.Greeted = append(g.Greeted, p.Name)

	next, err := p.Jac().EdgesToNodes(ctx, ec, anchor.EdgeQuery{Dir: anchor.Out, TargetTypes: []string{"Person"}})
	if err != nil {
		return nil, err
	}
	for _, n := range next {
		if _, err := g.Jac().VisitNode(ctx, ec, n.(*Person).Jac()); err != nil {
			return nil, err
		}
	}
	return "hello " + p.Name, nil
}

func main() {
	path := flag.String("path", "", "data directory, empty keeps everything in memory")
	flag.Parse()

	log, err := logging.New("info", "text", os.Stderr)
	if err != nil {
		logging.Logger.Fatal(err)
	}

	db, err := ouroboros.New(ouroboros.Config{
		Paths:    []string{*path},
		InMemory: *path == "",
		Logger:   log,
	})
	if err != nil {
		log.Fatalf("Failed to initialize OuroborosDB: %v", err)
	}
	db.Registry().MustRegister(anchor.Definition{New: func() anchor.Architype { return &Person{} }})
	db.Registry().MustRegister(anchor.Definition{New: func() anchor.Architype { return &Knows{} }})
	db.Registry().MustRegister(anchor.Definition{
		New:   func() anchor.Architype { return &Greeter{} },
		Entry: []anchor.Ability{{Name: "greet", Trigger: []string{"Person"}, Func: greet}},
	})

	ctx := context.Background()
	if err := db.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer db.CloseWithoutContext()

	root, err := db.CreateRoot(ctx)
	if err != nil {
		log.Fatal(err)
	}
	ec, err := db.NewContext(ctx, root.ID)
	if err != nil {
		log.Fatal(err)
	}

	people := map[string]*anchor.NodeAnchor{}
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		n, err := anchor.NewNode(ec, &Person{Name: name})
		if err != nil {
			log.Fatal(err)
		}
		people[name] = n
	}
	for i, pair := range [][2]string{{"alice", "bob"}, {"alice", "carol"}, {"carol", "dave"}} {
		e, err := anchor.NewEdge(ec, &Knows{Since: 2020 + i})
		if err != nil {
			log.Fatal(err)
		}
		people[pair[0]].ConnectNode(people[pair[1]], e)
	}
	// bob is readable by every root
	people["bob"].Unrestrict(types.Read)
	if _, err := people["alice"].Save(ctx, ec, nil); err != nil {
		log.Fatalf("save graph: %v", err)
	}

	walkers, err := db.SpawnAll(ctx, []ouroboros.SpawnJob{
		{Root: root.ID, Start: people["alice"].RefID(), Walker: &Greeter{}},
		{Root: root.ID, Start: people["carol"].RefID(), Walker: &Greeter{}, Persistent: true},
	})
	if err != nil {
		log.Fatalf("spawn: %v", err)
	}
	for _, w := range walkers {
		fmt.Printf("%s greeted %v\n", w.RefID(), w.Architype().(*Greeter).Greeted)
	}

	fresh, err := db.NewContext(ctx, root.ID)
	if err != nil {
		log.Fatal(err)
	}
	start := fresh.Arena.Node(people["alice"].Reference())
	if err := start.GenDot(ctx, fresh, os.Stdout); err != nil {
		log.Fatal(err)
	}
	fmt.Println()
}
