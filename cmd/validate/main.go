// Package main provides the bundle validator: it checks rules bundle files
// against the bundle schema and the graph/rule invariants without starting
// an engine, and exits non-zero on the first failure.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cory-johannsen/multitracker/internal/game/world"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s bundle.json [bundle.json ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	failed := false
	for _, path := range flag.Args() {
		bundle, err := world.LoadBundleFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		for name, sd := range bundle.Players {
			fmt.Printf("%s: player %q: game=%s regions=%d locations=%d\n",
				path, name, sd.Game, sd.RegionCount(), sd.LocationCount())
		}
	}
	if failed {
		os.Exit(1)
	}
}
