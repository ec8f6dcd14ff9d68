// Command dataset_gen is a tiny helper utility to generate deterministic
// synthetic compiler-invocation datasets for standalone benchmarking of
// ccachego (outside `go test`, e.g. feeding cmd/ccachego directly via a
// shell loop). It emits one invocation line per record:
//
//	<source-file> <flags...>
//
// drawn from a fixed-size pool of source file names, optionally following a
// Zipf distribution so a handful of files (headers, generated translation
// units) recur far more often than the rest, the way real build graphs do.
//
// Usage:
//
//	go run ./tools/dataset_gen -n 100000 -files 5000 -dist=zipf -seed=42 -out invocations.txt
//
// Flags:
//
//	-n       number of invocation records to generate (default 1e5)
//	-files   size of the distinct source-file pool (default 5000)
//	-dist    distribution over the file pool: "uniform" or "zipf" (default uniform)
//	-zipfs   Zipf s parameter (>1)  (default 1.2)
//	-zipfv   Zipf v parameter (>=1) (default 1.0)
//	-seed    RNG seed (default current time)
//	-out     output file (default stdout)
//
// © 2025 ccachego authors. MIT License.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

var flagSets = [][]string{
	{"-O2", "-c"},
	{"-O0", "-g", "-c"},
	{"-O3", "-DNDEBUG", "-c"},
	{"-Os", "-fPIC", "-c"},
}

func main() {
	var (
		n       = flag.Int("n", 100_000, "number of invocation records to generate")
		files   = flag.Int("files", 5000, "size of the distinct source-file pool")
		dist    = flag.String("dist", "uniform", "distribution over the file pool: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var fileIndex func() uint64
	switch *dist {
	case "uniform":
		fileIndex = func() uint64 { return uint64(rnd.Intn(*files)) }
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, uint64(*files-1))
		fileIndex = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		idx := fileIndex()
		flags := flagSets[rnd.Intn(len(flagSets))]
		fmt.Fprintf(w, "src/unit_%06d.c", idx)
		for _, f := range flags {
			fmt.Fprintf(w, " %s", f)
		}
		fmt.Fprintln(w)
	}
}
