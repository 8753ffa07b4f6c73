// vamana-cli operates directly on a vamana.Index -- build/query/stats
// subcommands dispatched the way the teacher's cmd/cli dispatches
// insert/search/stats, but against the embedded library instead of a
// remote gRPC server, since the index is now a linkable package rather
// than a daemon-only service.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/observability"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/vamana"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		handleBuild(os.Args[2:])
	case "query":
		handleQuery(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "version":
		fmt.Printf("vamana-cli version %s\n", version)
	case "help", "-h", "--help":
		showUsage()
	default:
		fmt.Printf("unknown command: %s\n", os.Args[1])
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`vamana-cli -- build and query a Vamana ANN index

Usage:
  vamana-cli build  -vectors <file.json> -out <dir> [flags]
  vamana-cli query  -vectors <file.json> -out <dir> -query <vector.json> -k <n>
  vamana-cli stats  -vectors <file.json> -out <dir>
  vamana-cli version

Shared flags:
  -d int            vector dimension (required)
  -m int             max out-degree (default 64)
  -l int             beam width (default 128)
  -alpha float       robust-prune diversity multiplier (default 1.2)
  -compression int   PQ compression ratio, must divide d*4 evenly (default 32)
  -partitions int    parallel build partition count (default 8)`)
}

// vectorSet is the JSON shape of a -vectors file: a dense array of
// equal-length float arrays.
type vectorSet struct {
	Vectors [][]float32 `json:"vectors"`
	IDs     []uint32    `json:"ids,omitempty"`
}

func loadVectorSet(path string) (*vectorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var vs vectorSet
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &vs, nil
}

type commonFlags struct {
	d           int
	m           int
	l           int
	alpha       float64
	compression int
	partitions  int
	vectorsFile string
	outDir      string
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.IntVar(&cf.d, "d", 0, "vector dimension (required)")
	fs.IntVar(&cf.m, "m", 64, "max out-degree")
	fs.IntVar(&cf.l, "l", 128, "beam width")
	fs.Float64Var(&cf.alpha, "alpha", 1.2, "robust-prune diversity multiplier")
	fs.IntVar(&cf.compression, "compression", 32, "PQ compression ratio")
	fs.IntVar(&cf.partitions, "partitions", 8, "parallel build partition count")
	fs.StringVar(&cf.vectorsFile, "vectors", "", "path to a vectors JSON file (required)")
	fs.StringVar(&cf.outDir, "out", "./vamana-data", "output directory for the paged graph file")
	return cf
}

// buildAndOpen constructs an Index over cf and immediately runs
// BuildIndex against the vectors file. No codebook or medoid is saved
// beside the paged file, so every CLI invocation rebuilds from source
// vectors rather than reopening a prior run's paged file. BuildIndex
// seeds its RNG with a fixed value, but partitions are built by
// parallel workers, so repeated builds of the same input are not
// guaranteed to produce an identical graph.
func buildAndOpen(cf *commonFlags) (*vamana.Index, error) {
	if cf.d <= 0 {
		return nil, fmt.Errorf("-d is required")
	}
	if cf.vectorsFile == "" {
		return nil, fmt.Errorf("-vectors is required")
	}
	if err := os.MkdirAll(cf.outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	vs, err := loadVectorSet(cf.vectorsFile)
	if err != nil {
		return nil, err
	}
	reader, err := vamana.NewSliceReader(vs.Vectors, vs.IDs)
	if err != nil {
		return nil, fmt.Errorf("invalid vectors file: %w", err)
	}

	idx, err := vamana.New("cli", filepath.Join(cf.outDir, "index.graph"), cf.d, distance.L2, cf.alpha, cf.m, cf.l, cf.compression)
	if err != nil {
		return nil, fmt.Errorf("construct index: %w", err)
	}

	if err := idx.BuildIndex(cf.partitions, reader); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return idx, nil
}

func handleBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	fs.Parse(args)

	idx, err := buildAndOpen(cf)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	fmt.Printf("index built in %s\n", cf.outDir)
}

func handleQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	queryFile := fs.String("query", "", "path to a query vector JSON file (required)")
	k := fs.Int("k", 10, "number of results to return")
	fs.Parse(args)

	if *queryFile == "" {
		fmt.Println("error: -query is required")
		os.Exit(1)
	}

	idx, err := buildAndOpen(cf)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	data, err := os.ReadFile(*queryFile)
	if err != nil {
		fmt.Printf("error reading query file: %v\n", err)
		os.Exit(1)
	}
	var query []float32
	if err := json.Unmarshal(data, &query); err != nil {
		fmt.Printf("error parsing query vector: %v\n", err)
		os.Exit(1)
	}

	out := make([]uint32, *k)
	results, err := idx.Nearest(query, out, *k)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Nearest Neighbors ===")
	for i, id := range results {
		fmt.Printf("%d. vertex %d\n", i+1, id)
	}
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	fs.Parse(args)

	idx, err := buildAndOpen(cf)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	fmt.Println("=== Index Statistics ===")
	fmt.Printf("PQ error avg: %v\n", idx.GetPQErrorAvg())
	observability.NewDefaultLogger().Info("stats request complete", map[string]interface{}{"out_dir": cf.outDir})
}
