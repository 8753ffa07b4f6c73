// vamana-server loads a vector set from disk, builds a vamana.Index, and
// serves it over pkg/apiserver's JSON-over-HTTP API -- the REST-only
// counterpart to the teacher's cmd/server, which fronted a gRPC service
// with a REST gateway. There is no gRPC hop here: the index is linked
// straight into the HTTP handlers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/apiserver"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/apiserver/middleware"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/config"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/observability"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/vamana"
)

var version = "1.0.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version and exit")
		host        = flag.String("host", "", "REST host (overrides env)")
		port        = flag.Int("port", 0, "REST port (overrides env)")
		vectorsFile = flag.String("vectors", "", "path to a vectors JSON file (required)")
		dataDir     = flag.String("data-dir", "", "output directory for the paged graph file (overrides env)")
		throttleRPS = flag.Float64("query-rate", 0, "max sustained Nearest calls/sec against the mmap handle (0 disables throttling)")
		throttleBrs = flag.Int("query-burst", 20, "burst allowance for -query-rate")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("vamana-server version %s\n", version)
		os.Exit(0)
	}

	cfg := config.LoadFromEnv()
	if *host != "" {
		cfg.REST.Host = *host
	}
	if *port > 0 {
		cfg.REST.Port = *port
	}
	if *dataDir != "" {
		cfg.Database.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if *vectorsFile == "" {
		log.Fatal("-vectors is required")
	}

	logger := observability.NewDefaultLogger().WithField("component", "vamana-server")
	metrics := observability.NewMetrics()

	idx, err := buildIndex(cfg, *vectorsFile, metrics)
	if err != nil {
		log.Fatalf("failed to build index: %v", err)
	}
	defer idx.Close()
	if *throttleRPS > 0 {
		idx.SetQueryThrottle(vamana.NewQueryThrottle(*throttleRPS, *throttleBrs))
	}

	server := apiserver.NewServer(apiserver.Config{
		Host:        cfg.REST.Host,
		Port:        cfg.REST.Port,
		CORSEnabled: cfg.REST.CORSEnabled,
		CORSOrigins: cfg.REST.CORSOrigins,
		Auth: middleware.AuthConfig{
			Enabled:     cfg.REST.AuthEnabled,
			JWTSecret:   cfg.REST.JWTSecret,
			PublicPaths: cfg.REST.PublicPaths,
			AdminPaths:  cfg.REST.AdminPaths,
		},
		RateLimit: middleware.RateLimitConfig{
			Enabled:        cfg.REST.RateLimitEnabled,
			RequestsPerSec: cfg.REST.RateLimitPerSec,
			Burst:          cfg.REST.RateLimitBurst,
			PerIP:          cfg.REST.RateLimitPerIP,
			PerUser:        cfg.REST.RateLimitPerUser,
			GlobalLimit:    cfg.REST.RateLimitGlobal,
		},
	}, idx, logger, metrics)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	log.Printf("vamana-server ready on %s", cfg.REST.Address())
	select {
	case sig := <-sigChan:
		log.Printf("received signal: %v", sig)
	case err := <-errChan:
		log.Printf("server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

type vectorSet struct {
	Vectors [][]float32 `json:"vectors"`
	IDs     []uint32    `json:"ids,omitempty"`
}

// buildIndex loads vectorsFile and runs the full build pipeline. There is
// no persisted codebook/medoid sidecar, so the server rebuilds from the
// source vectors on every start rather than reopening a prior paged file.
func buildIndex(cfg *config.Config, vectorsFile string, metrics *observability.Metrics) (*vamana.Index, error) {
	data, err := os.ReadFile(vectorsFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", vectorsFile, err)
	}
	var vs vectorSet
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", vectorsFile, err)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	reader, err := vamana.NewSliceReader(vs.Vectors, vs.IDs)
	if err != nil {
		return nil, fmt.Errorf("invalid vectors file: %w", err)
	}

	idx, err := vamana.New("server", filepath.Join(cfg.Database.DataDir, "index.graph"),
		cfg.Vamana.Dimensions, distance.L2, cfg.Vamana.Alpha, cfg.Vamana.M, cfg.Vamana.L, cfg.Vamana.Compression)
	if err != nil {
		return nil, fmt.Errorf("construct index: %w", err)
	}
	idx.SetMetrics(metrics)

	start := time.Now()
	if err := idx.BuildIndex(cfg.Vamana.Partitions, reader); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	log.Printf("index built from %d vectors in %v", reader.Size(), time.Since(start))
	return idx, nil
}
