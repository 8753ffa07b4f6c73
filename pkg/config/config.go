package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server and index configuration.
type Config struct {
	Server   ServerConfig
	REST     RESTConfig
	Vamana   VamanaConfig
	Cache    CacheConfig
	Database DatabaseConfig
}

// RESTConfig holds the JSON-over-HTTP API server's own host/port plus its
// auth and rate-limit middleware settings.
type RESTConfig struct {
	Host             string   // REST listen host (default: "0.0.0.0")
	Port             int      // REST listen port (default: 8080)
	CORSEnabled      bool     // Enable permissive CORS
	CORSOrigins      []string // Allowed CORS origins
	AuthEnabled      bool     // Require a JWT on non-public paths
	JWTSecret        string   // HMAC signing secret
	PublicPaths      []string // Paths exempt from auth
	AdminPaths       []string // Paths requiring the "admin" role
	RateLimitEnabled bool     // Enable per-client rate limiting
	RateLimitPerSec  float64  // Sustained requests/sec per key
	RateLimitBurst   int      // Burst allowance
	RateLimitPerIP   bool     // Key by client IP
	RateLimitPerUser bool     // Key by authenticated user id
	RateLimitGlobal  bool     // Also enforce a server-wide limit
}

// ServerConfig holds gRPC/REST server configuration.
type ServerConfig struct {
	Host            string        // Server host (default: "0.0.0.0")
	Port            int           // Server port (default: 50051)
	MaxConnections  int           // Max concurrent connections
	RequestTimeout  time.Duration // Request timeout
	ShutdownTimeout time.Duration // Graceful shutdown timeout
	EnableTLS       bool          // Enable TLS
	CertFile        string        // TLS certificate file
	KeyFile         string        // TLS key file
}

// VamanaConfig holds the index construction and search parameters.
type VamanaConfig struct {
	Dimensions  int     // Vector dimension D (default: 768)
	M           int     // Max out-degree per vertex (default: 64)
	L           int     // Beam/candidate-queue width (default: 128)
	Alpha       float64 // Robust-prune diversity multiplier (default: 1.2)
	Compression int     // PQ compression ratio, bytes/f32 must divide evenly (default: 32)
	Partitions  int     // Partition count P for the parallel build (default: 8)
	PageSize    int     // Paged file page size in bytes (default: 4096)
}

// CacheConfig holds query cache configuration.
type CacheConfig struct {
	Enabled  bool          // Enable query caching
	Capacity int           // Max cache entries
	TTL      time.Duration // Time to live for cache entries
}

// DatabaseConfig holds storage configuration.
type DatabaseConfig struct {
	DataDir    string // Data directory path for the paged graph file
	SyncWrites bool   // fsync/msync after build and merge
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            50051,
			MaxConnections:  1000,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EnableTLS:       false,
		},
		REST: RESTConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			CORSEnabled:      false,
			AuthEnabled:      false,
			JWTSecret:        "",
			PublicPaths:      []string{"/v1/health"},
			AdminPaths:       []string{"/v1/build"},
			RateLimitEnabled: true,
			RateLimitPerSec:  50,
			RateLimitBurst:   100,
			RateLimitPerIP:   true,
			RateLimitPerUser: false,
			RateLimitGlobal:  false,
		},
		Vamana: VamanaConfig{
			Dimensions:  768,
			M:           64,
			L:           128,
			Alpha:       1.2,
			Compression: 32,
			Partitions:  8,
			PageSize:    4096,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 1000,
			TTL:      5 * time.Minute,
		},
		Database: DatabaseConfig{
			DataDir:    "./data",
			SyncWrites: false,
		},
	}
}

// LoadFromEnv loads configuration from VAMANA_* environment variables,
// falling back to Default() for anything unset.
func LoadFromEnv() *Config {
	cfg := Default()

	// Server configuration
	if host := os.Getenv("VAMANA_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("VAMANA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if maxConn := os.Getenv("VAMANA_MAX_CONNECTIONS"); maxConn != "" {
		if mc, err := strconv.Atoi(maxConn); err == nil {
			cfg.Server.MaxConnections = mc
		}
	}
	if timeout := os.Getenv("VAMANA_REQUEST_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			cfg.Server.RequestTimeout = t
		}
	}
	if enableTLS := os.Getenv("VAMANA_ENABLE_TLS"); enableTLS == "true" {
		cfg.Server.EnableTLS = true
		cfg.Server.CertFile = os.Getenv("VAMANA_TLS_CERT")
		cfg.Server.KeyFile = os.Getenv("VAMANA_TLS_KEY")
	}

	// REST API configuration
	if restHost := os.Getenv("VAMANA_REST_HOST"); restHost != "" {
		cfg.REST.Host = restHost
	}
	if restPort := os.Getenv("VAMANA_REST_PORT"); restPort != "" {
		if p, err := strconv.Atoi(restPort); err == nil {
			cfg.REST.Port = p
		}
	}
	if corsEnabled := os.Getenv("VAMANA_CORS_ENABLED"); corsEnabled == "true" {
		cfg.REST.CORSEnabled = true
	}
	if authEnabled := os.Getenv("VAMANA_AUTH_ENABLED"); authEnabled == "true" {
		cfg.REST.AuthEnabled = true
	}
	if secret := os.Getenv("VAMANA_JWT_SECRET"); secret != "" {
		cfg.REST.JWTSecret = secret
	}
	if rlEnabled := os.Getenv("VAMANA_RATE_LIMIT_ENABLED"); rlEnabled == "false" {
		cfg.REST.RateLimitEnabled = false
	}
	if rlPerSec := os.Getenv("VAMANA_RATE_LIMIT_PER_SEC"); rlPerSec != "" {
		if v, err := strconv.ParseFloat(rlPerSec, 64); err == nil {
			cfg.REST.RateLimitPerSec = v
		}
	}
	if rlBurst := os.Getenv("VAMANA_RATE_LIMIT_BURST"); rlBurst != "" {
		if v, err := strconv.Atoi(rlBurst); err == nil {
			cfg.REST.RateLimitBurst = v
		}
	}

	// Vamana index configuration
	if dims := os.Getenv("VAMANA_DIMENSIONS"); dims != "" {
		if d, err := strconv.Atoi(dims); err == nil {
			cfg.Vamana.Dimensions = d
		}
	}
	if m := os.Getenv("VAMANA_M"); m != "" {
		if mVal, err := strconv.Atoi(m); err == nil {
			cfg.Vamana.M = mVal
		}
	}
	if l := os.Getenv("VAMANA_L"); l != "" {
		if lVal, err := strconv.Atoi(l); err == nil {
			cfg.Vamana.L = lVal
		}
	}
	if alpha := os.Getenv("VAMANA_ALPHA"); alpha != "" {
		if aVal, err := strconv.ParseFloat(alpha, 64); err == nil {
			cfg.Vamana.Alpha = aVal
		}
	}
	if compression := os.Getenv("VAMANA_COMPRESSION"); compression != "" {
		if cVal, err := strconv.Atoi(compression); err == nil {
			cfg.Vamana.Compression = cVal
		}
	}
	if partitions := os.Getenv("VAMANA_PARTITIONS"); partitions != "" {
		if pVal, err := strconv.Atoi(partitions); err == nil {
			cfg.Vamana.Partitions = pVal
		}
	}
	if pageSize := os.Getenv("VAMANA_PAGE_SIZE"); pageSize != "" {
		if psVal, err := strconv.Atoi(pageSize); err == nil {
			cfg.Vamana.PageSize = psVal
		}
	}

	// Cache configuration
	if cacheEnabled := os.Getenv("VAMANA_CACHE_ENABLED"); cacheEnabled == "false" {
		cfg.Cache.Enabled = false
	}
	if capacity := os.Getenv("VAMANA_CACHE_CAPACITY"); capacity != "" {
		if c, err := strconv.Atoi(capacity); err == nil {
			cfg.Cache.Capacity = c
		}
	}
	if ttl := os.Getenv("VAMANA_CACHE_TTL"); ttl != "" {
		if t, err := time.ParseDuration(ttl); err == nil {
			cfg.Cache.TTL = t
		}
	}

	// Database configuration
	if dataDir := os.Getenv("VAMANA_DATA_DIR"); dataDir != "" {
		cfg.Database.DataDir = dataDir
	}
	if sync := os.Getenv("VAMANA_SYNC_WRITES"); sync == "true" {
		cfg.Database.SyncWrites = true
	}

	return cfg
}

// Validate checks the configuration for the divisibility and
// positivity invariants the index construction relies on.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("invalid max connections: %d (must be > 0)", c.Server.MaxConnections)
	}
	if c.Server.EnableTLS {
		if c.Server.CertFile == "" || c.Server.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert or key file not specified")
		}
	}

	if c.REST.Port < 1 || c.REST.Port > 65535 {
		return fmt.Errorf("invalid REST port: %d (must be 1-65535)", c.REST.Port)
	}
	if c.REST.AuthEnabled && c.REST.JWTSecret == "" {
		return fmt.Errorf("REST auth enabled but no JWT secret specified")
	}
	if c.REST.RateLimitEnabled && c.REST.RateLimitPerSec <= 0 {
		return fmt.Errorf("invalid REST rate limit: %v (must be > 0)", c.REST.RateLimitPerSec)
	}

	if c.Vamana.Dimensions < 1 {
		return fmt.Errorf("invalid dimensions: %d (must be > 0)", c.Vamana.Dimensions)
	}
	if c.Vamana.M < 2 {
		return fmt.Errorf("invalid M: %d (must be >= 2)", c.Vamana.M)
	}
	if c.Vamana.L < c.Vamana.M {
		return fmt.Errorf("invalid L: %d (must be >= M=%d)", c.Vamana.L, c.Vamana.M)
	}
	if c.Vamana.Alpha < 1.0 {
		return fmt.Errorf("invalid alpha: %v (must be >= 1.0)", c.Vamana.Alpha)
	}
	if c.Vamana.Compression%4 != 0 {
		return fmt.Errorf("invalid compression: %d (must be a multiple of 4)", c.Vamana.Compression)
	}
	if c.Vamana.Partitions < 1 {
		return fmt.Errorf("invalid partitions: %d (must be > 0)", c.Vamana.Partitions)
	}
	if c.Vamana.PageSize < 64 {
		return fmt.Errorf("invalid page size: %d (must be >= 64)", c.Vamana.PageSize)
	}

	if c.Cache.Enabled && c.Cache.Capacity < 1 {
		return fmt.Errorf("invalid cache capacity: %d (must be > 0)", c.Cache.Capacity)
	}

	if c.Database.DataDir == "" {
		return fmt.Errorf("data directory not specified")
	}

	return nil
}

// Address returns the server address (host:port).
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns the REST API address (host:port).
func (c *RESTConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
