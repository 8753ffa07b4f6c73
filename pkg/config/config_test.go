package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Test Server defaults
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 50051 {
		t.Errorf("Expected port 50051, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections != 1000 {
		t.Errorf("Expected max connections 1000, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("Expected request timeout 30s, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.EnableTLS {
		t.Error("Expected TLS disabled by default")
	}

	// Test Vamana defaults
	if cfg.Vamana.M != 64 {
		t.Errorf("Expected M=64, got %d", cfg.Vamana.M)
	}
	if cfg.Vamana.L != 128 {
		t.Errorf("Expected L=128, got %d", cfg.Vamana.L)
	}
	if cfg.Vamana.Alpha != 1.2 {
		t.Errorf("Expected Alpha=1.2, got %v", cfg.Vamana.Alpha)
	}
	if cfg.Vamana.Compression != 32 {
		t.Errorf("Expected Compression=32, got %d", cfg.Vamana.Compression)
	}
	if cfg.Vamana.Partitions != 8 {
		t.Errorf("Expected Partitions=8, got %d", cfg.Vamana.Partitions)
	}
	if cfg.Vamana.Dimensions != 768 {
		t.Errorf("Expected Dimensions=768, got %d", cfg.Vamana.Dimensions)
	}

	// Test Cache defaults
	if !cfg.Cache.Enabled {
		t.Error("Expected cache enabled by default")
	}
	if cfg.Cache.Capacity != 1000 {
		t.Errorf("Expected cache capacity 1000, got %d", cfg.Cache.Capacity)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Expected cache TTL 5m, got %v", cfg.Cache.TTL)
	}

	// Test Database defaults
	if cfg.Database.DataDir != "./data" {
		t.Errorf("Expected data dir ./data, got %s", cfg.Database.DataDir)
	}
	if cfg.Database.SyncWrites {
		t.Error("Expected sync writes disabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	envVars := []string{
		"VAMANA_HOST", "VAMANA_PORT", "VAMANA_MAX_CONNECTIONS",
		"VAMANA_REQUEST_TIMEOUT", "VAMANA_ENABLE_TLS",
		"VAMANA_M", "VAMANA_L", "VAMANA_ALPHA", "VAMANA_COMPRESSION",
		"VAMANA_PARTITIONS", "VAMANA_DIMENSIONS",
		"VAMANA_CACHE_ENABLED", "VAMANA_CACHE_CAPACITY", "VAMANA_CACHE_TTL",
		"VAMANA_DATA_DIR", "VAMANA_SYNC_WRITES",
	}

	originalEnv := make(map[string]string)
	for _, key := range envVars {
		originalEnv[key] = os.Getenv(key)
	}
	defer func() {
		for key, value := range originalEnv {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	os.Setenv("VAMANA_HOST", "127.0.0.1")
	os.Setenv("VAMANA_PORT", "8080")
	os.Setenv("VAMANA_MAX_CONNECTIONS", "5000")
	os.Setenv("VAMANA_REQUEST_TIMEOUT", "60s")
	os.Setenv("VAMANA_ENABLE_TLS", "true")

	os.Setenv("VAMANA_M", "32")
	os.Setenv("VAMANA_L", "64")
	os.Setenv("VAMANA_ALPHA", "1.4")
	os.Setenv("VAMANA_COMPRESSION", "16")
	os.Setenv("VAMANA_PARTITIONS", "4")
	os.Setenv("VAMANA_DIMENSIONS", "1536")

	os.Setenv("VAMANA_CACHE_ENABLED", "false")
	os.Setenv("VAMANA_CACHE_CAPACITY", "5000")
	os.Setenv("VAMANA_CACHE_TTL", "10m")

	os.Setenv("VAMANA_DATA_DIR", "/var/lib/vamana")
	os.Setenv("VAMANA_SYNC_WRITES", "true")

	cfg := LoadFromEnv()

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections != 5000 {
		t.Errorf("Expected max connections 5000, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.RequestTimeout != 60*time.Second {
		t.Errorf("Expected request timeout 60s, got %v", cfg.Server.RequestTimeout)
	}
	if !cfg.Server.EnableTLS {
		t.Error("Expected TLS enabled")
	}

	if cfg.Vamana.M != 32 {
		t.Errorf("Expected M=32, got %d", cfg.Vamana.M)
	}
	if cfg.Vamana.L != 64 {
		t.Errorf("Expected L=64, got %d", cfg.Vamana.L)
	}
	if cfg.Vamana.Alpha != 1.4 {
		t.Errorf("Expected Alpha=1.4, got %v", cfg.Vamana.Alpha)
	}
	if cfg.Vamana.Compression != 16 {
		t.Errorf("Expected Compression=16, got %d", cfg.Vamana.Compression)
	}
	if cfg.Vamana.Partitions != 4 {
		t.Errorf("Expected Partitions=4, got %d", cfg.Vamana.Partitions)
	}
	if cfg.Vamana.Dimensions != 1536 {
		t.Errorf("Expected Dimensions=1536, got %d", cfg.Vamana.Dimensions)
	}

	if cfg.Cache.Enabled {
		t.Error("Expected cache disabled")
	}
	if cfg.Cache.Capacity != 5000 {
		t.Errorf("Expected cache capacity 5000, got %d", cfg.Cache.Capacity)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Expected cache TTL 10m, got %v", cfg.Cache.TTL)
	}

	if cfg.Database.DataDir != "/var/lib/vamana" {
		t.Errorf("Expected data dir /var/lib/vamana, got %s", cfg.Database.DataDir)
	}
	if !cfg.Database.SyncWrites {
		t.Error("Expected sync writes enabled")
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	originalPort := os.Getenv("VAMANA_PORT")
	defer func() {
		if originalPort == "" {
			os.Unsetenv("VAMANA_PORT")
		} else {
			os.Setenv("VAMANA_PORT", originalPort)
		}
	}()

	os.Setenv("VAMANA_PORT", "invalid")
	cfg := LoadFromEnv()

	if cfg.Server.Port != 50051 {
		t.Errorf("Expected default port 50051 for invalid value, got %d", cfg.Server.Port)
	}
}

func TestLoadFromEnv_DefaultsWhenNotSet(t *testing.T) {
	envVars := []string{
		"VAMANA_HOST", "VAMANA_PORT", "VAMANA_MAX_CONNECTIONS",
		"VAMANA_REQUEST_TIMEOUT", "VAMANA_ENABLE_TLS",
		"VAMANA_M", "VAMANA_L", "VAMANA_DIMENSIONS",
		"VAMANA_CACHE_ENABLED", "VAMANA_CACHE_CAPACITY", "VAMANA_CACHE_TTL",
		"VAMANA_DATA_DIR", "VAMANA_SYNC_WRITES",
	}

	originalEnv := make(map[string]string)
	for _, key := range envVars {
		originalEnv[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	defer func() {
		for key, value := range originalEnv {
			if value != "" {
				os.Setenv(key, value)
			}
		}
	}()

	cfg := LoadFromEnv()
	defaults := Default()

	if cfg.Server.Host != defaults.Server.Host {
		t.Errorf("Expected default host, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != defaults.Server.Port {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Vamana.M != defaults.Vamana.M {
		t.Errorf("Expected default M, got %d", cfg.Vamana.M)
	}
	if cfg.Cache.Enabled != defaults.Cache.Enabled {
		t.Errorf("Expected default cache enabled, got %v", cfg.Cache.Enabled)
	}
	if cfg.Database.DataDir != defaults.Database.DataDir {
		t.Errorf("Expected default data dir, got %s", cfg.Database.DataDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "Valid default config",
			config:  Default(),
			wantErr: false,
		},
		{
			name: "Invalid port (too low)",
			config: &Config{
				Server: ServerConfig{Port: 0},
				Vamana: Default().Vamana,
				Database: DatabaseConfig{DataDir: "./data"},
			},
			wantErr: true,
		},
		{
			name: "Invalid port (too high)",
			config: &Config{
				Server: ServerConfig{Port: 70000},
				Vamana: Default().Vamana,
				Database: DatabaseConfig{DataDir: "./data"},
			},
			wantErr: true,
		},
		{
			name: "Invalid M (too low)",
			config: &Config{
				Server: Default().Server,
				REST: Default().REST,
				Vamana: VamanaConfig{M: 0, L: 10, Alpha: 1.2, Compression: 4, Partitions: 1, PageSize: 4096, Dimensions: 8},
				Database: DatabaseConfig{DataDir: "./data"},
			},
			wantErr: true,
		},
		{
			name: "Invalid dimensions",
			config: &Config{
				Server: Default().Server,
				REST: Default().REST,
				Vamana: VamanaConfig{M: 16, L: 32, Alpha: 1.2, Compression: 4, Partitions: 1, PageSize: 4096, Dimensions: 0},
				Database: DatabaseConfig{DataDir: "./data"},
			},
			wantErr: true,
		},
		{
			name: "Invalid compression (not a multiple of 4)",
			config: &Config{
				Server: Default().Server,
				REST: Default().REST,
				Vamana: VamanaConfig{M: 16, L: 32, Alpha: 1.2, Compression: 3, Partitions: 1, PageSize: 4096, Dimensions: 8},
				Database: DatabaseConfig{DataDir: "./data"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "localhost",
		Port: 8080,
	}

	addr := cfg.Address()
	expected := "localhost:8080"

	if addr != expected {
		t.Errorf("Expected address %s, got %s", expected, addr)
	}

	defaultCfg := Default()
	addr = defaultCfg.Server.Address()
	expected = "0.0.0.0:50051"

	if addr != expected {
		t.Errorf("Expected default address %s, got %s", expected, addr)
	}
}
