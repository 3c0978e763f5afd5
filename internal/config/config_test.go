package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Embedding.Model != "all-MiniLM-L6-v2" {
		t.Errorf("Embedding.Model = %q, want all-MiniLM-L6-v2", cfg.Embedding.Model)
	}
	if cfg.Cache.Type != "memory" || cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("Cache = %+v, want memory with 24h TTL", cfg.Cache)
	}
	if cfg.Search.SimilarityThreshold != 0.3 {
		t.Errorf("SimilarityThreshold = %v, want 0.3", cfg.Search.SimilarityThreshold)
	}
	if !cfg.Search.FallbackEnabled {
		t.Error("FallbackEnabled = false, want true by default")
	}
	if cfg.Bus.Type != "memory" {
		t.Errorf("Bus.Type = %q, want memory", cfg.Bus.Type)
	}
	if cfg.Qdrant.CollectionPrefix != "prop_" {
		t.Errorf("CollectionPrefix = %q, want prop_", cfg.Qdrant.CollectionPrefix)
	}
}

func TestLoadFromYAML(t *testing.T) {
	content := `
port: 9090
embedding:
  urls: "http://embed-a:8001,http://embed-b:8001"
  retries: 5
search:
  similarity_threshold: 0.5
ranking:
  base_score: 0.7
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if got := cfg.Embedding.EndpointList(); len(got) != 2 || got[0] != "http://embed-a:8001" {
		t.Errorf("EndpointList() = %v, want two endpoints", got)
	}
	if cfg.Embedding.Retries != 5 {
		t.Errorf("Retries = %d, want 5", cfg.Embedding.Retries)
	}
	if cfg.Search.SimilarityThreshold != 0.5 {
		t.Errorf("SimilarityThreshold = %v, want 0.5", cfg.Search.SimilarityThreshold)
	}
	if cfg.Ranking.BaseScore == nil || *cfg.Ranking.BaseScore != 0.7 {
		t.Errorf("Ranking.BaseScore = %v, want 0.7", cfg.Ranking.BaseScore)
	}
	// Unset ranking weights stay nil so the defaults apply downstream.
	if cfg.Ranking.CityMatch != nil {
		t.Errorf("Ranking.CityMatch = %v, want nil", *cfg.Ranking.CityMatch)
	}

	// File values do not disturb untouched defaults.
	if cfg.Cache.Size != 10000 {
		t.Errorf("Cache.Size = %d, want default 10000", cfg.Cache.Size)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	content := "port: 9090\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PROP_PORT", "7070")
	t.Setenv("PROP_SIMILARITY_THRESHOLD", "0.6")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want env override 7070", cfg.Port)
	}
	if cfg.Search.SimilarityThreshold != 0.6 {
		t.Errorf("SimilarityThreshold = %v, want env override 0.6", cfg.Search.SimilarityThreshold)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() with missing file = nil error, want error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		setDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = 0 }, "port"},
		{"no endpoints", func(c *Config) { c.Embedding.URLs = " , " }, "embedding endpoint"},
		{"zero retries", func(c *Config) { c.Embedding.Retries = 0 }, "retries"},
		{"bad cache type", func(c *Config) { c.Cache.Type = "disk" }, "cache type"},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }, "ttl"},
		{"zero vector size", func(c *Config) { c.Qdrant.VectorSize = 0 }, "vector_size"},
		{"threshold too high", func(c *Config) { c.Search.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"max below default page size", func(c *Config) { c.Search.MaxPageSize = 5 }, "max_page_size"},
		{"weight out of range", func(c *Config) { w := 1.2; c.Ranking.Recency = &w }, "ranking weight"},
		{"bad bus type", func(c *Config) { c.Bus.Type = "rabbitmq" }, "bus type"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Port = 0
	cfg.Cache.Type = "disk"
	cfg.Log.Level = "trace"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want combined error")
	}
	for _, want := range []string{"port", "cache type", "log level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("combined error missing %q: %v", want, err)
		}
	}
}

func TestEndpointList(t *testing.T) {
	tests := []struct {
		urls string
		want []string
	}{
		{"http://a:8001", []string{"http://a:8001"}},
		{"http://a:8001/, http://b:8001 ", []string{"http://a:8001", "http://b:8001"}},
		{"", nil},
	}

	for _, tt := range tests {
		e := EmbeddingConfig{URLs: tt.urls}
		got := e.EndpointList()
		if len(got) != len(tt.want) {
			t.Errorf("EndpointList(%q) = %v, want %v", tt.urls, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("EndpointList(%q)[%d] = %q, want %q", tt.urls, i, got[i], tt.want[i])
			}
		}
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 9000}
	if got := cfg.Address(); got != "127.0.0.1:9000" {
		t.Errorf("Address() = %q, want 127.0.0.1:9000", got)
	}
}
