package config

import "testing"

func TestLoadAppliesDefaultsAndRequiredFields(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/datasync")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default HTTP_ADDR, got %q", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "postgres://localhost/datasync" {
		t.Fatalf("expected DATABASE_URL from environment, got %q", cfg.DatabaseURL)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("expected default ENVIRONMENT to be development")
	}
	if len(cfg.Tables) != 1 || cfg.Tables[0] != "items" {
		t.Fatalf("expected default Tables [items], got %v", cfg.Tables)
	}
}

func TestLoadFailsWithoutRequiredDatabaseURL(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestLoadClientConfigAppliesDefaults(t *testing.T) {
	t.Setenv("DATASYNC_SERVICE_URL", "https://sync.example.com")

	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.BasePath != "tables" {
		t.Fatalf("expected default BasePath, got %q", cfg.BasePath)
	}
	if cfg.PushParallelism != 1 {
		t.Fatalf("expected default push parallelism 1, got %d", cfg.PushParallelism)
	}
}

func TestLoadClientConfigFailsWithoutServiceURL(t *testing.T) {
	if _, err := LoadClientConfig(); err == nil {
		t.Fatal("expected error when DATASYNC_SERVICE_URL is unset")
	}
}
