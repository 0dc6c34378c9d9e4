package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ghmirror.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
db_path = "mirror.db"
repos = ["acme/widgets", "acme/gadgets"]
requests_per_hour = 5000

[[credentials]]
identity = "bot1"
secret = "s3cr3t"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "mirror.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.TickInterval != defaultTickInterval {
		t.Errorf("TickInterval = %v, want default %v", cfg.TickInterval, defaultTickInterval)
	}
	if cfg.RefreshInterval != defaultRefreshInterval {
		t.Errorf("RefreshInterval = %v, want default %v", cfg.RefreshInterval, defaultRefreshInterval)
	}

	repos, err := cfg.ParsedRepos()
	if err != nil {
		t.Fatalf("ParsedRepos: %v", err)
	}
	if len(repos) != 2 || repos[0].Organization != "acme" || repos[0].Name != "widgets" {
		t.Errorf("ParsedRepos = %+v", repos)
	}
}

func TestLoadRejectsMalformedRepo(t *testing.T) {
	path := writeConfig(t, `
db_path = "mirror.db"
repos = ["not-a-repo"]
requests_per_hour = 1000

[[credentials]]
identity = "bot1"
secret = "s3cr3t"
`)

	if _, err := Load(path); err == nil {
		t.Error("expected an error for a malformed repo entry")
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	path := writeConfig(t, `
db_path = "mirror.db"
repos = ["acme/widgets"]
requests_per_hour = 1000
`)

	if _, err := Load(path); err == nil {
		t.Error("expected an error when no credentials or credentials_file is set")
	}
}

func TestLoadRequiresPositiveRequestsPerHour(t *testing.T) {
	path := writeConfig(t, `
db_path = "mirror.db"
repos = ["acme/widgets"]
requests_per_hour = 0

[[credentials]]
identity = "bot1"
secret = "s3cr3t"
`)

	if _, err := Load(path); err == nil {
		t.Error("expected an error for a non-positive requests_per_hour")
	}
}

func TestInitialCredentialsFromInlineArray(t *testing.T) {
	cfg := &Config{Credentials: []CredentialEntry{{Identity: "a", Secret: "x"}, {Identity: "b", Secret: "y"}}}
	creds, err := cfg.InitialCredentials()
	if err != nil {
		t.Fatalf("InitialCredentials: %v", err)
	}
	if len(creds) != 2 || creds[0].Identity != "a" || creds[1].Secret != "y" {
		t.Errorf("InitialCredentials = %+v", creds)
	}
}
