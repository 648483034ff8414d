package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

// clearEnv unsets key for the test and restores it afterwards.
func clearEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset env: %v", err)
	}
}

func TestLoadDotEnvSetsCredentials(t *testing.T) {
	path := writeEnvFile(t, "# kraken\nexport KRAKEN_API_KEY=abc123\nKRAKEN_API_SECRET=\"c2VjcmV0\"\n\nnot a pair\n")
	clearEnv(t, "KRAKEN_API_KEY")
	clearEnv(t, "KRAKEN_API_SECRET")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv error: %v", err)
	}

	if got := os.Getenv("KRAKEN_API_KEY"); got != "abc123" {
		t.Fatalf("expected key from export line, got %q", got)
	}
	if got := os.Getenv("KRAKEN_API_SECRET"); got != "c2VjcmV0" {
		t.Fatalf("expected unquoted secret, got %q", got)
	}
}

func TestLoadDotEnvKeepsExistingEnvironment(t *testing.T) {
	path := writeEnvFile(t, "KRAKEN_API_KEY=from_file\n")
	t.Setenv("KRAKEN_API_KEY", "from_env")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv error: %v", err)
	}

	if got := os.Getenv("KRAKEN_API_KEY"); got != "from_env" {
		t.Fatalf("expected env to win, got %q", got)
	}
}

func TestLoadDotEnvIfPresentIgnoresMissingFile(t *testing.T) {
	clearEnv(t, "KRAKEN_API_KEY")
	loadDotEnvIfPresent(filepath.Join(t.TempDir(), "missing.env"))
	if _, ok := os.LookupEnv("KRAKEN_API_KEY"); ok {
		t.Fatalf("expected nothing to be set")
	}
}
