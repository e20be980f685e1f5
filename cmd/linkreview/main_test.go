package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		env, err := loadDotEnv(t.TempDir())
		if err != nil || len(env) != 0 {
			t.Errorf("loadDotEnv() = %v, %v", env, err)
		}
	})

	t.Run("values", func(t *testing.T) {
		dir := t.TempDir()
		content := "# comment\nHTTP=:9090\nADMIN_USER=\"Reviewer One\"\n\nnot a pair\nLOG_LEVEL = debug\n"
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		env, err := loadDotEnv(dir)
		if err != nil {
			t.Fatal(err)
		}
		want := map[string]string{"HTTP": ":9090", "ADMIN_USER": "Reviewer One", "LOG_LEVEL": "debug"}
		if len(env) != len(want) {
			t.Errorf("loadDotEnv() = %v, want %v", env, want)
		}
		for k, v := range want {
			if env[k] != v {
				t.Errorf("%s = %q, want %q", k, env[k], v)
			}
		}
	})

	t.Run("single quotes", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ADMIN_USER='x'\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := loadDotEnv(dir); err == nil {
			t.Error("single quotes accepted")
		}
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{"HTTP": ":9090"}
	addr := "localhost:8080"
	applyEnv(map[string]bool{"http": true}, env, "http", "HTTP", &addr)
	if addr != "localhost:8080" {
		t.Errorf("explicit flag overridden: %q", addr)
	}
	applyEnv(map[string]bool{}, env, "http", "HTTP", &addr)
	if addr != ":9090" {
		t.Errorf("addr = %q, want :9090", addr)
	}
	level := "info"
	applyEnv(map[string]bool{}, env, "log-level", "LOG_LEVEL", &level)
	if level != "info" {
		t.Errorf("missing key changed the value: %q", level)
	}
}
