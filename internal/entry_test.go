package internal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/galleria/internal/identity"
	"github.com/starford/galleria/internal/metadata"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := validConfig()
	cfg.Auth.Issuer = "http://127.0.0.1:1"
	cfg.Content.FS.Path = filepath.Join(dir, "content")
	cfg.Metadata.SQLite.Path = filepath.Join(dir, "meta.db")
	cfg.Session.SQLite.Path = filepath.Join(dir, "sessions.db")
	return cfg
}

func TestOpenComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Backend = SessionSQLite
	cfg.Auth.AllowListSource = AllowListStore
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	comps, err := openComponents(context.Background(), cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer comps.Close()

	if comps.fsContent == nil {
		t.Fatal("filesystem content not opened")
	}
	if _, err := os.Stat(cfg.Content.FS.Path); err != nil {
		t.Errorf("content dir not created: %v", err)
	}
	if err := comps.sessions.Ping(context.Background()); err != nil {
		t.Errorf("session store ping: %v", err)
	}
	if err := comps.provider.Ready(); err == nil {
		t.Error("provider should report the failed initialization")
	}

	// The store-backed allow-list reads the metadata users table.
	db := comps.metadata.(*metadata.SQLite)
	if err := db.AddAuthorizedEmail(context.Background(), "owner@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, ok := comps.allowList.(*identity.SourceAllowList); !ok {
		t.Fatalf("allow list = %T", comps.allowList)
	}
	ok, err := comps.allowList.Contains(context.Background(), "OWNER@example.com")
	if err != nil || !ok {
		t.Errorf("Contains = %v, %v", ok, err)
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestBuildIndex(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(filepath.Join(cfg.Content.FS.Path, "trips"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.jpg", "a.png", "trips/c.webp", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(cfg.Content.FS.Path, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := BuildIndex(context.Background(), WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/content/a.png", "/content/b.jpg", "/content/trips/c.webp"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}

	data, err := os.ReadFile(filepath.Join(cfg.Content.FS.Path, "index.json"))
	if err != nil {
		t.Fatal(err)
	}
	var written []string
	if err := json.Unmarshal(data, &written); err != nil || len(written) != 3 {
		t.Errorf("index.json = %s (%v)", data, err)
	}
}

func TestBuildIndex_RequiresFilesystem(t *testing.T) {
	cfg := testConfig(t)
	cfg.Content.Source = ContentHTTP
	if _, err := BuildIndex(context.Background(), WithConfig(cfg), WithLogOutput(io.Discard)); err == nil {
		t.Fatal("expected error for non-filesystem source")
	}
}
