package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/galleria/pkg/config"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Auth.ClientID = "client-1"
	return cfg
}

func TestDefaultConfig_RequiresClientID(t *testing.T) {
	err := NewDefaultConfig().Validate()
	if err == nil {
		t.Fatal("default config without client id should fail")
	}
	if !strings.Contains(err.Error(), "client_id") && !strings.Contains(err.Error(), "ClientID") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestAuthConfig_EmptyAllowListSourceDefaultsStatic(t *testing.T) {
	cfg := AuthConfig{ClientID: "c", Issuer: "https://accounts.google.com"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.AllowListSource != AllowListStatic {
		t.Errorf("source = %q, want %q", cfg.AllowListSource, AllowListStatic)
	}
}

func TestAuthConfig_Invalid(t *testing.T) {
	cases := map[string]AuthConfig{
		"bad source": {ClientID: "c", Issuer: "https://accounts.google.com", AllowListSource: "ldap"},
		"bad email":  {ClientID: "c", Issuer: "https://accounts.google.com", AllowedEmails: []string{"nope"}},
		"no issuer":  {ClientID: "c"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestContentConfig_SourceRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Content.Source = ContentHTTP
	if err := cfg.Validate(); err == nil {
		t.Error("http source without base_url should fail")
	}
	cfg.Content.HTTP.BaseURL = "https://photos.example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("http source: %v", err)
	}

	cfg = validConfig()
	cfg.Content.Source = ContentS3
	if err := cfg.Validate(); err == nil {
		t.Error("s3 source without bucket should fail")
	}
	cfg.Content.S3.Endpoint = "localhost:9000"
	cfg.Content.S3.Bucket = "photos"
	if err := cfg.Validate(); err != nil {
		t.Errorf("s3 source: %v", err)
	}

	cfg = validConfig()
	cfg.Content.URLPrefix = "/content/"
	if err := cfg.Validate(); err == nil {
		t.Error("trailing slash prefix should fail")
	}
}

func TestMetadataConfig_SheetsRequiresSpreadsheet(t *testing.T) {
	cfg := validConfig()
	cfg.Metadata.Backend = MetadataSheets
	if err := cfg.Validate(); err == nil {
		t.Fatal("sheets backend without spreadsheet id should fail")
	}
	cfg.Metadata.Sheets.SpreadsheetID = "sheet-1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("sheets backend: %v", err)
	}
}

func TestSessionConfig_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Session.Backend = SessionRedis
	if err := cfg.Validate(); err == nil {
		t.Error("redis backend without url should fail")
	}

	cfg = validConfig()
	cfg.Session.TTL = time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("ttl below a minute should fail")
	}
}

func TestFullConfig_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.App.HTTP.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("out-of-range port should fail")
	}
}

func TestLoad_YAMLAndEnvOverlay(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	body := "auth:\n  client_id: from-file\n  allowed_emails: [a@example.com]\nsession:\n  manifest_ttl: 2m\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GALLERIA_AUTH_CLIENT_ID", "from-env")
	t.Setenv("GALLERIA_APP_HTTP_PORT", "9090")
	t.Setenv("GALLERIA_GALLERY_PAGE_SIZE", "24")

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.ClientID != "from-env" {
		t.Errorf("client id = %q", cfg.Auth.ClientID)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.Gallery.PageSize != 24 {
		t.Errorf("port = %d, page size = %d", cfg.App.HTTP.Port, cfg.Gallery.PageSize)
	}
	if cfg.Session.ManifestTTL != 2*time.Minute {
		t.Errorf("manifest ttl = %v", cfg.Session.ManifestTTL)
	}
	if len(cfg.Auth.AllowedEmails) != 1 || cfg.Auth.AllowedEmails[0] != "a@example.com" {
		t.Errorf("allowed emails = %v", cfg.Auth.AllowedEmails)
	}
	// Untouched defaults survive.
	if cfg.Content.URLPrefix != "/content" || cfg.Gallery.ThumbnailSize != 300 {
		t.Errorf("defaults lost: %+v", cfg.Content)
	}
}
