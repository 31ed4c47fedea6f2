package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/galleria/internal/content"
	"github.com/starford/galleria/internal/gallery"
	"github.com/starford/galleria/internal/metadata"
	"github.com/starford/galleria/internal/session"
)

// Allow-list sources.
const (
	AllowListStatic = "static"
	AllowListStore  = "store"
)

// Content sources.
const (
	ContentFS   = "fs"
	ContentHTTP = "http"
	ContentS3   = "s3"
)

// Metadata backends.
const (
	MetadataSQLite = "sqlite"
	MetadataSheets = "sheets"
)

// Session backends.
const (
	SessionMemory = "memory"
	SessionSQLite = "sqlite"
	SessionRedis  = "redis"
)

// urlPrefixRe matches a mount prefix such as /content (leading slash, no trailing one).
var urlPrefixRe = regexp.MustCompile(`^(/[A-Za-z0-9._~-]+)+$`)

// Config represents the application configuration. Every field can be
// overridden by a GALLERIA_* environment variable.
type Config struct {
	App      ApplicationConfig `yaml:"app" envPrefix:"GALLERIA_APP_"`
	Auth     AuthConfig        `yaml:"auth" envPrefix:"GALLERIA_AUTH_"`
	Content  ContentConfig     `yaml:"content" envPrefix:"GALLERIA_CONTENT_"`
	Metadata MetadataConfig    `yaml:"metadata" envPrefix:"GALLERIA_METADATA_"`
	Session  SessionConfig     `yaml:"session" envPrefix:"GALLERIA_SESSION_"`
	Gallery  GalleryConfig     `yaml:"gallery" envPrefix:"GALLERIA_GALLERY_"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Content.Validate(); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	if err := c.Metadata.Validate(); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Gallery.Validate(); err != nil {
		return fmt.Errorf("gallery: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" env:"LOG_LEVEL"`
	HTTP     HTTPConfig `yaml:"http" envPrefix:"HTTP_"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port         int    `yaml:"port" env:"PORT"`
	CookieName   string `yaml:"cookie_name" env:"COOKIE_NAME"`
	CookieSecure bool   `yaml:"cookie_secure" env:"COOKIE_SECURE"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.CookieName, validation.Required),
	)
}

// AuthConfig holds identity provider and allow-list configuration.
//
// AllowListSource selects where authorized emails come from:
//   - "static" (default): the AllowedEmails list.
//   - "store": the users of the metadata backend, read on every check.
type AuthConfig struct {
	ClientID        string   `yaml:"client_id" env:"CLIENT_ID"`
	Issuer          string   `yaml:"issuer" env:"ISSUER"`
	VerifySignature bool     `yaml:"verify_signature" env:"VERIFY_SIGNATURE"`
	AllowedEmails   []string `yaml:"allowed_emails" env:"ALLOWED_EMAILS" envSeparator:","`
	AllowListSource string   `yaml:"allow_list_source" env:"ALLOW_LIST_SOURCE"`
	ServiceToken    string   `yaml:"service_token" env:"SERVICE_TOKEN"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.AllowListSource == "" {
		c.AllowListSource = AllowListStatic
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.Issuer, validation.Required, is.URL),
		validation.Field(&c.AllowListSource, validation.In(AllowListStatic, AllowListStore)),
		validation.Field(&c.AllowedEmails, validation.Each(is.EmailFormat)),
	)
}

// ContentConfig selects and configures the image source.
type ContentConfig struct {
	Source         string            `yaml:"source" env:"SOURCE"`
	URLPrefix      string            `yaml:"url_prefix" env:"URL_PREFIX"`
	ChangeThrottle time.Duration     `yaml:"change_throttle" env:"CHANGE_THROTTLE"`
	FS             FSContentConfig   `yaml:"fs" envPrefix:"FS_"`
	HTTP           HTTPContentConfig `yaml:"http" envPrefix:"HTTP_"`
	S3             S3ContentConfig   `yaml:"s3" envPrefix:"S3_"`
}

// FSContentConfig points at a local content directory.
type FSContentConfig struct {
	Path  string `yaml:"path" env:"PATH"`
	Watch bool   `yaml:"watch" env:"WATCH"`
}

// HTTPContentConfig points at a static host serving the images.
type HTTPContentConfig struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Candidates []string      `yaml:"candidates" env:"CANDIDATES" envSeparator:","`
}

// S3ContentConfig points at an S3-compatible bucket.
type S3ContentConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
}

// Validate validates the content configuration.
func (c *ContentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Source, validation.Required, validation.In(ContentFS, ContentHTTP, ContentS3)),
		validation.Field(&c.URLPrefix, validation.Required, validation.Match(urlPrefixRe)),
		validation.Field(&c.FS, validation.When(c.Source == ContentFS, validation.By(func(any) error {
			return validation.ValidateStruct(&c.FS, validation.Field(&c.FS.Path, validation.Required))
		}))),
		validation.Field(&c.HTTP, validation.When(c.Source == ContentHTTP, validation.By(func(any) error {
			return validation.ValidateStruct(&c.HTTP,
				validation.Field(&c.HTTP.BaseURL, validation.Required, is.URL),
				validation.Field(&c.HTTP.Timeout, validation.Min(time.Duration(0))),
			)
		}))),
		validation.Field(&c.S3, validation.When(c.Source == ContentS3, validation.By(func(any) error {
			return validation.ValidateStruct(&c.S3,
				validation.Field(&c.S3.Endpoint, validation.Required),
				validation.Field(&c.S3.Bucket, validation.Required),
			)
		}))),
	)
}

// MetadataConfig selects and configures the metadata backend.
type MetadataConfig struct {
	Backend string               `yaml:"backend" env:"BACKEND"`
	SQLite  SQLiteMetadataConfig `yaml:"sqlite" envPrefix:"SQLITE_"`
	Sheets  SheetsMetadataConfig `yaml:"sheets" envPrefix:"SHEETS_"`
}

// SQLiteMetadataConfig holds the local metadata database path.
type SQLiteMetadataConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// SheetsMetadataConfig holds Google Sheets access settings.
type SheetsMetadataConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" env:"SPREADSHEET_ID"`
	APIKey          string `yaml:"api_key" env:"API_KEY"`
	AccessToken     string `yaml:"access_token" env:"ACCESS_TOKEN"`
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
	UsersRange      string `yaml:"users_range" env:"USERS_RANGE"`
	ContentRange    string `yaml:"content_range" env:"CONTENT_RANGE"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
}

// SheetsConfig converts the settings for metadata.NewSheets.
func (c SheetsMetadataConfig) SheetsConfig() metadata.SheetsConfig {
	return metadata.SheetsConfig{
		SpreadsheetID:   c.SpreadsheetID,
		UsersRange:      c.UsersRange,
		ContentRange:    c.ContentRange,
		APIKey:          c.APIKey,
		AccessToken:     c.AccessToken,
		CredentialsFile: c.CredentialsFile,
		Endpoint:        c.Endpoint,
	}
}

// Validate validates the metadata configuration.
func (c *MetadataConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(MetadataSQLite, MetadataSheets)),
		validation.Field(&c.SQLite, validation.When(c.Backend == MetadataSQLite, validation.By(func(any) error {
			return validation.ValidateStruct(&c.SQLite, validation.Field(&c.SQLite.Path, validation.Required))
		}))),
		validation.Field(&c.Sheets, validation.When(c.Backend == MetadataSheets, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Sheets,
				validation.Field(&c.Sheets.SpreadsheetID, validation.Required),
				validation.Field(&c.Sheets.ContentRange, validation.Required),
				validation.Field(&c.Sheets.UsersRange, validation.Required),
			)
		}))),
	)
}

// SessionConfig configures per-browser session state.
type SessionConfig struct {
	Backend       string              `yaml:"backend" env:"BACKEND"`
	TTL           time.Duration       `yaml:"ttl" env:"TTL"`
	ManifestTTL   time.Duration       `yaml:"manifest_ttl" env:"MANIFEST_TTL"`
	SweepInterval time.Duration       `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	SQLite        SQLiteSessionConfig `yaml:"sqlite" envPrefix:"SQLITE_"`
	Redis         RedisSessionConfig  `yaml:"redis" envPrefix:"REDIS_"`
}

// SQLiteSessionConfig holds the session database path.
type SQLiteSessionConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// RedisSessionConfig holds the Redis connection URL.
type RedisSessionConfig struct {
	URL string `yaml:"url" env:"URL"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(SessionMemory, SessionSQLite, SessionRedis)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.ManifestTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SQLite, validation.When(c.Backend == SessionSQLite, validation.By(func(any) error {
			return validation.ValidateStruct(&c.SQLite, validation.Field(&c.SQLite.Path, validation.Required))
		}))),
		validation.Field(&c.Redis, validation.When(c.Backend == SessionRedis, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Redis, validation.Field(&c.Redis.URL, validation.Required))
		}))),
	)
}

// GalleryConfig holds presentation settings.
type GalleryConfig struct {
	PageSize      int `yaml:"page_size" env:"PAGE_SIZE"`
	ThumbnailSize int `yaml:"thumbnail_size" env:"THUMBNAIL_SIZE"`
}

// Validate validates the gallery configuration.
func (c *GalleryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PageSize, validation.Required, validation.Min(1), validation.Max(500)),
		validation.Field(&c.ThumbnailSize, validation.Required, validation.Min(16), validation.Max(4096)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:       8080,
				CookieName: "galleria_session",
			},
		},
		Auth: AuthConfig{
			Issuer:          "https://accounts.google.com",
			AllowListSource: AllowListStatic,
		},
		Content: ContentConfig{
			Source:         ContentFS,
			URLPrefix:      content.DefaultPrefix,
			ChangeThrottle: time.Second,
			FS: FSContentConfig{
				Path:  "./content",
				Watch: true,
			},
			HTTP: HTTPContentConfig{
				Timeout: 10 * time.Second,
			},
		},
		Metadata: MetadataConfig{
			Backend: MetadataSQLite,
			SQLite: SQLiteMetadataConfig{
				Path: "./galleria.db",
			},
			Sheets: SheetsMetadataConfig{
				UsersRange:   metadata.DefaultUsersRange,
				ContentRange: metadata.DefaultContentRange,
			},
		},
		Session: SessionConfig{
			Backend:       SessionMemory,
			TTL:           session.DefaultTTL,
			ManifestTTL:   5 * time.Minute,
			SweepInterval: time.Minute,
			SQLite: SQLiteSessionConfig{
				Path: "./galleria-sessions.db",
			},
		},
		Gallery: GalleryConfig{
			PageSize:      gallery.DefaultPageSize,
			ThumbnailSize: content.DefaultThumbnailSize,
		},
	}
}
