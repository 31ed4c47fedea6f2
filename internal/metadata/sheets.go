package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/models"
)

// Default A1 ranges of the gallery spreadsheet.
const (
	DefaultUsersRange   = "Users!A:A"
	DefaultContentRange = "Content!A:D"
)

const (
	valueInputRaw  = "RAW"
	insertDataRows = "INSERT_ROWS"
)

// SheetsConfig addresses the gallery spreadsheet.
type SheetsConfig struct {
	SpreadsheetID   string
	UsersRange      string
	ContentRange    string
	APIKey          string
	AccessToken     string
	CredentialsFile string
	Endpoint        string
}

// Sheets is a Store backed by a Google spreadsheet. Row 1 of each range is a
// header and is never returned.
type Sheets struct {
	svc          *sheets.Service
	id           string
	usersRange   string
	contentRange string
	logger       *slog.Logger
}

// NewSheets builds a Sheets client. Extra options are appended after the
// ones derived from cfg.
func NewSheets(ctx context.Context, cfg SheetsConfig, logger *slog.Logger, extra ...option.ClientOption) (*Sheets, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("metadata: spreadsheet id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	switch {
	case cfg.AccessToken != "":
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
			TokenType:   "Bearer",
		})))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, extra...)

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("metadata: sheets client: %w", err)
	}

	s := &Sheets{
		svc:          svc,
		id:           cfg.SpreadsheetID,
		usersRange:   cfg.UsersRange,
		contentRange: cfg.ContentRange,
		logger:       logger,
	}
	if s.usersRange == "" {
		s.usersRange = DefaultUsersRange
	}
	if s.contentRange == "" {
		s.contentRange = DefaultContentRange
	}
	return s, nil
}

// FetchAll reads the content range. Rows with a blank path are dropped.
func (s *Sheets) FetchAll(ctx context.Context) ([]models.PhotoMetadataRow, error) {
	values, err := s.read(ctx, s.contentRange)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch rows: %w", err)
	}

	rows := make([]models.PhotoMetadataRow, 0, len(values))
	for _, v := range skipHeader(values) {
		path := cell(v, 0)
		if path == "" {
			continue
		}
		rows = append(rows, models.PhotoMetadataRow{
			Path:        path,
			Name:        cell(v, 1),
			Favorite:    parseFavorite(cell(v, 2)),
			Description: cell(v, 3),
		})
	}
	return rows, nil
}

// Upsert overwrites the row whose first column equals row.Path, or appends a
// new row at the end of the content range.
func (s *Sheets) Upsert(ctx context.Context, row models.PhotoMetadataRow) error {
	sheet := sheetName(s.contentRange)
	keys, err := s.read(ctx, sheet+"!A:A")
	if err != nil {
		return fmt.Errorf("metadata: upsert %s: %w", row.Path, err)
	}

	record := &sheets.ValueRange{Values: [][]interface{}{{
		row.Path, row.Name, formatFavorite(row.Favorite), row.Description,
	}}}

	for i, v := range keys {
		if i == 0 || cell(v, 0) != row.Path {
			continue
		}
		target := fmt.Sprintf("%s!A%d:D%d", sheet, i+1, i+1)
		_, err := s.svc.Spreadsheets.Values.Update(s.id, target, record).
			ValueInputOption(valueInputRaw).
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("metadata: update %s: %w: %w", target, apperr.ErrStoreUnavailable, err)
		}
		s.logger.Debug("metadata: row updated", slog.String("path", row.Path), slog.String("range", target))
		return nil
	}

	_, err = s.svc.Spreadsheets.Values.Append(s.id, s.contentRange, record).
		ValueInputOption(valueInputRaw).
		InsertDataOption(insertDataRows).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("metadata: append %s: %w: %w", row.Path, apperr.ErrStoreUnavailable, err)
	}
	s.logger.Debug("metadata: row appended", slog.String("path", row.Path))
	return nil
}

// AuthorizedEmails reads the users range. Blank cells are dropped.
func (s *Sheets) AuthorizedEmails(ctx context.Context) ([]string, error) {
	values, err := s.read(ctx, s.usersRange)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch users: %w", err)
	}
	emails := make([]string, 0, len(values))
	for _, v := range skipHeader(values) {
		if e := cell(v, 0); e != "" {
			emails = append(emails, e)
		}
	}
	return emails, nil
}

func (s *Sheets) read(ctx context.Context, a1 string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.id, a1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", apperr.ErrStoreUnavailable, a1, err)
	}
	return resp.Values, nil
}

func skipHeader(values [][]interface{}) [][]interface{} {
	if len(values) == 0 {
		return nil
	}
	return values[1:]
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

var _ Store = (*Sheets)(nil)
