// Package metadata reads and writes photo metadata rows in a remote or local
// tabular store.
package metadata

import (
	"context"
	"strings"

	"github.com/starford/galleria/internal/models"
)

// Store holds PhotoMetadataRows keyed by path. Every failure wraps
// apperr.ErrStoreUnavailable.
type Store interface {
	// FetchAll returns every row in store order.
	FetchAll(ctx context.Context) ([]models.PhotoMetadataRow, error)
	// Upsert replaces the row with the same path, or appends row.
	Upsert(ctx context.Context, row models.PhotoMetadataRow) error
}

// parseFavorite accepts only the literal spellings the spreadsheet uses for true.
func parseFavorite(cell string) bool {
	return cell == "TRUE" || cell == "true"
}

func formatFavorite(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// sheetName returns the sheet part of an A1 range such as "Content!A:D".
func sheetName(a1 string) string {
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		return a1[:i]
	}
	return a1
}
