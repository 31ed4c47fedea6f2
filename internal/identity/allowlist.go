package identity

import (
	"context"
	"strings"
)

// AllowList decides which authenticated emails may use the gallery.
type AllowList interface {
	Contains(ctx context.Context, email string) (bool, error)
}

// StaticAllowList is a fixed, case-insensitive set of emails.
type StaticAllowList struct {
	emails map[string]struct{}
}

// NewStaticAllowList builds a list from emails; blanks are ignored.
func NewStaticAllowList(emails []string) *StaticAllowList {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if n := normalizeEmail(e); n != "" {
			set[n] = struct{}{}
		}
	}
	return &StaticAllowList{emails: set}
}

func (l *StaticAllowList) Contains(_ context.Context, email string) (bool, error) {
	_, ok := l.emails[normalizeEmail(email)]
	return ok, nil
}

// EmailSource lists authorized emails from a remote store.
type EmailSource interface {
	AuthorizedEmails(ctx context.Context) ([]string, error)
}

// SourceAllowList reads the authorized emails from src on every check.
type SourceAllowList struct {
	src EmailSource
}

// NewSourceAllowList wraps src.
func NewSourceAllowList(src EmailSource) *SourceAllowList {
	return &SourceAllowList{src: src}
}

func (l *SourceAllowList) Contains(ctx context.Context, email string) (bool, error) {
	emails, err := l.src.AuthorizedEmails(ctx)
	if err != nil {
		return false, err
	}
	return NewStaticAllowList(emails).Contains(ctx, email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
