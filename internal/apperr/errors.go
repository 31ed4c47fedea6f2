// Package apperr holds the sentinel errors shared across galleria packages.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("not signed in")
	ErrConflict        = errors.New("already exists")

	// ErrInitialization means the identity provider could not be reached or configured.
	ErrInitialization = errors.New("identity provider unavailable")
	// ErrAuthentication means a credential could not be decoded.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorizationDenied means a valid identity is not on the allow-list.
	ErrAuthorizationDenied = errors.New("access denied")
	// ErrStoreUnavailable means a remote metadata read or write failed.
	ErrStoreUnavailable = errors.New("metadata store unavailable")
	// ErrManifestBuild means an unexpected failure while assembling a manifest.
	ErrManifestBuild = errors.New("manifest build failed")
)
