// Package models defines the domain types for galleria.
package models

import "time"

// PhotoMetadataRow is the remotely persisted metadata record, keyed by Path.
type PhotoMetadataRow struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Favorite    bool   `json:"favorite"`
	Description string `json:"description"`
}

// Photo is the UI-facing projection of a discovered path plus its metadata.
type Photo struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Favorite    bool   `json:"favorite"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Loaded      bool   `json:"loaded"`
}

// Row returns the metadata row that persists p.
func (p Photo) Row() PhotoMetadataRow {
	return PhotoMetadataRow{
		Path:        p.Path,
		Name:        p.Name,
		Favorite:    p.Favorite,
		Description: p.Description,
	}
}

// PhotoPatch carries a partial update. Nil fields are left untouched.
type PhotoPatch struct {
	Name        *string `json:"name,omitempty"`
	Favorite    *bool   `json:"favorite,omitempty"`
	Description *string `json:"description,omitempty"`
	Loaded      *bool   `json:"loaded,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p PhotoPatch) Empty() bool {
	return p.Name == nil && p.Favorite == nil && p.Description == nil && p.Loaded == nil
}

// Apply returns photo with the patch applied. Loaded never goes back to false.
func (p PhotoPatch) Apply(photo Photo) Photo {
	if p.Name != nil {
		photo.Name = *p.Name
	}
	if p.Favorite != nil {
		photo.Favorite = *p.Favorite
	}
	if p.Description != nil {
		photo.Description = *p.Description
	}
	if p.Loaded != nil && *p.Loaded {
		photo.Loaded = true
	}
	return photo
}

// PhotoManifest is the built, ordered gallery at a point in time.
type PhotoManifest struct {
	Photos     []Photo   `json:"photos"`
	TotalCount int       `json:"totalCount"`
	BuiltAt    time.Time `json:"builtAt"`
}

// Clone returns a deep copy of m so callers cannot mutate the owner's photos.
func (m *PhotoManifest) Clone() *PhotoManifest {
	if m == nil {
		return nil
	}
	out := *m
	out.Photos = make([]Photo, len(m.Photos))
	copy(out.Photos, m.Photos)
	return &out
}
