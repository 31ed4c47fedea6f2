package api

import (
	"github.com/starford/galleria/internal/gallery"
	"github.com/starford/galleria/internal/models"
)

// AuthConfigResponse tells the front end how to render the sign-in button.
type AuthConfigResponse struct {
	ClientID string `json:"clientId" example:"1234.apps.googleusercontent.com" validate:"required"`
	Issuer   string `json:"issuer" example:"https://accounts.google.com" validate:"required"`
	Ready    bool   `json:"ready" example:"true"`
}

// CredentialRequest carries the provider-issued credential token.
type CredentialRequest struct {
	Credential string `json:"credential" example:"eyJhbGciOi..." validate:"required"`
}

// UpdatePhotoRequest is the partial update accepted by PUT /api/photos/item/{path}.
type UpdatePhotoRequest struct {
	Name        *string `json:"name,omitempty" example:"Sunset"`
	Favorite    *bool   `json:"favorite,omitempty" example:"true"`
	Description *string `json:"description,omitempty" example:"Evening at the pier"`
}

func (r UpdatePhotoRequest) patch() models.PhotoPatch {
	return models.PhotoPatch{Name: r.Name, Favorite: r.Favorite, Description: r.Description}
}

// AuthState is the published authentication state (aliased from the domain layer).
type AuthState = models.AuthState

// Photo is a single gallery photo (aliased from the domain layer).
type Photo = models.Photo

// PhotoManifest is the built gallery (aliased from the domain layer).
type PhotoManifest = models.PhotoManifest

// PhotoPage is one page of the filtered gallery (aliased from the domain layer).
type PhotoPage = gallery.PageResult
