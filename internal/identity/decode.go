package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/models"
)

// credentialClaims is the subset of the ID token payload galleria reads.
type credentialClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

var errNoEmail = errors.New("credential carries no email claim")

// Decode extracts the identity from a raw credential token. Unless signature
// verification is enabled, the token is only decoded, never verified.
func (p *Provider) Decode(ctx context.Context, raw string) (models.Identity, error) {
	if p.verify {
		return p.decodeVerified(ctx, raw)
	}
	return DecodeUnverified(raw)
}

// DecodeUnverified reads the claims of a header.payload.signature token
// without checking its signature.
func DecodeUnverified(raw string) (models.Identity, error) {
	var claims credentialClaims
	// Claims are decoded before the alg lookup, so an unknown or missing alg
	// still leaves a usable payload.
	_, _, err := jwt.NewParser().ParseUnverified(raw, &claims)
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return models.Identity{}, fmt.Errorf("identity: decode credential: %w", err)
	}
	return claims.identity()
}

func (p *Provider) decodeVerified(ctx context.Context, raw string) (models.Identity, error) {
	p.mu.Lock()
	verifier := p.verifier
	p.mu.Unlock()
	if verifier == nil {
		return models.Identity{}, fmt.Errorf("%w: verifier not initialized", apperr.ErrInitialization)
	}

	token, err := verifier.Verify(ctx, raw)
	if err != nil {
		return models.Identity{}, fmt.Errorf("identity: verify credential: %w", err)
	}
	var claims credentialClaims
	if err := token.Claims(&claims); err != nil {
		return models.Identity{}, fmt.Errorf("identity: read claims: %w", err)
	}
	claims.Subject = token.Subject
	return claims.identity()
}

func (c credentialClaims) identity() (models.Identity, error) {
	if c.Email == "" {
		return models.Identity{}, errNoEmail
	}
	return models.Identity{
		Email:       c.Email,
		DisplayName: c.Name,
		PictureURL:  c.Picture,
		Subject:     c.Subject,
	}, nil
}
