// internal/auth/identity.go
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chesshall/arbiter/internal/models"
)

// ProfileLookup resolves a verified user id to its stored profile. Nil means
// tokens are trusted for identity but carry no rating.
type ProfileLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Verifier turns connection credentials into a session-layer identity.
// Registered players arrive with a signed token; everyone else is minted a
// throwaway guest identity, distinguishable (Guest flag) but fully playable.
type Verifier struct {
	profiles ProfileLookup
}

func NewVerifier(profiles ProfileLookup) *Verifier {
	return &Verifier{profiles: profiles}
}

// Verify resolves token to an identity. An empty token mints a guest with
// the requested display name.
func (v *Verifier) Verify(ctx context.Context, token, guestName string) (models.Identity, error) {
	if token == "" {
		return MintGuest(guestName), nil
	}

	sub, name, err := AuthenticateJWT(token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("token rejected: %w", err)
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return models.Identity{}, fmt.Errorf("token subject is not a user id: %w", err)
	}

	ident := models.Identity{UserID: userID, DisplayName: name}
	if v.profiles == nil {
		return ident, nil
	}

	u, err := v.profiles.GetUser(ctx, userID)
	if err != nil {
		// The token is valid even when the profile row is missing or the
		// store is down; play proceeds unrated.
		return ident, nil
	}
	ident.DisplayName = u.Username
	ident.Rating = u.Elo
	ident.HasRating = u.Elo > 0
	return ident, nil
}

// MintGuest fabricates an ephemeral identity with a fresh id and no rating.
func MintGuest(name string) models.Identity {
	id := uuid.New()
	if name == "" {
		name = "guest-" + id.String()[:8]
	}
	return models.Identity{
		UserID:      id,
		DisplayName: name,
		Guest:       true,
	}
}
