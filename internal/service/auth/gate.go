// Package auth obtains bearer credentials for Genie calls. Two gates exist:
// a per-user token service gate backing interactive OAuth login, and a
// service-principal gate sharing one machine credential across users.
package auth

import (
	"context"
	"errors"

	"github.com/vnguyen/genie-bridge/internal/model/card"
)

// ErrLoginRequired signals that the user must complete interactive sign-in
// before the bridge can query Genie on their behalf.
var ErrLoginRequired = errors.New("interactive login required")

// Gate hands out bearer tokens for outbound Genie calls.
type Gate interface {
	// Token returns a credential for the user, or ErrLoginRequired when an
	// interactive flow has to happen first.
	Token(ctx context.Context, userID string) (string, error)
	// StoreToken records a credential delivered out of band by the transport
	// (token-response events, sign-in verification). Expiration is RFC 3339
	// or empty.
	StoreToken(userID, token, expiration string)
	// SignOut invalidates the user's credential.
	SignOut(ctx context.Context, userID string) error
	// LoginMessage is the card prompting the user to sign in.
	LoginMessage() card.Message
}
