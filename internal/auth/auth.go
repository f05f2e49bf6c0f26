// Package auth handles sign-in: identity providers, the e-mail domain
// policy, sessions, and profile bootstrap on first sign-in.
package auth

import (
	"context"
	"errors"
	"strings"

	appLog "campusevents/internal/log"
)

var (
	// ErrDomainRejected means the identity's e-mail is outside the allowed
	// domain. The session has already been revoked when this is returned.
	ErrDomainRejected = errors.New("auth: e-mail domain not allowed")
	// ErrNoSession means the request carries no live session.
	ErrNoSession = errors.New("auth: no session")
)

// Sign-in paths. Every path runs the same Gate.Handle logic.
const (
	PathInteractive = "interactive"
	PathRedirect    = "redirect"
	PathRestore     = "restore"
	PathSignOut     = "signout"
	PathExpired     = "expired"
)

// Identity is what a provider yields for a signed-in user.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// Provider is an identity provider using an authorization-code flow.
type Provider interface {
	// AuthCodeURL returns where to send the browser to start sign-in.
	AuthCodeURL(state string) string
	// Exchange turns the code returned to the callback into an identity.
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// DomainPolicy restricts sign-in to addresses ending in "@"+Domain.
type DomainPolicy struct {
	Domain string
}

// Allows reports whether email satisfies the policy. An empty Domain allows
// nothing.
func (p DomainPolicy) Allows(email string) bool {
	domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p.Domain), "@"))
	if domain == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(email)), "@"+domain)
}

// Change is one identity-or-none notification. A nil Identity means the
// session signed out (or expired).
type Change struct {
	SessionID string
	Identity  *Identity
	Path      string
}

// Watch consumes changes until ctx ends or the channel closes, running each
// through the gate. Handling is idempotent, so replays are harmless.
func Watch(ctx context.Context, changes <-chan Change, g *Gate) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if _, err := g.Handle(ctx, ch.SessionID, ch.Identity, ch.Path); err != nil {
				appLog.Error("auth change handling failed", err, "path", ch.Path)
			}
		}
	}
}
