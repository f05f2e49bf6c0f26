package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "campusevents/internal/log"
	"campusevents/internal/metrics"
	"campusevents/internal/model"
	"campusevents/internal/store"
)

// ProfileStore is the slice of the document store the gate needs.
type ProfileStore interface {
	GetUser(ctx context.Context, uid string) (model.User, error)
	SetUser(ctx context.Context, u model.User) error
	UpdateUser(ctx context.Context, uid string, upd store.Update) error
}

// Gate runs the single sign-in handler shared by every path: the domain
// check, forced sign-out on violation, and profile bootstrap.
type Gate struct {
	Policy   DomainPolicy
	Sessions *Sessions
	Profiles ProfileStore
	Now      func() time.Time
}

// Result describes what Handle did.
type Result struct {
	SignedIn   bool
	NewProfile bool
	// Reused is true when the session was already bootstrapped and only the
	// policy check ran.
	Reused bool
}

// Handle processes an identity-or-none for session sid arriving via path.
// A nil identity means signed out; it is counted only when this call
// revoked the session, so replays from Watch are free. An identity outside the policy revokes
// the session and returns ErrDomainRejected without reading or writing any
// profile. Otherwise the profile is created with defaults or its lastLogin
// is bumped, once per session.
func (g *Gate) Handle(ctx context.Context, sid string, id *Identity, path string) (Result, error) {
	if id == nil {
		if g.Sessions != nil && sid != "" && g.Sessions.Revoke(sid) {
			metrics.SignIns.WithLabelValues("signed_out").Inc()
			appLog.Debug("signed out", "path", path)
		}
		return Result{}, nil
	}

	if !g.Policy.Allows(id.Email) {
		if g.Sessions != nil {
			g.Sessions.Revoke(sid)
		}
		metrics.SignIns.WithLabelValues("rejected_domain").Inc()
		appLog.Warn("sign-in rejected: domain", "email", id.Email, "path", path)
		return Result{}, ErrDomainRejected
	}

	if g.Sessions != nil && g.Sessions.isReady(sid) {
		return Result{SignedIn: true, Reused: true}, nil
	}

	created, err := g.ensureProfile(ctx, *id)
	if err != nil {
		metrics.SignIns.WithLabelValues("error").Inc()
		return Result{}, err
	}
	if g.Sessions != nil {
		g.Sessions.markReady(sid)
	}
	metrics.SignIns.WithLabelValues("ok").Inc()
	appLog.Info("signed in", "uid", id.UID, "path", path, "new_profile", created)
	return Result{SignedIn: true, NewProfile: created}, nil
}

func (g *Gate) ensureProfile(ctx context.Context, id Identity) (bool, error) {
	_, err := g.Profiles.GetUser(ctx, id.UID)
	switch {
	case err == nil:
		if err := g.Profiles.UpdateUser(ctx, id.UID, store.Update{"lastLogin": store.ServerTimestamp()}); err != nil {
			return false, fmt.Errorf("auth: bump lastLogin: %w", err)
		}
		return false, nil
	case errors.Is(err, store.ErrNotFound):
		if err := g.Profiles.SetUser(ctx, NewProfile(id, g.now())); err != nil {
			return false, fmt.Errorf("auth: create profile: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("auth: load profile: %w", err)
	}
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// NewProfile builds the default profile for a first sign-in. The display
// name is split on the first space into first and last name.
func NewProfile(id Identity, now time.Time) model.User {
	first, last, _ := strings.Cut(strings.TrimSpace(id.DisplayName), " ")
	return model.User{
		UID:              id.UID,
		Email:            id.Email,
		FirstName:        first,
		LastName:         strings.TrimSpace(last),
		PhotoURL:         id.PhotoURL,
		Interests:        []string{},
		CareerGoals:      []string{},
		SavedEvents:      []string{},
		ViewedEvents:     []string{},
		EmailPreferences: model.DefaultEmailPreferences(),
		CreatedAt:        now,
		LastLogin:        now,
		IsActive:         true,
	}
}
