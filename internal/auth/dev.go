package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/mail"
	"net/url"
	"strings"
)

// DevProvider is a local stand-in for running without OAuth credentials.
// The "code" it exchanges is the e-mail address typed into the dev sign-in
// form. The domain policy still applies to whatever it returns.
type DevProvider struct {
	// LoginPath is where AuthCodeURL sends the browser.
	LoginPath string
}

func (d DevProvider) AuthCodeURL(state string) string {
	path := d.LoginPath
	if path == "" {
		path = "/auth/dev"
	}
	return path + "?state=" + url.QueryEscape(state)
}

func (d DevProvider) Exchange(_ context.Context, code string) (*Identity, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(code))
	if err != nil {
		return nil, errors.New("dev: code must be an e-mail address")
	}
	email := strings.ToLower(addr.Address)
	sum := sha256.Sum256([]byte(email))
	local, _, _ := strings.Cut(email, "@")
	name := addr.Name
	if name == "" {
		name = local
	}
	return &Identity{
		UID:         "dev-" + hex.EncodeToString(sum[:8]),
		Email:       email,
		DisplayName: name,
	}, nil
}
