package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleProvider signs users in with Google, hinting the hosted domain and
// always showing the account chooser.
type GoogleProvider struct {
	cfg    *oauth2.Config
	domain string

	// apiEndpoint overrides the userinfo API base URL when set.
	apiEndpoint string
}

// NewGoogleProvider builds a provider for the given OAuth client.
// redirectURL must point at the app's /auth/callback.
func NewGoogleProvider(clientID, clientSecret, redirectURL, domain string) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", goauth2.UserinfoEmailScope, goauth2.UserinfoProfileScope},
		},
		domain: domain,
	}
}

func (g *GoogleProvider) AuthCodeURL(state string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "select_account")}
	if g.domain != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", g.domain))
	}
	return g.cfg.AuthCodeURL(state, opts...)
}

// Exchange trades code for a token and reads the user's profile.
func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google: exchange: %w", err)
	}
	opts := []option.ClientOption{option.WithTokenSource(g.cfg.TokenSource(ctx, tok))}
	if g.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.apiEndpoint))
	}
	svc, err := goauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: userinfo: %w", err)
	}
	if info.Id == "" || info.Email == "" {
		return nil, errors.New("google: userinfo missing id or email")
	}
	if info.VerifiedEmail == nil || !*info.VerifiedEmail {
		return nil, fmt.Errorf("google: e-mail %s is not verified", info.Email)
	}
	return &Identity{
		UID:         info.Id,
		Email:       info.Email,
		DisplayName: info.Name,
		PhotoURL:    info.Picture,
	}, nil
}
