package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

var ErrProviderNotConfigured = errors.New("oauth provider not configured")

// UserInfo is the profile returned by the provider's userinfo endpoint.
type UserInfo struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
}

// DisplayName falls back to the e-mail local part when the provider sends
// no name.
func (u UserInfo) DisplayName() string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	return u.Sub
}

// Provider signs users in through the external OAuth provider.
type Provider struct {
	config      *oauth2.Config
	userInfoURL string
	client      *http.Client
}

func NewProvider(baseURL, clientID, clientSecret, redirectURI string) *Provider {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Provider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   baseURL + "/api/oauth/authorize",
				TokenURL:  baseURL + "/api/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: baseURL + "/api/oauth/userinfo",
		client:      http.DefaultClient,
	}
}

func (p *Provider) Configured() bool {
	return p != nil && p.config.ClientID != "" && p.config.RedirectURL != ""
}

// LoginURL is where the browser goes to sign in.
func (p *Provider) LoginURL(state string) (string, error) {
	if !p.Configured() {
		return "", ErrProviderNotConfigured
	}
	return p.config.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for a provider token.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !p.Configured() {
		return nil, ErrProviderNotConfigured
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return token, nil
}

// UserInfo fetches the signed-in user's profile.
func (p *Provider) UserInfo(ctx context.Context, token *oauth2.Token) (UserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	client := p.config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return UserInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}
	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return UserInfo{}, errors.New("userinfo missing subject")
	}
	return info, nil
}
