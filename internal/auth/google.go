package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

var ErrGoogleRejected = errors.New("google rejected the access token")

// GoogleUser is the profile returned by the userinfo endpoint.
type GoogleUser struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GoogleVerifier turns a Google access token (or auth code) into a profile.
type GoogleVerifier struct {
	config      oauth2.Config
	userInfoURL string
}

func NewGoogleVerifier(clientID, clientSecret, redirectURL, userInfoURL string) *GoogleVerifier {
	if strings.TrimSpace(userInfoURL) == "" {
		userInfoURL = GoogleUserInfoURL
	}
	return &GoogleVerifier{
		config: oauth2.Config{
			ClientID:     strings.TrimSpace(clientID),
			ClientSecret: strings.TrimSpace(clientSecret),
			RedirectURL:  strings.TrimSpace(redirectURL),
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: userInfoURL,
	}
}

// Exchange trades an authorization code for an access token.
func (v *GoogleVerifier) Exchange(ctx context.Context, code string) (string, error) {
	token, err := v.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	return token.AccessToken, nil
}

// UserInfo fetches the profile behind accessToken.
func (v *GoogleVerifier) UserInfo(ctx context.Context, accessToken string) (GoogleUser, error) {
	if strings.TrimSpace(accessToken) == "" {
		return GoogleUser{}, ErrGoogleRejected
	}
	client := v.config.Client(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return GoogleUser{}, fmt.Errorf("user info request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return GoogleUser{}, fmt.Errorf("user info request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return GoogleUser{}, ErrGoogleRejected
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return GoogleUser{}, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user GoogleUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return GoogleUser{}, fmt.Errorf("decode user info: %w", err)
	}
	if user.Sub == "" {
		return GoogleUser{}, ErrGoogleRejected
	}
	return user, nil
}
