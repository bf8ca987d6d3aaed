package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/wrkhub/authgate/internal/config"
)

func NewGitHubAdapter(cfg config.ProviderConfig, redirectURL string, states StateStore) *OAuthAdapter {
	return &OAuthAdapter{
		name: "github",
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     githuboauth.Endpoint,
		},
		userInfoURL:  "https://api.github.com/user",
		mapUser:      mapGitHubUser,
		primaryEmail: githubPrimaryEmail,
		states:       states,
	}
}

func mapGitHubUser(data []byte) (*ExternalIdentity, error) {
	var payload struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode github userinfo: %w", err)
	}
	name := payload.Name
	if name == "" {
		name = payload.Login
	}
	return &ExternalIdentity{
		ProviderAccountID: fmt.Sprintf("%d", payload.ID),
		Email:             payload.Email,
		DisplayName:       name,
		AvatarURL:         payload.AvatarURL,
	}, nil
}

// githubPrimaryEmail asks /user/emails for the address GitHub marks
// primary; the /user payload omits the email for most accounts.
func githubPrimaryEmail(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user/emails", nil)
	if err != nil {
		return "", fmt.Errorf("create emails request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch github emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("github emails request failed (%d)", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return "", fmt.Errorf("read github emails: %w", err)
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(data, &emails); err != nil {
		return "", fmt.Errorf("decode github emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, nil
		}
	}
	return "", nil
}
