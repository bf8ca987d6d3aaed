package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/wrkhub/authgate/internal/config"
)

func NewGiteaAdapter(cfg config.ProviderConfig, baseURL, redirectURL string, states StateStore) *OAuthAdapter {
	base := strings.TrimRight(baseURL, "/")
	return &OAuthAdapter{
		name: "gitea",
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/login/oauth/authorize",
				TokenURL: base + "/login/oauth/access_token",
			},
		},
		userInfoURL: base + "/api/v1/user",
		mapUser:     mapGiteaUser,
		states:      states,
	}
}

func mapGiteaUser(data []byte) (*ExternalIdentity, error) {
	var payload struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		FullName  string `json:"full_name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode gitea userinfo: %w", err)
	}
	name := payload.FullName
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
