package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/wrkhub/authgate/internal/config"
)

func NewGitLabAdapter(cfg config.ProviderConfig, baseURL, redirectURL string, states StateStore) *OAuthAdapter {
	base := strings.TrimRight(baseURL, "/")
	return &OAuthAdapter{
		name: "gitlab",
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read_user"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/oauth/authorize",
				TokenURL: base + "/oauth/token",
			},
		},
		userInfoURL: base + "/api/v4/user",
		mapUser:     mapGitLabUser,
		states:      states,
	}
}

func mapGitLabUser(data []byte) (*ExternalIdentity, error) {
	var payload struct {
		ID        int64  `json:"id"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode gitlab userinfo: %w", err)
	}
	return &ExternalIdentity{
		ProviderAccountID: fmt.Sprintf("%d", payload.ID),
		Email:             payload.Email,
		DisplayName:       payload.Name,
		AvatarURL:         payload.AvatarURL,
	}, nil
}
