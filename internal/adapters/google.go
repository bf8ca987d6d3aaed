package adapters

import (
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/wrkhub/authgate/internal/config"
)

func NewGoogleAdapter(cfg config.ProviderConfig, redirectURL string, states StateStore) *OAuthAdapter {
	return &OAuthAdapter{
		name: "google",
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		mapUser:     mapGoogleUser,
		states:      states,
	}
}

func mapGoogleUser(data []byte) (*ExternalIdentity, error) {
	var payload struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode google userinfo: %w", err)
	}
	return &ExternalIdentity{
		ProviderAccountID: payload.ID,
		Email:             payload.Email,
		DisplayName:       payload.Name,
		AvatarURL:         payload.Picture,
	}, nil
}
