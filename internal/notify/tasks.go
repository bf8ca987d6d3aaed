package notify

const (
	TypeMagicCode  = "notify:magic_code"
	TypeInvitation = "notify:invitation"
	TypeActivation = "notify:activation"
)

type MagicCodePayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type InvitationPayload struct {
	Email       string `json:"email"`
	WorkspaceID string `json:"workspace_id"`
	InviteID    string `json:"invite_id"`
	Role        int    `json:"role"`
}

type ActivationPayload struct {
	Email string `json:"email"`
}
