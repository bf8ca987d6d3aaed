package models

import (
	"time"

	"github.com/google/uuid"
)

type Role int

const (
	RoleGuest  Role = 5
	RoleMember Role = 15
	RoleAdmin  Role = 20
)

type Workspace struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Slug      string    `json:"slug" db:"slug"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WorkspaceMember rows are never deleted on removal; deactivation flips
// is_active so the (workspace, user) pair stays unique.
type WorkspaceMember struct {
	ID          uuid.UUID `json:"id" db:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Role        Role      `json:"role" db:"role"`
	IsActive    bool      `json:"is_active" db:"is_active"`
}

type Project struct {
	ID          uuid.UUID `json:"id" db:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Identifier  string    `json:"identifier" db:"identifier"`
}

type ProjectMember struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ProjectID uuid.UUID `json:"project_id" db:"project_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Role      Role      `json:"role" db:"role"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}

type TeamspaceMember struct {
	ID          uuid.UUID `json:"id" db:"id"`
	TeamspaceID uuid.UUID `json:"team_space_id" db:"team_space_id"`
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
}

type TeamspaceProject struct {
	TeamspaceID uuid.UUID `json:"team_space_id" db:"team_space_id"`
	ProjectID   uuid.UUID `json:"project_id" db:"project_id"`
}

type PageVisibility int

const (
	PagePublic  PageVisibility = 0
	PagePrivate PageVisibility = 1
)

type Page struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	WorkspaceID uuid.UUID      `json:"workspace_id" db:"workspace_id"`
	ProjectID   *uuid.UUID     `json:"project_id,omitempty" db:"project_id"`
	OwnerID     uuid.UUID      `json:"owner_id" db:"owner_id"`
	Access      PageVisibility `json:"access" db:"access"`
}

type PageAccessLevel int

const (
	PageAccessView    PageAccessLevel = 0
	PageAccessComment PageAccessLevel = 1
	PageAccessEdit    PageAccessLevel = 2
)

// PageUser shares a private page with one user at a given access level.
type PageUser struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	PageID      uuid.UUID       `json:"page_id" db:"page_id"`
	UserID      uuid.UUID       `json:"user_id" db:"user_id"`
	WorkspaceID uuid.UUID       `json:"workspace_id" db:"workspace_id"`
	ProjectID   *uuid.UUID      `json:"project_id,omitempty" db:"project_id"`
	Access      PageAccessLevel `json:"access" db:"access"`
}

type FeatureFlag struct {
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Key         string    `json:"key" db:"key"`
	Enabled     bool      `json:"enabled" db:"enabled"`
}
