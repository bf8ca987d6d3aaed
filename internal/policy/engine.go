package policy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/wrkhub/authgate/internal/auth"
	"github.com/wrkhub/authgate/internal/flags"
	"github.com/wrkhub/authgate/internal/membership"
	"github.com/wrkhub/authgate/internal/models"
)

// Scope is the policy bucket a route declares.
type Scope string

const (
	ScopeWorkspace     Scope = "workspace"
	ScopeProjectEntity Scope = "project-entity"
	ScopeProjectLite   Scope = "project-lite"
	ScopePage          Scope = "page"
)

// Target names the resource a request acts on. Only the fields the scope
// needs have to be set.
type Target struct {
	WorkspaceID uuid.UUID
	ProjectID   uuid.UUID
	PageID      uuid.UUID
}

type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
}

func allow(rule string) Decision {
	return Decision{Allowed: true, Rule: rule}
}

func deny(rule, reason string) Decision {
	return Decision{Allowed: false, Rule: rule, Reason: reason}
}

// MembershipSource is the read-only membership surface the engine
// consults; *membership.Store satisfies it.
type MembershipSource interface {
	WorkspaceMember(ctx context.Context, workspaceID, userID uuid.UUID) (*models.WorkspaceMember, error)
	ProjectMember(ctx context.Context, projectID, userID uuid.UUID) (*models.ProjectMember, error)
	ProjectRolesInWorkspace(ctx context.Context, workspaceID, userID uuid.UUID) ([]models.Role, error)
	TeamspaceIDsForProject(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)
	IsTeamspaceMember(ctx context.Context, userID uuid.UUID, teamspaceIDs []uuid.UUID) (bool, error)
	Page(ctx context.Context, pageID uuid.UUID) (*models.Page, error)
	PageAccess(ctx context.Context, pageID, userID uuid.UUID) (models.PageAccessLevel, bool, error)
}

// FlagOracle gates teamspace and shared-page rules.
type FlagOracle interface {
	Enabled(ctx context.Context, workspaceID, userID uuid.UUID, key string) (bool, error)
}

// Engine decides, per (principal, method, scope, target), whether the
// request may proceed. It never mutates state.
type Engine struct {
	members MembershipSource
	flags   FlagOracle
}

func NewEngine(members MembershipSource, oracle FlagOracle) *Engine {
	return &Engine{members: members, flags: oracle}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func (e *Engine) Check(ctx context.Context, p *auth.Principal, method string, scope Scope, target Target) Decision {
	if p.Anonymous() {
		return e.logged(ctx, p, method, scope, deny("authenticated", "no principal on request"))
	}

	// Service tokens read on behalf of machines; they never mutate
	// user-facing resources.
	if p.IsService && !safeMethod(method) {
		return e.logged(ctx, p, method, scope, deny("service-token", "service tokens are read-only on user-facing resources"))
	}

	// A workspace-bound token never crosses into another workspace, no
	// matter what the membership tables say.
	if p.WorkspaceID != nil && target.WorkspaceID != uuid.Nil && *p.WorkspaceID != target.WorkspaceID {
		return e.logged(ctx, p, method, scope, deny("workspace-isolation", "token is bound to a different workspace"))
	}

	var d Decision
	switch scope {
	case ScopeWorkspace:
		d = e.checkWorkspace(ctx, p, method, target)
	case ScopeProjectEntity:
		d = e.checkProjectEntity(ctx, p, method, target)
	case ScopeProjectLite:
		d = e.checkProjectLite(ctx, p, target)
	case ScopePage:
		d = e.checkPage(ctx, p, method, target)
	default:
		d = deny("scope", "unknown route scope")
	}
	return e.logged(ctx, p, method, scope, d)
}

func (e *Engine) checkWorkspace(ctx context.Context, p *auth.Principal, method string, target Target) Decision {
	member, err := e.members.WorkspaceMember(ctx, target.WorkspaceID, p.UserID())
	if err != nil && !errors.Is(err, membership.ErrNotFound) {
		return deny("workspace-member", "membership lookup failed")
	}
	active := member != nil && member.IsActive

	if safeMethod(method) {
		if active {
			return allow("workspace-member")
		}
		return deny("workspace-member", "caller is not an active workspace member")
	}

	if method == http.MethodPost {
		if active && (member.Role == models.RoleAdmin || member.Role == models.RoleMember) {
			return allow("workspace-writer")
		}
		return deny("workspace-writer", "caller needs the member or admin workspace role")
	}

	roles, err := e.members.ProjectRolesInWorkspace(ctx, target.WorkspaceID, p.UserID())
	if err != nil {
		return deny("workspace-project-admin", "project role lookup failed")
	}
	for _, r := range roles {
		if r == models.RoleAdmin {
			return allow("workspace-project-admin")
		}
	}
	if len(roles) > 0 && active && member.Role == models.RoleAdmin {
		return allow("workspace-admin-with-project")
	}
	return deny("workspace-project-admin", "caller is not a project admin in this workspace")
}

func (e *Engine) checkProjectEntity(ctx context.Context, p *auth.Principal, method string, target Target) Decision {
	member, err := e.members.ProjectMember(ctx, target.ProjectID, p.UserID())
	if err != nil && !errors.Is(err, membership.ErrNotFound) {
		return deny("project-member", "membership lookup failed")
	}
	active := member != nil && member.IsActive

	if safeMethod(method) {
		if active {
			return allow("project-member")
		}
		if e.teamspaceAccess(ctx, p, target) {
			return allow("teamspace-member")
		}
		return deny("project-member", "caller has no project or teamspace access")
	}

	if active && (member.Role == models.RoleAdmin || member.Role == models.RoleMember) {
		return allow("project-writer")
	}
	if e.teamspaceAccess(ctx, p, target) {
		return allow("teamspace-member")
	}
	return deny("project-writer", "caller needs the member or admin project role")
}

func (e *Engine) checkProjectLite(ctx context.Context, p *auth.Principal, target Target) Decision {
	member, err := e.members.ProjectMember(ctx, target.ProjectID, p.UserID())
	if err != nil && !errors.Is(err, membership.ErrNotFound) {
		return deny("project-lite", "membership lookup failed")
	}
	if member != nil && member.IsActive {
		return allow("project-lite")
	}
	if e.teamspaceAccess(ctx, p, target) {
		return allow("teamspace-member")
	}
	return deny("project-lite", "caller has no project or teamspace access")
}

func (e *Engine) checkPage(ctx context.Context, p *auth.Principal, method string, target Target) Decision {
	page, err := e.members.Page(ctx, target.PageID)
	if err != nil {
		return deny("page", "page lookup failed")
	}

	if page.OwnerID == p.UserID() {
		return allow("page-owner")
	}

	if page.Access == models.PagePrivate {
		enabled, err := e.flags.Enabled(ctx, page.WorkspaceID, p.UserID(), flags.FlagSharedPages)
		if err != nil || !enabled {
			return deny("page-shared", "shared pages are not enabled for this workspace")
		}
		level, ok, err := e.members.PageAccess(ctx, target.PageID, p.UserID())
		if err != nil || !ok {
			return deny("page-shared", "page is not shared with the caller")
		}
		if safeMethod(method) {
			return allow("page-shared")
		}
		if level == models.PageAccessEdit {
			return allow("page-shared-edit")
		}
		return deny("page-shared-edit", "caller needs edit access to this page")
	}

	// Public pages fall back to project rules, with DELETE tightened to
	// project admins.
	projectTarget := Target{WorkspaceID: page.WorkspaceID}
	if page.ProjectID != nil {
		projectTarget.ProjectID = *page.ProjectID
	} else {
		return e.checkWorkspace(ctx, p, method, projectTarget)
	}

	if method == http.MethodDelete {
		member, err := e.members.ProjectMember(ctx, projectTarget.ProjectID, p.UserID())
		if err == nil && member.IsActive && member.Role == models.RoleAdmin {
			return allow("page-delete-admin")
		}
		return deny("page-delete-admin", "deleting a public page needs the project admin role")
	}
	return e.checkProjectEntity(ctx, p, method, projectTarget)
}

// teamspaceAccess runs the two-step resolution: the TEAMSPACES flag, the
// teamspaces owning the project, then the caller's membership in any.
func (e *Engine) teamspaceAccess(ctx context.Context, p *auth.Principal, target Target) bool {
	if target.WorkspaceID == uuid.Nil {
		return false
	}
	enabled, err := e.flags.Enabled(ctx, target.WorkspaceID, p.UserID(), flags.FlagTeamspaces)
	if err != nil || !enabled {
		return false
	}
	teamIDs, err := e.members.TeamspaceIDsForProject(ctx, target.ProjectID)
	if err != nil {
		return false
	}
	ok, err := e.members.IsTeamspaceMember(ctx, p.UserID(), teamIDs)
	return err == nil && ok
}

func (e *Engine) logged(ctx context.Context, p *auth.Principal, method string, scope Scope, d Decision) Decision {
	if !d.Allowed {
		slog.Info("policy deny",
			"principal_id", p.UserID(),
			"method", method,
			"scope", string(scope),
			"rule", d.Rule,
			"reason", d.Reason,
		)
	}
	return d
}
