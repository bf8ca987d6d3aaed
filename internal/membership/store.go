package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrkhub/authgate/internal/models"
)

// ErrNotFound is returned when no membership row matches.
var ErrNotFound = errors.New("membership: not found")

// Store answers the membership questions the policy engine asks. It only
// reads; domain services own these tables.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) WorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	var w models.Workspace
	err := s.db.QueryRow(ctx,
		`SELECT id, slug, name, created_at FROM workspaces WHERE slug = $1`, slug,
	).Scan(&w.ID, &w.Slug, &w.Name, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return &w, nil
}

func (s *Store) WorkspaceMember(ctx context.Context, workspaceID, userID uuid.UUID) (*models.WorkspaceMember, error) {
	var m models.WorkspaceMember
	err := s.db.QueryRow(ctx,
		`SELECT id, workspace_id, user_id, role, is_active
		 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID,
	).Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace member: %w", err)
	}
	return &m, nil
}

func (s *Store) ProjectMember(ctx context.Context, projectID, userID uuid.UUID) (*models.ProjectMember, error) {
	var m models.ProjectMember
	err := s.db.QueryRow(ctx,
		`SELECT id, project_id, user_id, role, is_active
		 FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Role, &m.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project member: %w", err)
	}
	return &m, nil
}

// ProjectRolesInWorkspace lists the caller's active project roles across a
// workspace; workspace-scoped writes key off these.
func (s *Store) ProjectRolesInWorkspace(ctx context.Context, workspaceID, userID uuid.UUID) ([]models.Role, error) {
	rows, err := s.db.Query(ctx,
		`SELECT pm.role FROM project_members pm
		 JOIN projects p ON p.id = pm.project_id
		 WHERE p.workspace_id = $1 AND pm.user_id = $2 AND pm.is_active = true`,
		workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("query project roles: %w", err)
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		var r models.Role
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan project role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// TeamspaceIDsForProject is the first leg of teamspace resolution: which
// teamspaces own the project.
func (s *Store) TeamspaceIDsForProject(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT team_space_id FROM teamspace_projects WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query teamspaces: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan teamspace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsTeamspaceMember is the second leg: does the caller sit in any of them.
func (s *Store) IsTeamspaceMember(ctx context.Context, userID uuid.UUID, teamspaceIDs []uuid.UUID) (bool, error) {
	if len(teamspaceIDs) == 0 {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM teamspace_members
		 WHERE user_id = $1 AND team_space_id = ANY($2))`,
		userID, teamspaceIDs,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check teamspace membership: %w", err)
	}
	return exists, nil
}

func (s *Store) Page(ctx context.Context, pageID uuid.UUID) (*models.Page, error) {
	var p models.Page
	err := s.db.QueryRow(ctx,
		`SELECT id, workspace_id, project_id, owner_id, access FROM pages WHERE id = $1`, pageID,
	).Scan(&p.ID, &p.WorkspaceID, &p.ProjectID, &p.OwnerID, &p.Access)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return &p, nil
}

// PageAccess reports the caller's shared access to a page, if any.
func (s *Store) PageAccess(ctx context.Context, pageID, userID uuid.UUID) (models.PageAccessLevel, bool, error) {
	var level models.PageAccessLevel
	err := s.db.QueryRow(ctx,
		`SELECT access FROM page_users WHERE page_id = $1 AND user_id = $2`, pageID, userID,
	).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get page access: %w", err)
	}
	return level, true, nil
}
