package flags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrkhub/authgate/internal/cache"
)

const (
	FlagTeamspaces  = "TEAMSPACES"
	FlagSharedPages = "SHARED_PAGES"
)

// cacheTTL bounds staleness: a flag flip becomes visible within a minute.
const cacheTTL = time.Minute

// Oracle answers feature-flag questions cheaply enough to sit inside
// policy decisions. Values are cached per (workspace, key).
type Oracle struct {
	db    *pgxpool.Pool
	cache *cache.Cache
}

func NewOracle(db *pgxpool.Pool, c *cache.Cache) *Oracle {
	return &Oracle{db: db, cache: c}
}

func (o *Oracle) Enabled(ctx context.Context, workspaceID, userID uuid.UUID, key string) (bool, error) {
	cacheKey := fmt.Sprintf("flag_%s_%s", workspaceID, key)

	var cached bool
	err := o.cache.Get(ctx, cacheKey, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		// A broken cache should not take down policy decisions.
		return o.lookup(ctx, workspaceID, key)
	}

	enabled, err := o.lookup(ctx, workspaceID, key)
	if err != nil {
		return false, err
	}
	_ = o.cache.Set(ctx, cacheKey, enabled, cacheTTL)
	return enabled, nil
}

func (o *Oracle) lookup(ctx context.Context, workspaceID uuid.UUID, key string) (bool, error) {
	var enabled bool
	err := o.db.QueryRow(ctx,
		`SELECT enabled FROM feature_flags WHERE workspace_id = $1 AND key = $2`,
		workspaceID, key,
	).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup flag %s: %w", key, err)
	}
	return enabled, nil
}
