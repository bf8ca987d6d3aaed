package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service records authentication attempts and policy denials. Entries
// carry hashed identifiers only, so the audit trail holds no raw emails
// or client addresses.
type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type AuthAttempt struct {
	Provider  string
	Email     string
	Success   bool
	ErrorCode string
	ClientIP  string
}

func (s *Service) LogAuthAttempt(ctx context.Context, a AuthAttempt) {
	result := "success"
	if !a.Success {
		result = "failure"
	}

	slog.Info("auth attempt",
		"provider", a.Provider,
		"result", result,
		"error_code", a.ErrorCode,
	)

	_, err := s.db.Exec(ctx,
		`INSERT INTO auth_events (provider, email_hash, result, error_code, client_ip_hash)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.Provider, hashValue(a.Email), result, nullable(a.ErrorCode), hashValue(a.ClientIP),
	)
	if err != nil {
		slog.Error("insert auth event", "error", err)
	}
}

type PolicyDeny struct {
	PrincipalID uuid.UUID
	Route       string
	Scope       string
	Rule        string
	Reason      string
}

func (s *Service) LogPolicyDeny(ctx context.Context, d PolicyDeny) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO policy_denials (principal_id, route, scope, rule, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.PrincipalID, d.Route, d.Scope, d.Rule, d.Reason,
	)
	if err != nil {
		slog.Error("insert policy denial", "error", err)
	}
}

type EventQuery struct {
	StartDate *time.Time
	EndDate   *time.Time
	Provider  string
	Limit     int
	Offset    int
}

type AuthEvent struct {
	ID        uuid.UUID `json:"id"`
	Provider  string    `json:"provider"`
	EmailHash string    `json:"email_hash"`
	Result    string    `json:"result"`
	ErrorCode *string   `json:"error_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Service) GetAuthEvents(ctx context.Context, q EventQuery) ([]AuthEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `SELECT id, provider, email_hash, result, error_code, created_at
			  FROM auth_events WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if q.Provider != "" {
		query += fmt.Sprintf(" AND provider = $%d", argIdx)
		args = append(args, q.Provider)
		argIdx++
	}
	if q.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.StartDate)
		argIdx++
	}
	if q.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *q.EndDate)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query auth events: %w", err)
	}
	defer rows.Close()

	var events []AuthEvent
	for rows.Next() {
		var e AuthEvent
		if err := rows.Scan(&e.ID, &e.Provider, &e.EmailHash, &e.Result, &e.ErrorCode, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan auth event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func hashValue(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
