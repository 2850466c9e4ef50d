package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantScope wraps a connection with tenant context and ensures cleanup.
// The connection has app.current_user_id and app.current_project_id set for
// RLS policy evaluation; every tenant-owned table's policy checks both.
type TenantScope struct {
	Conn      *pgxpool.Conn
	UserID    uuid.UUID
	ProjectID uuid.UUID
}

// Close resets tenant context and releases the connection to the pool.
// This MUST be called to prevent tenant context from leaking into the next
// checkout of the same pooled connection.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_user_id")
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_project_id")
	s.Conn.Release()
}

// WithTenant acquires a connection and sets the (user, project) tenant
// context for RLS. The returned TenantScope MUST be closed with
// defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, userID, projectID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err = conn.Exec(ctx,
		"SELECT set_config('app.current_user_id', $1, false)", userID.String()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set user context: %w", err)
	}
	if _, err = conn.Exec(ctx,
		"SELECT set_config('app.current_project_id', $1, false)", projectID.String()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set project context: %w", err)
	}

	return &TenantScope{Conn: conn, UserID: userID, ProjectID: projectID}, nil
}

// WithoutTenant acquires a connection without tenant context. Use this for
// operations that legitimately cross tenants, such as approval-token lookup
// (the approver has no authenticated session). The returned TenantScope MUST
// be closed with defer scope.Close().
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &TenantScope{Conn: conn}, nil
}
