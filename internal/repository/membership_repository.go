package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ppm-changes/internal/database"
)

// MembershipRepository reads project role assignments. The project_members
// table is owned by the projects service; this service only queries it to
// resolve approvers.
type MembershipRepository struct {
	db *database.DB
}

// NewMembershipRepository creates a new MembershipRepository.
func NewMembershipRepository(db *database.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// FindUserWithRole returns the user ID holding the given role on a project,
// or nil when no assignment exists. When several users hold the role the
// longest-standing assignment wins.
func (r *MembershipRepository) FindUserWithRole(ctx context.Context, projectID, role string) (*string, error) {
	query := `
		SELECT user_id
		FROM project_members
		WHERE project_id = $1
		  AND role = $2
		ORDER BY created_at ASC
		LIMIT 1
	`

	var userID string
	err := r.db.QueryRow(ctx, query, projectID, role).Scan(&userID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &userID, nil
}
