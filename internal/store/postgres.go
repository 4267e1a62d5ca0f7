package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

func translateWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == uniqueViolation && pgErr.ConstraintName == "kollabs_idea_active_uniq":
		return ErrDuplicateActiveKollab
	case pgErr.Code == checkViolation:
		return ErrCheckViolation
	}
	return err
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertIdea(ctx context.Context, idea Idea) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ideas (id, title, description, created_by, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, idea.ID, idea.Title, idea.Description, idea.CreatedBy, idea.Status, idea.CreatedAt, idea.UpdatedAt)
	if err != nil {
		if translated := translateWriteError(err); translated != err {
			return translated
		}
		return fmt.Errorf("insert idea: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	var idea Idea
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.title, i.description, i.created_by, i.status, i.created_at, i.updated_at,
			EXISTS(SELECT 1 FROM kollabs k WHERE k.idea_id = i.id AND k.status = 'active')
		FROM ideas i
		WHERE i.id = $1
	`, ideaID).Scan(
		&idea.ID,
		&idea.Title,
		&idea.Description,
		&idea.CreatedBy,
		&idea.Status,
		&idea.CreatedAt,
		&idea.UpdatedAt,
		&idea.HasActiveKollab,
	)
	if err != nil {
		return Idea{}, err
	}
	return idea, nil
}

var ideaSortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"title":     "title",
}

// ListIdeas returns one page of ideas plus the unpaged total. The sort field
// and direction must already be validated; unknown values fall back to
// created_at DESC.
func (s *PostgresStore) ListIdeas(ctx context.Context, filter IdeaFilter) ([]Idea, int, error) {
	where := ""
	args := []any{}
	if filter.Status != "" {
		where = "WHERE i.status = $1"
		args = append(args, filter.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM ideas i %s`, where), args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ideas: %w", err)
	}

	column, ok := ideaSortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if filter.SortOrder == "asc" {
		direction = "ASC"
	}

	offset := (filter.Page - 1) * filter.PageSize
	args = append(args, filter.PageSize, offset)
	query := fmt.Sprintf(`
		SELECT i.id, i.title, i.description, i.created_by, i.status, i.created_at, i.updated_at,
			EXISTS(SELECT 1 FROM kollabs k WHERE k.idea_id = i.id AND k.status = 'active')
		FROM ideas i
		%s
		ORDER BY i.%s %s, i.id
		LIMIT $%d OFFSET $%d
	`, where, column, direction, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	items := make([]Idea, 0)
	for rows.Next() {
		var idea Idea
		if err := rows.Scan(
			&idea.ID,
			&idea.Title,
			&idea.Description,
			&idea.CreatedBy,
			&idea.Status,
			&idea.CreatedAt,
			&idea.UpdatedAt,
			&idea.HasActiveKollab,
		); err != nil {
			return nil, 0, fmt.Errorf("scan idea: %w", err)
		}
		items = append(items, idea)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) UpdateIdea(ctx context.Context, idea Idea) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ideas
		SET title=$2, description=$3, created_by=$4, status=$5, updated_at=$6
		WHERE id=$1
	`, idea.ID, idea.Title, idea.Description, idea.CreatedBy, idea.Status, idea.UpdatedAt)
	if err != nil {
		if translated := translateWriteError(err); translated != err {
			return translated
		}
		return fmt.Errorf("update idea: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update idea result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteIdea removes an idea unless an active kollab references it. The
// existence check and the delete are one statement, so a concurrent kollab
// creation cannot slip between them.
func (s *PostgresStore) DeleteIdea(ctx context.Context, ideaID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM ideas i
		WHERE i.id = $1
			AND NOT EXISTS(SELECT 1 FROM kollabs k WHERE k.idea_id = i.id AND k.status = 'active')
	`, ideaID)
	if err != nil {
		return fmt.Errorf("delete idea: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete idea result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ideas WHERE id=$1)`, ideaID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check idea: %w", err)
	}
	if exists {
		return ErrIdeaHasActiveKollab
	}
	return sql.ErrNoRows
}

func (s *PostgresStore) HasActiveKollab(ctx context.Context, ideaID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM kollabs WHERE idea_id=$1 AND status='active')`, ideaID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active kollab: %w", err)
	}
	return exists, nil
}

// InsertKollab persists a new kollab. A unique violation on
// kollabs_idea_active_uniq — two requests racing past the application
// pre-check — comes back as ErrDuplicateActiveKollab.
func (s *PostgresStore) InsertKollab(ctx context.Context, kollab Kollab) error {
	participants, err := json.Marshal(kollab.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	discussions := kollab.Discussions
	if discussions == nil {
		discussions = []Discussion{}
	}
	discussionsJSON, err := json.Marshal(discussions)
	if err != nil {
		return fmt.Errorf("marshal discussions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kollabs (id, idea_id, goal, participants, success_criteria, status, discussions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, kollab.ID, kollab.IdeaID, kollab.Goal, participants, kollab.SuccessCriteria, kollab.Status, discussionsJSON, kollab.CreatedAt, kollab.UpdatedAt)
	if err != nil {
		if translated := translateWriteError(err); translated != err {
			return translated
		}
		return fmt.Errorf("insert kollab: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetKollab(ctx context.Context, kollabID string) (Kollab, error) {
	var (
		kollab           Kollab
		participantsJSON []byte
		discussionsJSON  []byte
		ideaID           sql.NullString
		ideaTitle        sql.NullString
		ideaDescription  sql.NullString
		ideaStatus       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT k.id, k.idea_id, k.goal, k.participants, k.success_criteria, k.status, k.discussions,
			k.created_at, k.updated_at,
			i.id, i.title, i.description, i.status
		FROM kollabs k
		LEFT JOIN ideas i ON i.id = k.idea_id
		WHERE k.id = $1
	`, kollabID).Scan(
		&kollab.ID,
		&kollab.IdeaID,
		&kollab.Goal,
		&participantsJSON,
		&kollab.SuccessCriteria,
		&kollab.Status,
		&discussionsJSON,
		&kollab.CreatedAt,
		&kollab.UpdatedAt,
		&ideaID,
		&ideaTitle,
		&ideaDescription,
		&ideaStatus,
	)
	if err != nil {
		return Kollab{}, err
	}

	if err := json.Unmarshal(participantsJSON, &kollab.Participants); err != nil {
		return Kollab{}, fmt.Errorf("unmarshal participants: %w", err)
	}
	if err := json.Unmarshal(discussionsJSON, &kollab.Discussions); err != nil {
		return Kollab{}, fmt.Errorf("unmarshal discussions: %w", err)
	}
	if ideaID.Valid {
		kollab.Idea = &IdeaRef{
			ID:          ideaID.String,
			Title:       ideaTitle.String,
			Description: ideaDescription.String,
			Status:      ideaStatus.String,
		}
	}
	return kollab, nil
}

func (s *PostgresStore) UpdateKollab(ctx context.Context, kollab Kollab) error {
	participants, err := json.Marshal(kollab.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE kollabs
		SET goal=$2, participants=$3, success_criteria=$4, status=$5, updated_at=$6
		WHERE id=$1
	`, kollab.ID, kollab.Goal, participants, kollab.SuccessCriteria, kollab.Status, kollab.UpdatedAt)
	if err != nil {
		if translated := translateWriteError(err); translated != err {
			return translated
		}
		return fmt.Errorf("update kollab: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update kollab result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteKollab removes a kollab unless it is still active.
func (s *PostgresStore) DeleteKollab(ctx context.Context, kollabID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kollabs WHERE id=$1 AND status <> 'active'`, kollabID)
	if err != nil {
		return fmt.Errorf("delete kollab: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete kollab result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM kollabs WHERE id=$1)`, kollabID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check kollab: %w", err)
	}
	if exists {
		return ErrKollabActive
	}
	return sql.ErrNoRows
}

// AppendDiscussion adds one discussion to a kollab's embedded list. The whole
// read-validate-append-write runs in a transaction that locks the kollab row,
// so concurrent appends to the same kollab queue instead of clobbering each
// other; appends to different kollabs do not contend.
func (s *PostgresStore) AppendDiscussion(ctx context.Context, kollabID string, discussion Discussion) (Discussion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Discussion{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status          string
		discussionsJSON []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, discussions FROM kollabs WHERE id=$1 FOR UPDATE`, kollabID,
	).Scan(&status, &discussionsJSON)
	if err != nil {
		return Discussion{}, err
	}

	if status != KollabStatusActive {
		return Discussion{}, &NotActiveError{Status: status}
	}

	var discussions []Discussion
	if err := json.Unmarshal(discussionsJSON, &discussions); err != nil {
		return Discussion{}, fmt.Errorf("unmarshal discussions: %w", err)
	}
	if len(discussions) >= MaxDiscussions {
		return Discussion{}, ErrDiscussionLimit
	}
	if discussion.ParentID != nil {
		found := false
		for _, existing := range discussions {
			if existing.ID == *discussion.ParentID {
				found = true
				break
			}
		}
		if !found {
			return Discussion{}, ErrParentDiscussionNotFound
		}
	}

	discussions = append(discussions, discussion)
	updated, err := json.Marshal(discussions)
	if err != nil {
		return Discussion{}, fmt.Errorf("marshal discussions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE kollabs SET discussions=$2, updated_at=$3 WHERE id=$1`,
		kollabID, updated, discussion.CreatedAt,
	); err != nil {
		return Discussion{}, fmt.Errorf("append discussion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Discussion{}, fmt.Errorf("commit append tx: %w", err)
	}
	return discussion, nil
}
