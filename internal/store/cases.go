package store

import (
	"context"
	"fmt"

	"ticket-resale/internal/models"
)

// InsertCase opens a dispute case
func (t *pgTx) InsertCase(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO cases (order_id, reporter_id, type, status, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &c.ID, query,
		c.OrderID, c.ReporterID, c.Type, c.Status, c.Description, c.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	c.UpdatedAt = c.CreatedAt
	return nil
}

// GetCase retrieves a case by ID
func (t *pgTx) GetCase(ctx context.Context, id int64, forUpdate bool) (*models.Case, error) {
	var c models.Case
	err := t.tx.GetContext(ctx, &c, "SELECT * FROM cases WHERE id = $1"+lockClause(forUpdate), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// UpdateCase persists status, resolution and close time
func (t *pgTx) UpdateCase(ctx context.Context, c *models.Case) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE cases SET status = $1, resolution = $2, closed_at = $3, updated_at = $4 WHERE id = $5",
		c.Status, c.Resolution, c.ClosedAt, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update case %d: %w", c.ID, err)
	}
	return expectOneRow(res, c.ID)
}

// ListCases retrieves cases, optionally filtered by status
func (t *pgTx) ListCases(ctx context.Context, status models.CaseStatus) ([]models.Case, error) {
	cases := []models.Case{}
	err := t.tx.SelectContext(ctx, &cases,
		"SELECT * FROM cases WHERE ($1::text = '' OR status = $1::text) ORDER BY created_at, id", status)
	return cases, err
}

// ListCasesByReporter retrieves cases opened by a user
func (t *pgTx) ListCasesByReporter(ctx context.Context, reporterID int64) ([]models.Case, error) {
	cases := []models.Case{}
	err := t.tx.SelectContext(ctx, &cases,
		"SELECT * FROM cases WHERE reporter_id = $1 ORDER BY created_at DESC, id DESC", reporterID)
	return cases, err
}

// InsertCaseNote appends a note to a case
func (t *pgTx) InsertCaseNote(ctx context.Context, n *models.CaseNote) error {
	query := `
		INSERT INTO case_notes (case_id, operator_id, note_type, content, internal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &n.ID, query,
		n.CaseID, n.OperatorID, n.NoteType, n.Content, n.Internal, n.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert case note: %w", err)
	}
	return nil
}

// ListCaseNotes retrieves the notes of a case in insertion order
func (t *pgTx) ListCaseNotes(ctx context.Context, caseID int64) ([]models.CaseNote, error) {
	notes := []models.CaseNote{}
	err := t.tx.SelectContext(ctx, &notes,
		"SELECT * FROM case_notes WHERE case_id = $1 ORDER BY id", caseID)
	return notes, err
}
