package store

import (
	"context"
	"database/sql"
	"fmt"

	"ticket-resale/internal/models"
)

// SellerStanding reads blacklist state, KYC level and approved listing history
func (t *pgTx) SellerStanding(ctx context.Context, sellerID int64) (models.SellerStanding, error) {
	var row struct {
		Blacklisted bool          `db:"blacklisted"`
		KYCLevel    sql.NullInt64 `db:"kyc_level"`
		Approved    int           `db:"approved"`
	}

	query := `
		SELECT
			EXISTS(SELECT 1 FROM blacklist_entries WHERE user_id = $1) AS blacklisted,
			(SELECT kyc_level FROM user_profiles WHERE user_id = $1) AS kyc_level,
			(SELECT COUNT(*) FROM listings WHERE seller_id = $1 AND approved_at IS NOT NULL) AS approved`

	if err := t.tx.GetContext(ctx, &row, query, sellerID); err != nil {
		return models.SellerStanding{}, fmt.Errorf("failed to read seller standing: %w", err)
	}

	return models.SellerStanding{
		Blacklisted:           row.Blacklisted,
		KYCLevel:              int(row.KYCLevel.Int64),
		PriorApprovedListings: row.Approved,
	}, nil
}

// IsBlacklisted checks if a user has a blacklist entry
func (t *pgTx) IsBlacklisted(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM blacklist_entries WHERE user_id = $1)", userID)
	return exists, err
}

// InsertBlacklistEntry inserts an entry unless the user is already blacklisted
func (t *pgTx) InsertBlacklistEntry(ctx context.Context, e *models.BlacklistEntry) (bool, error) {
	query := `
		INSERT INTO blacklist_entries (user_id, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING id`

	err := t.tx.GetContext(ctx, &e.ID, query, e.UserID, e.Reason, e.CreatedBy, e.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert blacklist entry: %w", err)
	}
	return true, nil
}

// UpsertUserProfile stores the latest KYC level reported by identity
func (t *pgTx) UpsertUserProfile(ctx context.Context, p *models.UserProfile) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, kyc_level, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET kyc_level = EXCLUDED.kyc_level, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.KYCLevel, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user profile: %w", err)
	}
	return nil
}
