package store

import (
	"context"
	"fmt"
	"time"

	"ticket-resale/internal/models"

	"github.com/lib/pq"
)

const liveTicketIndex = "uq_listing_items_live_ticket"

func itemStatuses(statuses []models.ItemStatus) pq.StringArray {
	out := make(pq.StringArray, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// InsertListing creates a new listing
func (t *pgTx) InsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (seller_id, state, state_reason, approved_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &l.ID, query,
		l.SellerID, l.State, l.StateReason, l.ApprovedAt, l.ExpiresAt, l.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}
	l.UpdatedAt = l.CreatedAt
	return nil
}

// InsertRiskFlags writes the flags computed for a listing
func (t *pgTx) InsertRiskFlags(ctx context.Context, flags []models.RiskFlag) error {
	for i := range flags {
		f := &flags[i]
		err := t.tx.GetContext(ctx, &f.ID,
			"INSERT INTO risk_flags (listing_id, kind, reason, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
			f.ListingID, f.Kind, f.Reason, f.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert risk flag: %w", err)
		}
	}
	return nil
}

// InsertListingItems writes listing items; the live-ticket index guards exclusivity
func (t *pgTx) InsertListingItems(ctx context.Context, items []models.ListingItem) error {
	for i := range items {
		item := &items[i]
		err := t.tx.GetContext(ctx, &item.ID, `
			INSERT INTO listing_items (listing_id, ticket_id, price, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			RETURNING id`,
			item.ListingID, item.TicketID, item.Price, item.Status, item.CreatedAt)
		if isUniqueViolation(err, liveTicketIndex) {
			return ErrTicketAlreadyListed
		}
		if err != nil {
			return fmt.Errorf("failed to insert listing item: %w", err)
		}
		item.UpdatedAt = item.CreatedAt
	}
	return nil
}

// GetListing retrieves a listing by ID
func (t *pgTx) GetListing(ctx context.Context, id int64, forUpdate bool) (*models.Listing, error) {
	var l models.Listing
	err := t.tx.GetContext(ctx, &l, "SELECT * FROM listings WHERE id = $1"+lockClause(forUpdate), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// GetListingItems retrieves all items of a listing
func (t *pgTx) GetListingItems(ctx context.Context, listingID int64) ([]models.ListingItem, error) {
	items := []models.ListingItem{}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT * FROM listing_items WHERE listing_id = $1 ORDER BY ticket_id", listingID)
	return items, err
}

// GetRiskFlags retrieves the flags written at intake
func (t *pgTx) GetRiskFlags(ctx context.Context, listingID int64) ([]models.RiskFlag, error) {
	flags := []models.RiskFlag{}
	err := t.tx.SelectContext(ctx, &flags,
		"SELECT * FROM risk_flags WHERE listing_id = $1 ORDER BY id", listingID)
	return flags, err
}

// ListListingsBySeller retrieves listings for a seller
func (t *pgTx) ListListingsBySeller(ctx context.Context, sellerID int64) ([]models.Listing, error) {
	listings := []models.Listing{}
	err := t.tx.SelectContext(ctx, &listings,
		"SELECT * FROM listings WHERE seller_id = $1 ORDER BY created_at DESC, id DESC", sellerID)
	return listings, err
}

// ListListingsByState retrieves listings in a state, oldest first
func (t *pgTx) ListListingsByState(ctx context.Context, state models.ListingState) ([]models.Listing, error) {
	listings := []models.Listing{}
	err := t.tx.SelectContext(ctx, &listings,
		"SELECT * FROM listings WHERE state = $1 ORDER BY created_at, id", state)
	return listings, err
}

// ExpiredListingIDs finds open listings whose expiry has passed
func (t *pgTx) ExpiredListingIDs(ctx context.Context, now time.Time) ([]int64, error) {
	ids := []int64{}
	err := t.tx.SelectContext(ctx, &ids,
		"SELECT id FROM listings WHERE state IN ($1, $2) AND expires_at <= $3 ORDER BY id",
		models.ListingPendingReview, models.ListingActive, now)
	return ids, err
}

// UpdateListingState persists state, reason and approval time
func (t *pgTx) UpdateListingState(ctx context.Context, l *models.Listing) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE listings SET state = $1, state_reason = $2, approved_at = $3, updated_at = $4 WHERE id = $5",
		l.State, l.StateReason, l.ApprovedAt, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update listing %d: %w", l.ID, err)
	}
	return expectOneRow(res, l.ID)
}

// UpdateItemStatusByListing moves every item of a listing in one of from to status to
func (t *pgTx) UpdateItemStatusByListing(ctx context.Context, listingID int64, from []models.ItemStatus, to models.ItemStatus, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE listing_items SET status = $1, updated_at = $2 WHERE listing_id = $3 AND status = ANY($4)",
		to, now, listingID, itemStatuses(from))
	if err != nil {
		return 0, fmt.Errorf("failed to update items of listing %d: %w", listingID, err)
	}
	return res.RowsAffected()
}

// SetItemStatus updates a single listing item
func (t *pgTx) SetItemStatus(ctx context.Context, itemID int64, status models.ItemStatus, now time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE listing_items SET status = $1, updated_at = $2 WHERE id = $3",
		status, now, itemID)
	if isUniqueViolation(err, liveTicketIndex) {
		return ErrTicketAlreadyListed
	}
	if err != nil {
		return fmt.Errorf("failed to update listing item %d: %w", itemID, err)
	}
	return expectOneRow(res, itemID)
}

// CountItemsByStatus counts the items of a listing in any of statuses
func (t *pgTx) CountItemsByStatus(ctx context.Context, listingID int64, statuses []models.ItemStatus) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM listing_items WHERE listing_id = $1 AND status = ANY($2)",
		listingID, itemStatuses(statuses))
	return n, err
}

// LiveItemsForTickets finds items that currently hold any of the tickets
func (t *pgTx) LiveItemsForTickets(ctx context.Context, ticketIDs []int64) ([]models.ListingItem, error) {
	items := []models.ListingItem{}
	if len(ticketIDs) == 0 {
		return items, nil
	}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT * FROM listing_items WHERE ticket_id = ANY($1) AND status = ANY($2) ORDER BY ticket_id",
		pq.Array(ticketIDs), itemStatuses(models.LiveItemStatuses))
	return items, err
}

// LockItemsForPurchase locks the listings first, then their items in ticket order.
// Listing-level transitions lock the listing row before touching its items, so
// both paths acquire rows in the same order.
func (t *pgTx) LockItemsForPurchase(ctx context.Context, listingIDs, ticketIDs []int64) ([]models.LockedItem, error) {
	items := []models.LockedItem{}
	if len(ticketIDs) == 0 {
		return items, nil
	}

	var locked []int64
	if err := t.tx.SelectContext(ctx, &locked,
		"SELECT id FROM listings WHERE id = ANY($1) ORDER BY id FOR UPDATE",
		pq.Array(listingIDs)); err != nil {
		return nil, fmt.Errorf("failed to lock listings: %w", err)
	}

	query := `
		SELECT li.id, li.listing_id, li.ticket_id, li.price, li.status, li.created_at, li.updated_at,
		       l.seller_id, l.state AS listing_state, l.expires_at AS listing_expires_at
		FROM listing_items li
		JOIN listings l ON l.id = li.listing_id
		WHERE li.listing_id = ANY($1) AND li.ticket_id = ANY($2)
		ORDER BY li.ticket_id, li.listing_id
		FOR UPDATE OF li`

	if err := t.tx.SelectContext(ctx, &items, query, pq.Array(listingIDs), pq.Array(ticketIDs)); err != nil {
		return nil, fmt.Errorf("failed to lock listing items: %w", err)
	}
	return items, nil
}
