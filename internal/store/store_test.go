package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"ticket-resale/internal/models"
	"ticket-resale/internal/store"
	"ticket-resale/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend is a store under test plus a way to seed catalog tickets, which the
// transactional surface never creates.
type backend struct {
	st        store.Transactor
	addTicket func(t *testing.T, owner int64) int64
}

func backends(t *testing.T) map[string]backend {
	out := map[string]backend{}

	mem := memstore.New()
	out["memory"] = backend{
		st: mem,
		addTicket: func(_ *testing.T, owner int64) int64 {
			return mem.AddTicket(models.Ticket{EventID: 1, ZoneID: 1, FaceValue: 1000, OwnerID: &owner})
		},
	}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return out
	}
	pg, err := store.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	require.NoError(t, pg.Migrate(context.Background()))
	out["postgres"] = backend{
		st: pg,
		addTicket: func(t *testing.T, owner int64) int64 {
			var id int64
			err := pg.GetDB().Get(&id, `
				INSERT INTO tickets (event_id, zone_id, face_value, owner_id)
				VALUES (1, 1, 1000, $1) RETURNING id`, owner)
			require.NoError(t, err)
			return id
		},
	}
	return out
}

func newListing(seller int64, now time.Time) *models.Listing {
	return &models.Listing{
		SellerID:  seller,
		State:     models.ListingActive,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Microsecond)
			boom := errors.New("boom")

			var listingID int64
			err := b.st.WithTx(ctx, func(tx store.Tx) error {
				l := newListing(1, now)
				if err := tx.InsertListing(ctx, l); err != nil {
					return err
				}
				listingID = l.ID
				return boom
			})
			require.ErrorIs(t, err, boom)
			require.NotZero(t, listingID)

			err = b.st.WithTx(ctx, func(tx store.Tx) error {
				_, err := tx.GetListing(ctx, listingID, false)
				return err
			})
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestTicketHeldByOneLiveItem(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Microsecond)
			ticketID := b.addTicket(t, 10)

			insert := func(status models.ItemStatus) (int64, error) {
				var listingID int64
				err := b.st.WithTx(ctx, func(tx store.Tx) error {
					l := newListing(10, now)
					if err := tx.InsertListing(ctx, l); err != nil {
						return err
					}
					listingID = l.ID
					return tx.InsertListingItems(ctx, []models.ListingItem{{
						ListingID: l.ID, TicketID: ticketID, Price: 900, Status: status, CreatedAt: now,
					}})
				})
				return listingID, err
			}

			first, err := insert(models.ItemActive)
			require.NoError(t, err)

			_, err = insert(models.ItemPending)
			assert.ErrorIs(t, err, store.ErrTicketAlreadyListed)

			// Once the first item is closed the ticket may be listed again.
			err = b.st.WithTx(ctx, func(tx store.Tx) error {
				_, err := tx.UpdateItemStatusByListing(ctx, first,
					[]models.ItemStatus{models.ItemActive}, models.ItemCancelled, now)
				return err
			})
			require.NoError(t, err)

			_, err = insert(models.ItemPending)
			assert.NoError(t, err)
		})
	}
}

func TestBlacklistInsertIsIdempotent(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			userID := time.Now().UnixNano() % 1_000_000_000

			insert := func() bool {
				var created bool
				err := b.st.WithTx(ctx, func(tx store.Tx) error {
					var err error
					created, err = tx.InsertBlacklistEntry(ctx, &models.BlacklistEntry{
						UserID: userID, Reason: "fraud", CreatedBy: 1, CreatedAt: time.Now(),
					})
					return err
				})
				require.NoError(t, err)
				return created
			}

			assert.True(t, insert())
			assert.False(t, insert())

			err := b.st.WithTx(ctx, func(tx store.Tx) error {
				blacklisted, err := tx.IsBlacklisted(ctx, userID)
				assert.True(t, blacklisted)
				return err
			})
			require.NoError(t, err)
		})
	}
}

func TestStalePendingOrders(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Microsecond)
			buyer := now.UnixNano() % 1_000_000_000

			var stale, fresh int64
			err := b.st.WithTx(ctx, func(tx store.Tx) error {
				for _, o := range []*models.Order{
					{BuyerID: buyer, Status: models.OrderPending, TotalAmount: 100, ExpiresAt: now.Add(-time.Second), CreatedAt: now},
					{BuyerID: buyer, Status: models.OrderPending, TotalAmount: 100, ExpiresAt: now.Add(time.Minute), CreatedAt: now},
				} {
					if err := tx.InsertOrder(ctx, o); err != nil {
						return err
					}
					if stale == 0 {
						stale = o.ID
					} else {
						fresh = o.ID
					}
				}
				return nil
			})
			require.NoError(t, err)

			err = b.st.WithTx(ctx, func(tx store.Tx) error {
				ids, err := tx.StalePendingOrderIDs(ctx, now, buyer)
				if err != nil {
					return err
				}
				assert.Contains(t, ids, stale)
				assert.NotContains(t, ids, fresh)
				return nil
			})
			require.NoError(t, err)
		})
	}
}
