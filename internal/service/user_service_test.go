package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlacklistCache struct {
	vals map[int64]bool
	err  error
}

func (m *memBlacklistCache) CacheBlacklistStatus(_ context.Context, userID int64, blacklisted bool, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.vals[userID] = blacklisted
	return nil
}

func (m *memBlacklistCache) BlacklistStatus(_ context.Context, userID int64) (bool, bool, error) {
	if m.err != nil {
		return false, false, m.err
	}
	v, ok := m.vals[userID]
	return v, ok, nil
}

func TestBlacklistIsIdempotent(t *testing.T) {
	f := newFixture(t)
	cache := &memBlacklistCache{vals: map[int64]bool{}}
	f.users.cache = cache

	_, _, err := f.users.Blacklist(f.ctx(), operator, 42, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, created, err := f.users.Blacklist(f.ctx(), operator, 42, "chargebacks")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, cache.vals[42])

	_, created, err = f.users.Blacklist(f.ctx(), operator, 42, "again")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, f.sink.Count(models.EventTypeUserBlacklisted))
}

func TestIsBlacklistedUsesCacheThenStore(t *testing.T) {
	f := newFixture(t)
	cache := &memBlacklistCache{vals: map[int64]bool{}}
	f.users.cache = cache

	// A cached answer wins even without a store row.
	cache.vals[5] = true
	blacklisted, err := f.users.IsBlacklisted(f.ctx(), 5)
	require.NoError(t, err)
	assert.True(t, blacklisted)

	// A miss falls back to the store and fills the cache.
	blacklisted, err = f.users.IsBlacklisted(f.ctx(), 6)
	require.NoError(t, err)
	assert.False(t, blacklisted)
	cached, ok := cache.vals[6]
	assert.True(t, ok)
	assert.False(t, cached)

	// A broken cache degrades to the store.
	f.users.cache = nil
	_, _, err = f.users.Blacklist(f.ctx(), operator, 7, "fraud")
	require.NoError(t, err)
	f.users.cache = &memBlacklistCache{err: errors.New("redis down")}
	blacklisted, err = f.users.IsBlacklisted(f.ctx(), 7)
	require.NoError(t, err)
	assert.True(t, blacklisted)
}

func TestBlacklistedSellerIsFlagged(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	_, _, err := f.users.Blacklist(f.ctx(), operator, seller, "fraud")
	require.NoError(t, err)

	tk := f.ticket(seller, 1000)
	resp, err := f.listings.CreateListing(f.ctx(), &CreateListingRequest{
		SellerID: seller, TicketIDs: []int64{tk}, Prices: []int64{1000}, ExpiresAt: f.expiry(),
	})
	require.NoError(t, err)
	require.Len(t, resp.RiskFlags, 1)
	assert.Equal(t, models.FlagBlacklistedSeller, resp.RiskFlags[0].Kind)
	assert.True(t, resp.RequiresReview)
}

func TestUpdateKYC(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, apperr.KindValidation, apperr.KindOf(f.users.UpdateKYC(f.ctx(), 9, 3)))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(f.users.UpdateKYC(f.ctx(), 0, 1)))

	require.NoError(t, f.users.HandleKYCLevelUpdated(f.ctx(), &models.KYCLevelUpdatedEvent{UserID: 9, KYCLevel: 1}))
	tk := f.ticket(9, 1000)
	resp, err := f.listings.CreateListing(f.ctx(), &CreateListingRequest{
		SellerID: 9, TicketIDs: []int64{tk}, Prices: []int64{1000}, ExpiresAt: f.expiry(),
	})
	require.NoError(t, err)
	require.Len(t, resp.RiskFlags, 1)
	assert.Equal(t, models.FlagNewSeller, resp.RiskFlags[0].Kind)
}
