package service

import (
	"errors"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/store"
)

// Limits bounds request sizes and the payment window.
type Limits struct {
	PaymentWindow      time.Duration
	MaxItemsPerListing int
	MaxItemsPerOrder   int
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		PaymentWindow:      5 * time.Minute,
		MaxItemsPerListing: 20,
		MaxItemsPerOrder:   20,
	}
}

// Reason recorded on orders released by the payment window.
const ReasonPaymentWindowExpired = "payment_window_expired"

// Reason recorded on orders cancelled by their buyer.
const ReasonBuyerCancelled = "buyer_cancelled"

// asAppError passes *apperr.Error through and maps everything else.
func asAppError(err error, notFoundCode, what string, id int64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConcurrentUpdate) {
		return lostRace(err)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(notFoundCode, "%s %d not found", what, id)
	}
	return apperr.Internal(err, "%s %d", what, id)
}

// internal wraps an unexpected failure unless it already carries a kind.
func internal(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConcurrentUpdate) {
		return lostRace(err)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(err, "%s failed", op)
}

// lostRace reports a transaction the database aborted in favour of a concurrent one.
func lostRace(err error) error {
	e := apperr.Conflict("CONCURRENT_UPDATE", "the resource was changed by a concurrent request, retry")
	e.Err = err
	return e
}

func hasDuplicates(ids []int64) bool {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}
