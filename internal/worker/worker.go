package worker

import (
	"context"
	"time"

	"ticket-resale/internal/broker"
	"ticket-resale/internal/service"
	"ticket-resale/internal/util"

	"go.uber.org/zap"
)

// OrderExpirer releases pending orders past their payment window
type OrderExpirer interface {
	ExpireStaleOrders(ctx context.Context, buyerID int64) (int, error)
}

// ListingExpirer closes listings past their expiry
type ListingExpirer interface {
	ExpireListings(ctx context.Context) (int, error)
}

// Locker keeps concurrent replicas from sweeping at the same time.
// *redisclient.Client implements it.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

const sweepLockKey = "expiry-sweep"

// ExpiryWorker periodically applies the same expiry the services apply lazily
type ExpiryWorker struct {
	orders   OrderExpirer
	listings ListingExpirer
	locker   Locker
	interval time.Duration
	logger   *zap.Logger
}

// NewExpiryWorker creates a new expiry worker. locker may be nil.
func NewExpiryWorker(orders OrderExpirer, listings ListingExpirer, locker Locker, interval time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpiryWorker{
		orders:   orders,
		listings: listings,
		locker:   locker,
		interval: interval,
		logger:   util.Component("expiry-worker"),
	}
}

// Start sweeps every interval until ctx is cancelled
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting expiry worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	ctx, span := util.StartSpan(ctx, "ExpiryWorker.RunOnce")
	defer span.End()

	if w.locker != nil {
		ok, err := w.locker.AcquireLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			w.logger.Warn("Sweep lock unavailable, sweeping anyway", zap.Error(err))
		} else if !ok {
			util.SweepRunsTotal.WithLabelValues("skipped").Inc()
			return
		} else {
			defer func() {
				if err := w.locker.ReleaseLock(ctx, sweepLockKey); err != nil {
					w.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	orders, err := w.orders.ExpireStaleOrders(ctx, 0)
	if err != nil {
		util.SweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.Error("Order expiry sweep failed", zap.Error(err))
		return
	}
	listings, err := w.listings.ExpireListings(ctx)
	if err != nil {
		util.SweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.Error("Listing expiry sweep failed", zap.Error(err))
		return
	}

	util.SweepRunsTotal.WithLabelValues("ok").Inc()
	if orders > 0 || listings > 0 {
		w.logger.Info("Expiry sweep finished",
			zap.Int("orders_expired", orders),
			zap.Int("listings_expired", listings))
	}
}

// IdentityWorker consumes identity events and keeps KYC levels current
type IdentityWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewIdentityWorker creates a new identity worker
func NewIdentityWorker(consumer *broker.Consumer, users *service.UserService) *IdentityWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnKYCLevelUpdated(users.HandleKYCLevelUpdated)

	return &IdentityWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.Component("identity-worker"),
	}
}

// Start starts the worker
func (w *IdentityWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting identity worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *IdentityWorker) Stop() error {
	w.logger.Info("Stopping identity worker")
	return w.consumer.Close()
}
