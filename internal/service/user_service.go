package service

import (
	"context"
	"strings"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/broker"
	"ticket-resale/internal/models"
	"ticket-resale/internal/store"
	"ticket-resale/internal/util"

	"go.uber.org/zap"
)

// BlacklistCache fronts the blacklist table for per-request checks.
// *redisclient.Client implements it.
type BlacklistCache interface {
	CacheBlacklistStatus(ctx context.Context, userID int64, blacklisted bool, ttl time.Duration) error
	BlacklistStatus(ctx context.Context, userID int64) (blacklisted, found bool, err error)
}

const maxKYCLevel = 2

// UserService owns the blacklist and the local KYC projection
type UserService struct {
	store          store.Transactor
	cache          BlacklistCache
	eventPublisher *broker.EventPublisher
	cacheTTL       time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewUserService creates a new user service. cache may be nil.
func NewUserService(st store.Transactor, cache BlacklistCache, eventPublisher *broker.EventPublisher, cacheTTL time.Duration) *UserService {
	return &UserService{
		store:          st,
		cache:          cache,
		eventPublisher: eventPublisher,
		cacheTTL:       cacheTTL,
		logger:         util.Component("user-service"),
		now:            time.Now,
	}
}

// Blacklist bars a user. Repeating it for a blacklisted user is a no-op that
// returns created=false.
func (s *UserService) Blacklist(ctx context.Context, operatorID, userID int64, reason string) (entry *models.BlacklistEntry, created bool, err error) {
	ctx, span := util.StartSpan(ctx, "UserService.Blacklist")
	defer func() { util.EndSpan(span, err) }()

	if userID <= 0 {
		return nil, false, apperr.Validation("INVALID_USER", "userId is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, false, apperr.Validation("REASON_REQUIRED", "a blacklist reason is required")
	}

	entry = &models.BlacklistEntry{
		UserID:    userID,
		Reason:    reason,
		CreatedBy: operatorID,
		CreatedAt: s.now(),
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.InsertBlacklistEntry(ctx, entry)
		return err
	})
	if err != nil {
		return nil, false, internal(err, "blacklist user")
	}

	s.cacheStatus(ctx, userID, true)
	if created {
		s.logger.Info("User blacklisted",
			zap.Int64("user_id", userID),
			zap.Int64("operator_id", operatorID))
		s.eventPublisher.PublishUserBlacklisted(ctx, entry)
	}
	return entry, created, nil
}

// IsBlacklisted consults the cache first and falls back to the store
func (s *UserService) IsBlacklisted(ctx context.Context, userID int64) (bool, error) {
	if s.cache != nil {
		blacklisted, found, err := s.cache.BlacklistStatus(ctx, userID)
		if err != nil {
			s.logger.Warn("Blacklist cache unavailable", zap.Error(err))
		} else if found {
			return blacklisted, nil
		}
	}

	var blacklisted bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		blacklisted, err = tx.IsBlacklisted(ctx, userID)
		return err
	})
	if err != nil {
		return false, internal(err, "check blacklist")
	}
	s.cacheStatus(ctx, userID, blacklisted)
	return blacklisted, nil
}

func (s *UserService) cacheStatus(ctx context.Context, userID int64, blacklisted bool) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheBlacklistStatus(ctx, userID, blacklisted, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache blacklist status", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// UpdateKYC records the identity service's KYC level for a user
func (s *UserService) UpdateKYC(ctx context.Context, userID int64, level int) error {
	if userID <= 0 {
		return apperr.Validation("INVALID_USER", "userId is required")
	}
	if level < 0 || level > maxKYCLevel {
		return apperr.Validation("INVALID_KYC_LEVEL", "kyc level %d is out of range", level)
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertUserProfile(ctx, &models.UserProfile{UserID: userID, KYCLevel: level, UpdatedAt: s.now()})
	})
	if err != nil {
		return internal(err, "update kyc level")
	}
	s.logger.Debug("KYC level updated", zap.Int64("user_id", userID), zap.Int("kyc_level", level))
	return nil
}

// HandleKYCLevelUpdated applies a KYC_LEVEL_UPDATED event
func (s *UserService) HandleKYCLevelUpdated(ctx context.Context, event *models.KYCLevelUpdatedEvent) error {
	return s.UpdateKYC(ctx, event.UserID, event.KYCLevel)
}
