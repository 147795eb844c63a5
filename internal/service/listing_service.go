package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/broker"
	"ticket-resale/internal/models"
	"ticket-resale/internal/risk"
	"ticket-resale/internal/store"
	"ticket-resale/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ListingService runs listing intake and the approval workflow
type ListingService struct {
	store          store.Transactor
	risk           *risk.Engine
	eventPublisher *broker.EventPublisher
	limits         Limits
	logger         *zap.Logger
	now            func() time.Time
}

// NewListingService creates a new listing service
func NewListingService(st store.Transactor, engine *risk.Engine, eventPublisher *broker.EventPublisher, limits Limits) *ListingService {
	if engine == nil {
		engine = risk.DefaultEngine()
	}
	return &ListingService{
		store:          st,
		risk:           engine,
		eventPublisher: eventPublisher,
		limits:         limits,
		logger:         util.Component("listing-service"),
		now:            time.Now,
	}
}

// CreateListingRequest is a seller's batch of tickets with one price each
type CreateListingRequest struct {
	SellerID  int64
	TicketIDs []int64
	Prices    []int64
	ExpiresAt time.Time
}

// CreateListingResponse is the intake outcome
type CreateListingResponse struct {
	ListingID      int64                 `json:"listingId"`
	RequiresReview bool                  `json:"requiresReview"`
	RiskFlags      []risk.Flag           `json:"riskFlags"`
	ApprovalStatus models.ApprovalStatus `json:"approvalStatus"`
	State          models.ListingState   `json:"state"`
}

// ListingView is a listing with its items, flags and derived statuses
type ListingView struct {
	models.Listing
	ApprovalStatus  models.ApprovalStatus  `json:"approvalStatus"`
	LifecycleStatus models.LifecycleStatus `json:"lifecycleStatus"`
	Purchasable     bool                   `json:"purchasable"`
	Items           []models.ListingItem   `json:"items"`
	RiskFlags       []models.RiskFlag      `json:"riskFlags"`
}

func (s *ListingService) validateCreate(req *CreateListingRequest, now time.Time) error {
	if len(req.TicketIDs) == 0 {
		return apperr.Validation("EMPTY_LISTING", "at least one ticket is required")
	}
	if len(req.TicketIDs) != len(req.Prices) {
		return apperr.Validation("PRICE_COUNT_MISMATCH", "got %d tickets and %d prices", len(req.TicketIDs), len(req.Prices))
	}
	if s.limits.MaxItemsPerListing > 0 && len(req.TicketIDs) > s.limits.MaxItemsPerListing {
		return apperr.Validation("TOO_MANY_ITEMS", "a listing holds at most %d tickets", s.limits.MaxItemsPerListing)
	}
	for i, id := range req.TicketIDs {
		if id <= 0 {
			return apperr.Validation("INVALID_TICKET", "ticket id %d is invalid", id)
		}
		if req.Prices[i] <= 0 {
			return apperr.Validation("INVALID_PRICE", "price for ticket %d must be a positive integer", id)
		}
	}
	if hasDuplicates(req.TicketIDs) {
		return apperr.Validation("DUPLICATE_TICKET", "a ticket may appear only once per listing")
	}
	if !req.ExpiresAt.After(now) {
		return apperr.Validation("INVALID_EXPIRY", "expiresAt must be in the future")
	}
	return nil
}

// CreateListing validates ownership and exclusivity, scores the batch and
// persists the listing in one transaction
func (s *ListingService) CreateListing(ctx context.Context, req *CreateListingRequest) (resp *CreateListingResponse, err error) {
	ctx, span := util.StartSpan(ctx, "ListingService.CreateListing",
		attribute.Int64("seller_id", req.SellerID),
		attribute.Int("items", len(req.TicketIDs)))
	defer func() { util.EndSpan(span, err) }()

	now := s.now()
	if err := s.validateCreate(req, now); err != nil {
		s.intakeFailed(err)
		return nil, err
	}

	var (
		listing *models.Listing
		flags   []risk.Flag
		stored  []models.RiskFlag
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		tickets, err := tx.LockTickets(ctx, req.TicketIDs)
		if err != nil {
			return err
		}
		byID := make(map[int64]models.Ticket, len(tickets))
		for _, t := range tickets {
			byID[t.ID] = t
		}

		items := make([]risk.Item, 0, len(req.TicketIDs))
		for i, id := range req.TicketIDs {
			t, ok := byID[id]
			if !ok {
				return apperr.NotFound("TICKET_NOT_FOUND", "ticket %d not found", id)
			}
			if !t.OwnedBy(req.SellerID) {
				return apperr.Authorization("NOT_TICKET_OWNER", "ticket %d is not owned by the seller", id)
			}
			if t.Status != models.TicketValid {
				return apperr.Conflict("TICKET_NOT_VALID", "ticket %d is %s", id, t.Status)
			}
			items = append(items, risk.Item{TicketID: id, Price: req.Prices[i], FaceValue: t.FaceValue})
		}

		live, err := tx.LiveItemsForTickets(ctx, req.TicketIDs)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			return apperr.Conflict("TICKET_ALREADY_LISTED", "ticket %d already has a live listing", live[0].TicketID)
		}

		standing, err := tx.SellerStanding(ctx, req.SellerID)
		if err != nil {
			return err
		}
		flags = s.risk.Evaluate(risk.Snapshot{
			Seller: risk.Seller{
				ID:                    req.SellerID,
				Blacklisted:           standing.Blacklisted,
				KYCLevel:              standing.KYCLevel,
				PriorApprovedListings: standing.PriorApprovedListings,
			},
			Items: items,
		})

		listing = &models.Listing{
			SellerID:   req.SellerID,
			State:      models.ListingActive,
			ApprovedAt: &now,
			ExpiresAt:  req.ExpiresAt,
			CreatedAt:  now,
		}
		itemStatus := models.ItemActive
		if len(flags) > 0 {
			listing.State = models.ListingPendingReview
			listing.ApprovedAt = nil
			itemStatus = models.ItemPending
		}
		if err := tx.InsertListing(ctx, listing); err != nil {
			return err
		}

		if len(flags) > 0 {
			stored = make([]models.RiskFlag, 0, len(flags))
			for _, f := range flags {
				stored = append(stored, models.RiskFlag{ListingID: listing.ID, Kind: f.Kind, Reason: f.Reason, CreatedAt: now})
			}
			if err := tx.InsertRiskFlags(ctx, stored); err != nil {
				return err
			}
		}

		listingItems := make([]models.ListingItem, 0, len(req.TicketIDs))
		for i, id := range req.TicketIDs {
			listingItems = append(listingItems, models.ListingItem{
				ListingID: listing.ID,
				TicketID:  id,
				Price:     req.Prices[i],
				Status:    itemStatus,
				CreatedAt: now,
			})
		}
		if err := tx.InsertListingItems(ctx, listingItems); err != nil {
			if errors.Is(err, store.ErrTicketAlreadyListed) {
				return apperr.Conflict("TICKET_ALREADY_LISTED", "a ticket in the batch already has a live listing")
			}
			return err
		}
		return nil
	})
	if err != nil {
		err = internal(err, "create listing")
		s.intakeFailed(err)
		return nil, err
	}

	util.ListingsCreatedTotal.WithLabelValues(string(listing.ApprovalStatus())).Inc()
	for _, f := range flags {
		util.RiskFlagsTotal.WithLabelValues(string(f.Kind)).Inc()
	}
	s.logger.Info("Listing created",
		zap.Int64("listing_id", listing.ID),
		zap.Int64("seller_id", listing.SellerID),
		zap.String("state", string(listing.State)),
		zap.Int("risk_flags", len(flags)))

	s.eventPublisher.PublishListingCreated(ctx, listing, req.TicketIDs, stored)

	return &CreateListingResponse{
		ListingID:      listing.ID,
		RequiresReview: len(flags) > 0,
		RiskFlags:      flags,
		ApprovalStatus: listing.ApprovalStatus(),
		State:          listing.State,
	}, nil
}

func (s *ListingService) intakeFailed(err error) {
	code, _ := apperr.Public(err)
	util.ListingsRejectedAtIntakeTotal.WithLabelValues(code).Inc()
	if apperr.KindOf(err) == apperr.KindInternal {
		s.logger.Error("Listing intake failed", zap.Error(err))
	}
}

// transition locks the listing, lets apply validate and mutate it, persists the
// new state and moves the items matched by from to itemStatus.
func (s *ListingService) transition(
	ctx context.Context,
	listingID int64,
	from []models.ItemStatus,
	itemStatus models.ItemStatus,
	apply func(l *models.Listing, now time.Time) error,
) (*models.Listing, error) {
	now := s.now()
	var listing *models.Listing
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		l, err := tx.GetListing(ctx, listingID, true)
		if err != nil {
			return asAppError(err, "LISTING_NOT_FOUND", "listing", listingID)
		}
		prev := l.State
		if err := apply(l, now); err != nil {
			return err
		}
		if !prev.CanTransition(l.State) {
			return apperr.Conflict("INVALID_LISTING_TRANSITION", "listing %d cannot move from %s to %s", listingID, prev, l.State)
		}
		l.UpdatedAt = now
		if err := tx.UpdateListingState(ctx, l); err != nil {
			return err
		}
		if _, err := tx.UpdateItemStatusByListing(ctx, listingID, from, itemStatus, now); err != nil {
			return err
		}
		listing = l
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "LISTING_NOT_FOUND", "listing", listingID)
	}
	util.ListingTransitionsTotal.WithLabelValues(string(listing.State)).Inc()
	return listing, nil
}

// Approve moves a listing out of review so its items become purchasable
func (s *ListingService) Approve(ctx context.Context, operatorID, listingID int64) (listing *models.Listing, err error) {
	ctx, span := util.StartSpan(ctx, "ListingService.Approve", attribute.Int64("listing_id", listingID))
	defer func() { util.EndSpan(span, err) }()

	listing, err = s.transition(ctx, listingID, []models.ItemStatus{models.ItemPending}, models.ItemActive,
		func(l *models.Listing, now time.Time) error {
			if l.State != models.ListingPendingReview {
				return apperr.Conflict("LISTING_NOT_PENDING", "listing %d is %s, not pending review", l.ID, l.State)
			}
			if !now.Before(l.ExpiresAt) {
				return apperr.Conflict("LISTING_EXPIRED", "listing %d has expired", l.ID)
			}
			l.State = models.ListingActive
			l.StateReason = ""
			l.ApprovedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Listing approved", zap.Int64("listing_id", listingID), zap.Int64("operator_id", operatorID))
	s.eventPublisher.PublishListingStateChanged(ctx, listing, operatorID)
	return listing, nil
}

// Reject closes a listing under review; its items are released
func (s *ListingService) Reject(ctx context.Context, operatorID, listingID int64, reason string) (listing *models.Listing, err error) {
	ctx, span := util.StartSpan(ctx, "ListingService.Reject", attribute.Int64("listing_id", listingID))
	defer func() { util.EndSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("REASON_REQUIRED", "a rejection reason is required")
	}

	listing, err = s.transition(ctx, listingID, []models.ItemStatus{models.ItemPending}, models.ItemRejected,
		func(l *models.Listing, _ time.Time) error {
			if l.State != models.ListingPendingReview {
				return apperr.Conflict("LISTING_NOT_PENDING", "listing %d is %s, not pending review", l.ID, l.State)
			}
			l.State = models.ListingRejected
			l.StateReason = reason
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Listing rejected",
		zap.Int64("listing_id", listingID),
		zap.Int64("operator_id", operatorID),
		zap.String("reason", reason))
	s.eventPublisher.PublishListingStateChanged(ctx, listing, operatorID)
	return listing, nil
}

func (s *ListingService) cancel(ctx context.Context, actorID, listingID int64, reason string, owner func(l *models.Listing) error) (*models.Listing, error) {
	listing, err := s.transition(ctx, listingID, []models.ItemStatus{models.ItemPending, models.ItemActive}, models.ItemCancelled,
		func(l *models.Listing, _ time.Time) error {
			if owner != nil {
				if err := owner(l); err != nil {
					return err
				}
			}
			if !l.State.CanTransition(models.ListingCancelled) {
				return apperr.Conflict("LISTING_NOT_CANCELLABLE", "listing %d is %s", l.ID, l.State)
			}
			l.State = models.ListingCancelled
			l.StateReason = reason
			return nil
		})
	if err != nil {
		return nil, err
	}
	s.eventPublisher.PublishListingStateChanged(ctx, listing, actorID)
	return listing, nil
}

// TakeDown cancels a listing that has not sold out, regardless of review state
func (s *ListingService) TakeDown(ctx context.Context, operatorID, listingID int64, reason string) (listing *models.Listing, err error) {
	ctx, span := util.StartSpan(ctx, "ListingService.TakeDown", attribute.Int64("listing_id", listingID))
	defer func() { util.EndSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("REASON_REQUIRED", "a take-down reason is required")
	}

	listing, err = s.cancel(ctx, operatorID, listingID, reason, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Listing taken down",
		zap.Int64("listing_id", listingID),
		zap.Int64("operator_id", operatorID),
		zap.String("reason", reason))
	return listing, nil
}

// CancelBySeller withdraws the seller's own listing
func (s *ListingService) CancelBySeller(ctx context.Context, sellerID, listingID int64) (listing *models.Listing, err error) {
	ctx, span := util.StartSpan(ctx, "ListingService.CancelBySeller", attribute.Int64("listing_id", listingID))
	defer func() { util.EndSpan(span, err) }()

	listing, err = s.cancel(ctx, sellerID, listingID, "seller_cancelled", func(l *models.Listing) error {
		if l.SellerID != sellerID {
			return apperr.Authorization("NOT_LISTING_OWNER", "listing %d belongs to another seller", l.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Listing cancelled by seller", zap.Int64("listing_id", listingID), zap.Int64("seller_id", sellerID))
	return listing, nil
}

// ExpireListings moves open listings past their expiry to EXPIRED and returns how many moved
func (s *ListingService) ExpireListings(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.ExpireListings")
	defer span.End()

	var ids []int64
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ExpiredListingIDs(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, internal(err, "find expired listings")
	}

	expired := 0
	for _, id := range ids {
		_, err := s.transition(ctx, id, []models.ItemStatus{models.ItemPending, models.ItemActive}, models.ItemExpired,
			func(l *models.Listing, now time.Time) error {
				if now.Before(l.ExpiresAt) || !l.State.CanTransition(models.ListingExpired) {
					return errSkip
				}
				l.State = models.ListingExpired
				l.StateReason = "listing_expired"
				return nil
			})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info("Listings expired", zap.Int("count", expired))
	}
	return expired, nil
}

// errSkip aborts a transition whose precondition changed since it was selected.
var errSkip = apperr.Conflict("SKIPPED", "precondition no longer holds")

func (s *ListingService) view(ctx context.Context, tx store.Tx, l models.Listing, now time.Time) (ListingView, error) {
	items, err := tx.GetListingItems(ctx, l.ID)
	if err != nil {
		return ListingView{}, err
	}
	flags, err := tx.GetRiskFlags(ctx, l.ID)
	if err != nil {
		return ListingView{}, err
	}
	return ListingView{
		Listing:         l,
		ApprovalStatus:  l.ApprovalStatus(),
		LifecycleStatus: l.LifecycleStatus(),
		Purchasable:     l.Purchasable(now),
		Items:           items,
		RiskFlags:       flags,
	}, nil
}

func (s *ListingService) views(ctx context.Context, load func(tx store.Tx) ([]models.Listing, error)) ([]ListingView, error) {
	now := s.now()
	out := []ListingView{}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		listings, err := load(tx)
		if err != nil {
			return err
		}
		for _, l := range listings {
			v, err := s.view(ctx, tx, l, now)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, internal(err, "load listings")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListBySeller returns every listing of a seller
func (s *ListingService) ListBySeller(ctx context.Context, sellerID int64) ([]ListingView, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.ListBySeller")
	defer span.End()

	return s.views(ctx, func(tx store.Tx) ([]models.Listing, error) {
		return tx.ListListingsBySeller(ctx, sellerID)
	})
}

// ListPendingReview returns the operator review queue
func (s *ListingService) ListPendingReview(ctx context.Context) ([]ListingView, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.ListPendingReview")
	defer span.End()

	return s.views(ctx, func(tx store.Tx) ([]models.Listing, error) {
		return tx.ListListingsByState(ctx, models.ListingPendingReview)
	})
}

// GetListing returns one listing with its items and flags
func (s *ListingService) GetListing(ctx context.Context, listingID int64) (*ListingView, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.GetListing")
	defer span.End()

	var v ListingView
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		l, err := tx.GetListing(ctx, listingID, false)
		if err != nil {
			return err
		}
		v, err = s.view(ctx, tx, *l, s.now())
		return err
	})
	if err != nil {
		return nil, asAppError(err, "LISTING_NOT_FOUND", "listing", listingID)
	}
	return &v, nil
}
