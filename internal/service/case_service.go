package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/broker"
	"ticket-resale/internal/models"
	"ticket-resale/internal/store"
	"ticket-resale/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CaseService handles disputes on settled orders and refunds
type CaseService struct {
	store          store.Transactor
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewCaseService creates a new case service
func NewCaseService(st store.Transactor, eventPublisher *broker.EventPublisher) *CaseService {
	return &CaseService{
		store:          st,
		eventPublisher: eventPublisher,
		logger:         util.Component("case-service"),
		now:            time.Now,
	}
}

type CreateCaseRequest struct {
	OrderID     int64
	ReporterID  int64
	Type        models.CaseType
	Description string
	// Operator lets the reporter open a case on someone else's order.
	Operator bool
}

type RefundRequest struct {
	OperatorID int64
	CaseID     int64
	Amount     int64
	Reason     string
	Type       models.RefundType
}

type RefundResponse struct {
	Refund    models.PaymentRecord `json:"refund"`
	Refunded  int64                `json:"refundedTotal"`
	Remaining int64                `json:"remaining"`
}

// CaseView is a case with its notes and the refunds issued on its order
type CaseView struct {
	models.Case
	Notes   []models.CaseNote      `json:"notes"`
	Refunds []models.PaymentRecord `json:"refunds"`
}

// CreateCase opens a dispute on a paid or completed order
func (s *CaseService) CreateCase(ctx context.Context, req *CreateCaseRequest) (c *models.Case, err error) {
	ctx, span := util.StartSpan(ctx, "CaseService.CreateCase", attribute.Int64("order_id", req.OrderID))
	defer func() { util.EndSpan(span, err) }()

	if !req.Type.Valid() {
		return nil, apperr.Validation("INVALID_CASE_TYPE", "case type %q is not supported", req.Type)
	}
	if req.OrderID <= 0 {
		return nil, apperr.Validation("INVALID_ORDER", "orderId is required")
	}

	now := s.now()
	c = &models.Case{
		OrderID:     req.OrderID,
		ReporterID:  req.ReporterID,
		Type:        req.Type,
		Status:      models.CaseOpen,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   now,
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, req.OrderID, false)
		if err != nil {
			return asAppError(err, "ORDER_NOT_FOUND", "order", req.OrderID)
		}
		if !req.Operator && o.BuyerID != req.ReporterID {
			return apperr.Authorization("NOT_ORDER_OWNER", "order %d belongs to another buyer", req.OrderID)
		}
		if o.Status != models.OrderPaid && o.Status != models.OrderCompleted {
			return apperr.Conflict("ORDER_NOT_SETTLED", "order %d is %s", req.OrderID, o.Status)
		}
		return tx.InsertCase(ctx, c)
	})
	if err != nil {
		return nil, internal(err, "create case")
	}

	util.CasesOpenedTotal.WithLabelValues(string(c.Type)).Inc()
	s.logger.Info("Case opened",
		zap.Int64("case_id", c.ID),
		zap.Int64("order_id", c.OrderID),
		zap.String("type", string(c.Type)))
	return c, nil
}

// mutate locks an open case and applies fn to it inside one transaction.
func (s *CaseService) mutate(ctx context.Context, caseID int64, fn func(tx store.Tx, c *models.Case, now time.Time) error) (*models.Case, error) {
	now := s.now()
	var out *models.Case
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCase(ctx, caseID, true)
		if err != nil {
			return asAppError(err, "CASE_NOT_FOUND", "case", caseID)
		}
		if c.Status == models.CaseClosed {
			return apperr.Conflict("CASE_CLOSED", "case %d is closed", caseID)
		}
		if err := fn(tx, c, now); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "CASE_NOT_FOUND", "case", caseID)
	}
	return out, nil
}

// StartProcessing moves an open case to IN_PROGRESS
func (s *CaseService) StartProcessing(ctx context.Context, operatorID, caseID int64) (*models.Case, error) {
	ctx, span := util.StartSpan(ctx, "CaseService.StartProcessing", attribute.Int64("case_id", caseID))
	defer span.End()

	return s.mutate(ctx, caseID, func(tx store.Tx, c *models.Case, now time.Time) error {
		if c.Status != models.CaseOpen {
			return apperr.Conflict("CASE_NOT_OPEN", "case %d is %s", caseID, c.Status)
		}
		c.Status = models.CaseInProgress
		c.UpdatedAt = now
		if err := tx.UpdateCase(ctx, c); err != nil {
			return err
		}
		return tx.InsertCaseNote(ctx, &models.CaseNote{
			CaseID:     caseID,
			OperatorID: operatorID,
			NoteType:   models.NoteStatusChange,
			Content:    fmt.Sprintf("status changed to %s", models.CaseInProgress),
			Internal:   true,
			CreatedAt:  now,
		})
	})
}

// AddNote appends a note to a case that is not closed
func (s *CaseService) AddNote(ctx context.Context, operatorID, caseID int64, noteType models.NoteType, content string, internalOnly bool) (*models.CaseNote, error) {
	ctx, span := util.StartSpan(ctx, "CaseService.AddNote", attribute.Int64("case_id", caseID))
	defer span.End()

	if noteType == "" {
		noteType = models.NoteComment
	}
	if !noteType.Valid() {
		return nil, apperr.Validation("INVALID_NOTE_TYPE", "note type %q is not supported", noteType)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("CONTENT_REQUIRED", "note content is required")
	}

	var note *models.CaseNote
	_, err := s.mutate(ctx, caseID, func(tx store.Tx, c *models.Case, now time.Time) error {
		note = &models.CaseNote{
			CaseID:     caseID,
			OperatorID: operatorID,
			NoteType:   noteType,
			Content:    content,
			Internal:   internalOnly,
			CreatedAt:  now,
		}
		return tx.InsertCaseNote(ctx, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// ProcessRefund writes a refund ledger entry against the case's order. The
// original payment is never modified and refunds never exceed the order total.
func (s *CaseService) ProcessRefund(ctx context.Context, req *RefundRequest) (_ *RefundResponse, err error) {
	ctx, span := util.StartSpan(ctx, "CaseService.ProcessRefund", attribute.Int64("case_id", req.CaseID))
	defer func() { util.EndSpan(span, err) }()

	if req.Amount <= 0 {
		return nil, apperr.Validation("INVALID_AMOUNT", "refund amount must be a positive integer")
	}
	if req.Type != models.RefundFull && req.Type != models.RefundPartial {
		return nil, apperr.Validation("INVALID_REFUND_TYPE", "refund type %q is not supported", req.Type)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperr.Validation("REASON_REQUIRED", "a refund reason is required")
	}

	var resp RefundResponse
	_, err = s.mutate(ctx, req.CaseID, func(tx store.Tx, c *models.Case, now time.Time) error {
		o, err := tx.GetOrder(ctx, c.OrderID, true)
		if err != nil {
			return err
		}
		if req.Amount > o.TotalAmount {
			return apperr.Conflict("REFUND_EXCEEDS_TOTAL", "refund %d exceeds order total %d", req.Amount, o.TotalAmount)
		}

		payments, err := tx.ListPayments(ctx, o.ID)
		if err != nil {
			return err
		}
		var refunded int64
		for _, p := range payments {
			if p.Method == models.MethodRefund && p.Status == models.PaymentSuccess {
				refunded += p.Amount
			}
		}
		remaining := o.TotalAmount - refunded
		if req.Amount > remaining {
			return apperr.Conflict("OVER_REFUND", "only %d of order %d is left to refund", remaining, o.ID)
		}
		if req.Type == models.RefundFull && req.Amount != remaining {
			return apperr.Conflict("FULL_REFUND_MISMATCH", "a full refund must equal the remaining %d", remaining)
		}

		resp.Refund = models.PaymentRecord{
			OrderID:   o.ID,
			Method:    models.MethodRefund,
			Amount:    req.Amount,
			Status:    models.PaymentSuccess,
			PaidAt:    &now,
			CreatedAt: now,
		}
		if err := tx.InsertPayment(ctx, &resp.Refund); err != nil {
			return err
		}
		resp.Refunded = refunded + req.Amount
		resp.Remaining = remaining - req.Amount

		return tx.InsertCaseNote(ctx, &models.CaseNote{
			CaseID:     c.ID,
			OperatorID: req.OperatorID,
			NoteType:   models.NoteRefund,
			Content:    fmt.Sprintf("%s refund of %d: %s", req.Type, req.Amount, reason),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	util.RefundsIssuedTotal.Inc()
	util.RefundAmountTotal.Add(float64(req.Amount))
	s.logger.Info("Refund issued",
		zap.Int64("case_id", req.CaseID),
		zap.Int64("order_id", resp.Refund.OrderID),
		zap.Int64("amount", req.Amount),
		zap.String("type", string(req.Type)))

	s.eventPublisher.PublishRefundIssued(ctx, req.CaseID, &resp.Refund, reason)
	return &resp, nil
}

// Close resolves a case
func (s *CaseService) Close(ctx context.Context, operatorID, caseID int64, resolution string) (_ *models.Case, err error) {
	ctx, span := util.StartSpan(ctx, "CaseService.Close", attribute.Int64("case_id", caseID))
	defer func() { util.EndSpan(span, err) }()

	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, apperr.Validation("RESOLUTION_REQUIRED", "a resolution is required to close a case")
	}

	c, err := s.mutate(ctx, caseID, func(tx store.Tx, c *models.Case, now time.Time) error {
		c.Status = models.CaseClosed
		c.Resolution = &resolution
		c.ClosedAt = &now
		c.UpdatedAt = now
		if err := tx.UpdateCase(ctx, c); err != nil {
			return err
		}
		return tx.InsertCaseNote(ctx, &models.CaseNote{
			CaseID:     caseID,
			OperatorID: operatorID,
			NoteType:   models.NoteResolution,
			Content:    resolution,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Case closed", zap.Int64("case_id", caseID), zap.Int64("operator_id", operatorID))
	return c, nil
}

// ListCases returns cases, optionally filtered by status
func (s *CaseService) ListCases(ctx context.Context, status models.CaseStatus) ([]models.Case, error) {
	ctx, span := util.StartSpan(ctx, "CaseService.ListCases")
	defer span.End()

	switch status {
	case "", models.CaseOpen, models.CaseInProgress, models.CaseClosed:
	default:
		return nil, apperr.Validation("INVALID_CASE_STATUS", "case status %q is not supported", status)
	}

	var cases []models.Case
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		cases, err = tx.ListCases(ctx, status)
		return err
	})
	if err != nil {
		return nil, internal(err, "list cases")
	}
	return cases, nil
}

// ListMyCases returns the cases a user reported
func (s *CaseService) ListMyCases(ctx context.Context, reporterID int64) ([]models.Case, error) {
	ctx, span := util.StartSpan(ctx, "CaseService.ListMyCases")
	defer span.End()

	var cases []models.Case
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		cases, err = tx.ListCasesByReporter(ctx, reporterID)
		return err
	})
	if err != nil {
		return nil, internal(err, "list cases")
	}
	return cases, nil
}

// GetCase returns a case with its notes and refunds
func (s *CaseService) GetCase(ctx context.Context, caseID int64) (*CaseView, error) {
	ctx, span := util.StartSpan(ctx, "CaseService.GetCase", attribute.Int64("case_id", caseID))
	defer span.End()

	var v CaseView
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCase(ctx, caseID, false)
		if err != nil {
			return err
		}
		notes, err := tx.ListCaseNotes(ctx, caseID)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, c.OrderID)
		if err != nil {
			return err
		}
		refunds := []models.PaymentRecord{}
		for _, p := range payments {
			if p.Method == models.MethodRefund {
				refunds = append(refunds, p)
			}
		}
		v = CaseView{Case: *c, Notes: notes, Refunds: refunds}
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "CASE_NOT_FOUND", "case", caseID)
	}
	return &v, nil
}
