package api

import (
	"net/http"

	"ticket-resale/internal/models"
	"ticket-resale/internal/service"

	"github.com/gin-gonic/gin"
)

type createCaseRequest struct {
	OrderID     int64           `json:"orderId"`
	Type        models.CaseType `json:"type"`
	Description string          `json:"description"`
}

type caseNoteRequest struct {
	NoteType models.NoteType `json:"noteType"`
	Content  string          `json:"content"`
	Internal bool            `json:"internal"`
}

type refundRequest struct {
	Amount int64             `json:"amount"`
	Reason string            `json:"reason"`
	Type   models.RefundType `json:"type"`
}

type closeCaseRequest struct {
	Resolution string `json:"resolution"`
}

type blacklistRequest struct {
	UserID int64  `json:"userId"`
	Reason string `json:"reason"`
}

// createCase opens a dispute. Operators may open one on any order.
func (h *Handler) createCase(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	p := principal(c)
	created, err := h.cases.CreateCase(c.Request.Context(), &service.CreateCaseRequest{
		OrderID:     req.OrderID,
		ReporterID:  p.UserID,
		Type:        req.Type,
		Description: req.Description,
		Operator:    p.HasRole(h.operatorRole),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) myCases(c *gin.Context) {
	cases, err := h.cases.ListMyCases(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

func (h *Handler) listCases(c *gin.Context) {
	cases, err := h.cases.ListCases(c.Request.Context(), models.CaseStatus(c.Query("status")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

func (h *Handler) getCase(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.cases.GetCase(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) startCase(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	updated, err := h.cases.StartProcessing(c.Request.Context(), principal(c).UserID, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) addCaseNote(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req caseNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	note, err := h.cases.AddNote(c.Request.Context(), principal(c).UserID, id, req.NoteType, req.Content, req.Internal)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *Handler) refundCase(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	resp, err := h.cases.ProcessRefund(c.Request.Context(), &service.RefundRequest{
		OperatorID: principal(c).UserID,
		CaseID:     id,
		Amount:     req.Amount,
		Reason:     req.Reason,
		Type:       req.Type,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) closeCase(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req closeCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	closed, err := h.cases.Close(c.Request.Context(), principal(c).UserID, id, req.Resolution)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, closed)
}

func (h *Handler) blacklistUser(c *gin.Context) {
	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	entry, created, err := h.users.Blacklist(c.Request.Context(), principal(c).UserID, req.UserID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"entry": entry, "created": created})
}
