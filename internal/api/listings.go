package api

import (
	"net/http"
	"time"

	"ticket-resale/internal/service"

	"github.com/gin-gonic/gin"
)

type createListingRequest struct {
	TicketIDs []int64   `json:"ticketIds"`
	Prices    []int64   `json:"prices"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// createListing handles listing intake for the calling seller
func (h *Handler) createListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	resp, err := h.listings.CreateListing(c.Request.Context(), &service.CreateListingRequest{
		SellerID:  principal(c).UserID,
		TicketIDs: req.TicketIDs,
		Prices:    req.Prices,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) myListings(c *gin.Context) {
	listings, err := h.listings.ListBySeller(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (h *Handler) getListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	listing, err := h.listings.GetListing(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// cancelListing lets a seller withdraw their own listing
func (h *Handler) cancelListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	listing, err := h.listings.CancelBySeller(c.Request.Context(), principal(c).UserID, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) pendingListings(c *gin.Context) {
	listings, err := h.listings.ListPendingReview(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (h *Handler) approveListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	listing, err := h.listings.Approve(c.Request.Context(), principal(c).UserID, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) rejectListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	listing, err := h.listings.Reject(c.Request.Context(), principal(c).UserID, id, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) takeDownListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	listing, err := h.listings.TakeDown(c.Request.Context(), principal(c).UserID, id, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}
