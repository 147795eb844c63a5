package store

import (
	"context"
	"fmt"
	"time"

	"ticket-resale/internal/models"

	"github.com/lib/pq"
)

// LockTickets locks the tickets in ascending id order (FOR UPDATE lock)
func (t *pgTx) LockTickets(ctx context.Context, ids []int64) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return []models.Ticket{}, nil
	}

	var tickets []models.Ticket
	err := t.tx.SelectContext(ctx, &tickets,
		"SELECT * FROM tickets WHERE id = ANY($1) ORDER BY id FOR UPDATE", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock tickets: %w", err)
	}
	return tickets, nil
}

// TransferTicket reassigns ownership and marks the ticket transferred
func (t *pgTx) TransferTicket(ctx context.Context, ticketID, newOwnerID int64, now time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE tickets SET owner_id = $1, status = $2, updated_at = $3 WHERE id = $4",
		newOwnerID, models.TicketTransferred, now, ticketID)
	if err != nil {
		return fmt.Errorf("failed to transfer ticket %d: %w", ticketID, err)
	}
	return expectOneRow(res, ticketID)
}
