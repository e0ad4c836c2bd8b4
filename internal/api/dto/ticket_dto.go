package dto

import (
	"time"

	"github.com/deskworks/ticket-desk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Contact     string                `json:"contact"`
}

// CreateTicketResponse carries the id of the new ticket.
type CreateTicketResponse struct {
	ID string `json:"id"`
}

// UpdateTicketRequest payload. Omitted fields are left unchanged.
type UpdateTicketRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Priority    *domain.TicketPriority `json:"priority"`
	Contact     *string                `json:"contact"`
	Status      *domain.TicketStatus   `json:"status"`
}

// TicketResponse provides full ticket info.
type TicketResponse struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Contact     string                `json:"contact"`
	Status      domain.TicketStatus   `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}
