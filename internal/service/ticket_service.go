package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskworks/ticket-desk/internal/domain"
	"github.com/deskworks/ticket-desk/internal/events"
	"github.com/deskworks/ticket-desk/internal/repository"
	apperrors "github.com/deskworks/ticket-desk/pkg/util/errorutil"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Contact     string
}

// TicketUpdateInput lists the fields to change. Nil fields are kept.
type TicketUpdateInput struct {
	Title       *string
	Description *string
	Priority    *domain.TicketPriority
	Contact     *string
	Status      *domain.TicketStatus
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// CreateTicket stores a new ticket and returns its id.
func (s *TicketService) CreateTicket(ctx context.Context, input TicketCreateInput) (string, error) {
	ticketInput := domain.TicketInput{
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Priority:    input.Priority,
		Contact:     strings.TrimSpace(input.Contact),
	}
	id, err := s.tickets.Create(ctx, ticketInput)
	if err != nil {
		return "", mapRepositoryError(err, "")
	}
	priority := ticketInput.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: id,
		Payload: events.TicketCreatedPayload{
			Title:    ticketInput.Title,
			Priority: priority,
			Contact:  ticketInput.Contact,
		},
	})
	return id, nil
}

// ListTickets returns every ticket in stored order.
func (s *TicketService) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	tickets, err := s.tickets.List(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, "")
	}
	return tickets, nil
}

// GetTicket fetches one ticket.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err, id)
	}
	return ticket, nil
}

// UpdateTicket applies the non-nil fields of input to the stored ticket.
// The merge runs against the latest stored record, so concurrent updates of
// different fields are all kept.
func (s *TicketService) UpdateTicket(ctx context.Context, id string, input TicketUpdateInput) (*domain.Ticket, error) {
	var before domain.Ticket
	stored, err := s.tickets.Patch(ctx, id, func(t *domain.Ticket) {
		before = *t
		if input.Title != nil {
			t.Title = strings.TrimSpace(*input.Title)
		}
		if input.Description != nil {
			t.Description = strings.TrimSpace(*input.Description)
		}
		if input.Contact != nil {
			t.Contact = strings.TrimSpace(*input.Contact)
		}
		if input.Priority != nil {
			t.Priority = *input.Priority
		}
		if input.Status != nil {
			t.Status = *input.Status
		}
	})
	if err != nil {
		return nil, mapRepositoryError(err, id)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketUpdated,
		TicketID: id,
		Payload: events.TicketUpdatedPayload{
			OldStatus:   before.Status,
			NewStatus:   stored.Status,
			OldPriority: before.Priority,
			NewPriority: stored.Priority,
		},
	})
	return stored, nil
}

// DeleteTicket removes a ticket. Unknown ids succeed.
func (s *TicketService) DeleteTicket(ctx context.Context, id string) error {
	if err := s.tickets.Delete(ctx, id); err != nil {
		return mapRepositoryError(err, id)
	}
	s.publishEvent(ctx, events.Event{Type: events.EventTicketDeleted, TicketID: id})
	return nil
}

// ClearTickets discards every ticket.
func (s *TicketService) ClearTickets(ctx context.Context) error {
	if err := s.tickets.Clear(ctx); err != nil {
		return mapRepositoryError(err, "")
	}
	s.publishEvent(ctx, events.Event{Type: events.EventTicketsClear})
	return nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func mapRepositoryError(err error, id string) error {
	switch {
	case errors.Is(err, repository.ErrTicketNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"id": id})
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewConflict("tickets were changed concurrently, retry", nil)
	case errors.Is(err, repository.ErrPersistFailed):
		return apperrors.NewStoreUnavailable(err)
	default:
		return err
	}
}
