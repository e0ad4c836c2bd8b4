package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskworks/ticket-desk/internal/domain"
	"github.com/deskworks/ticket-desk/internal/observability"
)

// ErrTicketNotFound is returned by GetByID and Update for unknown ids.
var ErrTicketNotFound = errors.New("ticket not found")

// TicketRepository encapsulates ticket persistence.
//
// Reads never fail because of stored data: a missing or corrupt collection
// reads as empty. Unless StrictWrites is set, a backend write failure is
// logged and dropped, so a nil error does not guarantee the change was
// persisted. ErrVersionConflict is always returned once retries run out.
type TicketRepository interface {
	List(ctx context.Context) ([]domain.Ticket, error)
	Create(ctx context.Context, input domain.TicketInput) (string, error)
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Update(ctx context.Context, ticket domain.Ticket) error
	Patch(ctx context.Context, id string, fn PatchFunc) (*domain.Ticket, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// PatchFunc edits a ticket in place. It runs once per attempt, each time on
// the freshly loaded record, so it must not depend on state from an earlier
// call.
type PatchFunc func(ticket *domain.Ticket)

// TicketRepositoryOptions tunes a repository. Zero values are usable.
type TicketRepositoryOptions struct {
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	StrictWrites bool
	MaxRetries   int
	Now          func() time.Time
	NewID        func() string
}

type ticketRepository struct {
	store        *CollectionStore
	logger       *zap.Logger
	metrics      *observability.Metrics
	strictWrites bool
	maxRetries   int
	now          func() time.Time
	newID        func() string
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(store *CollectionStore, opts TicketRepositoryOptions) TicketRepository {
	r := &ticketRepository{
		store:        store,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		strictWrites: opts.StrictWrites,
		maxRetries:   opts.MaxRetries,
		now:          opts.Now,
		newID:        opts.NewID,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.maxRetries <= 0 {
		r.maxRetries = 5
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

func (r *ticketRepository) List(ctx context.Context) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.load(ctx).Tickets, nil
}

func (r *ticketRepository) Create(ctx context.Context, input domain.TicketInput) (string, error) {
	now := r.now()
	ticket := domain.Ticket{
		ID:          r.newID(),
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
		Contact:     input.Contact,
		Status:      domain.TicketStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}

	err := r.mutate(ctx, "create", func(tickets []domain.Ticket) ([]domain.Ticket, bool, error) {
		for indexOf(tickets, ticket.ID) >= 0 {
			ticket.ID = r.newID()
		}
		return append(tickets, ticket), true, nil
	})
	if err != nil {
		return "", err
	}
	return ticket.ID, nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tickets := r.load(ctx).Tickets
	i := indexOf(tickets, id)
	if i < 0 {
		return nil, ErrTicketNotFound
	}
	ticket := tickets[i]
	return &ticket, nil
}

// Update replaces the stored ticket with the same id in place. CreatedAt is
// kept from the stored record and UpdatedAt is set to the current time, never
// earlier than the previous UpdatedAt. Empty Status or Priority keep the
// stored value.
func (r *ticketRepository) Update(ctx context.Context, ticket domain.Ticket) error {
	return r.mutate(ctx, "update", func(tickets []domain.Ticket) ([]domain.Ticket, bool, error) {
		i := indexOf(tickets, ticket.ID)
		if i < 0 {
			return nil, false, ErrTicketNotFound
		}
		r.replaceAt(tickets, i, ticket)
		return tickets, true, nil
	})
}

// Patch applies fn to the stored ticket with id and saves the result under
// the same rules as Update. Fields fn leaves alone keep whatever the latest
// writer stored. It returns the ticket as written.
func (r *ticketRepository) Patch(ctx context.Context, id string, fn PatchFunc) (*domain.Ticket, error) {
	var written domain.Ticket
	err := r.mutate(ctx, "patch", func(tickets []domain.Ticket) ([]domain.Ticket, bool, error) {
		i := indexOf(tickets, id)
		if i < 0 {
			return nil, false, ErrTicketNotFound
		}
		next := tickets[i]
		fn(&next)
		next.ID = id
		written = r.replaceAt(tickets, i, next)
		return tickets, true, nil
	})
	if err != nil {
		return nil, err
	}
	return &written, nil
}

func (r *ticketRepository) replaceAt(tickets []domain.Ticket, i int, next domain.Ticket) domain.Ticket {
	existing := tickets[i]
	next.CreatedAt = existing.CreatedAt
	next.UpdatedAt = r.now()
	if next.UpdatedAt.Before(existing.UpdatedAt) {
		next.UpdatedAt = existing.UpdatedAt
	}
	if next.Status == "" {
		next.Status = existing.Status
	}
	if next.Priority == "" {
		next.Priority = existing.Priority
	}
	tickets[i] = next
	return next
}

// Delete removes the ticket with id. Unknown ids are a no-op and leave the
// stored value untouched.
func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	return r.mutate(ctx, "delete", func(tickets []domain.Ticket) ([]domain.Ticket, bool, error) {
		kept := make([]domain.Ticket, 0, len(tickets))
		for _, t := range tickets {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		return kept, len(kept) != len(tickets), nil
	})
}

func (r *ticketRepository) Clear(ctx context.Context) error {
	return r.mutate(ctx, "clear", func([]domain.Ticket) ([]domain.Ticket, bool, error) {
		return []domain.Ticket{}, true, nil
	})
}

// transformFunc derives the next collection. Returning write=false skips the
// save entirely.
type transformFunc func(tickets []domain.Ticket) (next []domain.Ticket, write bool, err error)

// mutate runs load, transform, save and starts over from a fresh load when
// another writer got in first.
func (r *ticketRepository) mutate(ctx context.Context, op string, fn transformFunc) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap := r.load(ctx)
		next, write, err := fn(snap.Tickets)
		if err != nil || !write {
			return err
		}

		_, err = r.store.Save(ctx, snap, next)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrVersionConflict):
			r.metrics.IncStore(observability.StoreVersionConflicts)
			if attempt >= r.maxRetries {
				r.logger.Warn("giving up on ticket collection write",
					zap.String("op", op),
					zap.String("key", r.store.Key()),
					zap.Int("attempts", attempt))
				return err
			}
			r.logger.Debug("ticket collection changed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt))
		default:
			return r.writeFailed(op, err)
		}
	}
}

func (r *ticketRepository) load(ctx context.Context) Snapshot {
	snap, err := r.store.Load(ctx)
	if err != nil {
		r.metrics.IncStore(observability.StoreReadFailures)
		r.logger.Warn("ticket collection unreadable, treating as empty",
			zap.String("key", r.store.Key()),
			zap.Error(err))
	}
	return snap
}

func (r *ticketRepository) writeFailed(op string, err error) error {
	r.metrics.IncStore(observability.StoreWriteFailures)
	r.logger.Error("ticket collection write failed",
		zap.String("op", op),
		zap.String("key", r.store.Key()),
		zap.Bool("strict", r.strictWrites),
		zap.Error(err))
	if r.strictWrites {
		return err
	}
	return nil
}

func indexOf(tickets []domain.Ticket, id string) int {
	for i := range tickets {
		if tickets[i].ID == id {
			return i
		}
	}
	return -1
}
