package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/deskworks/ticket-desk/internal/config"
	"github.com/deskworks/ticket-desk/internal/events"
)

// Notification is the rendered message sent for a ticket event.
type Notification struct {
	Subject  string
	TicketID string
	Event    events.EventType
	// Email is false for events that only go to the webhook.
	Email bool
}

// NotificationService turns ticket events into notifications and hands them
// to the configured channels. Both channels are stubs that only log.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("notify"),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to every ticket event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, t := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketUpdated,
		events.EventTicketDeleted,
		events.EventTicketsClear,
	} {
		n.dispatcher.Subscribe(t, n.handle)
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	msg, err := renderNotification(event)
	if err != nil {
		return err
	}
	n.logger.Info(string(event.Type), zap.String("ticket_id", event.TicketID), zap.String("subject", msg.Subject))
	if msg.Email {
		n.sendEmailNotificationStub(ctx, msg)
	}
	n.sendWebhookNotificationStub(ctx, msg)
	return nil
}

// renderNotification builds the message for event. Email goes out for new
// tickets and status changes only.
func renderNotification(event events.Event) (Notification, error) {
	msg := Notification{TicketID: event.TicketID, Event: event.Type}
	switch event.Type {
	case events.EventTicketCreated:
		p, ok := event.Payload.(events.TicketCreatedPayload)
		if !ok {
			return msg, fmt.Errorf("unexpected payload %T", event.Payload)
		}
		msg.Subject = fmt.Sprintf("New %s priority ticket: %s", p.Priority, p.Title)
		msg.Email = true
	case events.EventTicketUpdated:
		p, ok := event.Payload.(events.TicketUpdatedPayload)
		if !ok {
			return msg, fmt.Errorf("unexpected payload %T", event.Payload)
		}
		var changes []string
		if p.OldStatus != p.NewStatus {
			changes = append(changes, fmt.Sprintf("status %s -> %s", p.OldStatus, p.NewStatus))
			msg.Email = true
		}
		if p.OldPriority != p.NewPriority {
			changes = append(changes, fmt.Sprintf("priority %s -> %s", p.OldPriority, p.NewPriority))
		}
		if len(changes) == 0 {
			changes = append(changes, "details edited")
		}
		msg.Subject = fmt.Sprintf("Ticket %s updated: %s", event.TicketID, strings.Join(changes, ", "))
	case events.EventTicketDeleted:
		msg.Subject = fmt.Sprintf("Ticket %s deleted", event.TicketID)
	case events.EventTicketsClear:
		msg.Subject = "All tickets cleared"
	default:
		return msg, fmt.Errorf("no notification for event %q", event.Type)
	}
	return msg, nil
}

func (n *NotificationService) sendEmailNotificationStub(_ context.Context, msg Notification) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_id", msg.TicketID),
		zap.String("subject", msg.Subject))
}

func (n *NotificationService) sendWebhookNotificationStub(_ context.Context, msg Notification) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_id", msg.TicketID),
		zap.String("event_type", string(msg.Event)))
}
