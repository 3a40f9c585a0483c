package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/eduvault/backend/internal/capability"
	"github.com/eduvault/backend/internal/metrics"
	"github.com/eduvault/backend/internal/models"
	"go.uber.org/zap"
)

// Channel delivers text messages to one kind of destination
type Channel interface {
	SendText(ctx context.Context, destination, message string) error
}

// DocumentSender is implemented by channels that can also attach a document
// fetched by the provider from a URL. Attachment delivery is best-effort and
// never changes a channel's outcome.
type DocumentSender interface {
	SendDocument(ctx context.Context, destination, documentURL, filename, caption string) error
}

// LinkSender is implemented by channels that carry the attachment as a link
// inside the message itself instead of as a second delivery.
type LinkSender interface {
	SendTextWithLink(ctx context.Context, destination, message, linkURL string) error
}

const receiptFilename = "fee-receipt.pdf"

// Registration binds a channel to its name and the contact field it needs
type Registration struct {
	Name        string
	Channel     capability.Capability[Channel]
	Destination func(models.Contact) string
}

// WhatsApp registers a channel addressed by phone number
func WhatsApp(ch capability.Capability[Channel]) Registration {
	return Registration{Name: "whatsapp", Channel: ch, Destination: func(c models.Contact) string { return c.Phone }}
}

// SMS registers a channel addressed by phone number
func SMS(ch capability.Capability[Channel]) Registration {
	return Registration{Name: "sms", Channel: ch, Destination: func(c models.Contact) string { return c.Phone }}
}

// Telegram registers a channel addressed by messaging id
func Telegram(ch capability.Capability[Channel]) Registration {
	return Registration{Name: "telegram", Channel: ch, Destination: func(c models.Contact) string { return c.MessagingID }}
}

// Email registers a channel addressed by email
func Email(ch capability.Capability[Channel]) Registration {
	return Registration{Name: "email", Channel: ch, Destination: func(c models.Contact) string { return c.Email }}
}

// Dispatcher fans a message out to every channel the contact can be reached on
type Dispatcher struct {
	registrations []Registration
	log           *zap.Logger
	metrics       *metrics.Metrics
}

// NewDispatcher creates a dispatcher over registrations
func NewDispatcher(log *zap.Logger, m *metrics.Metrics, registrations ...Registration) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{registrations: registrations, log: log, metrics: m}
}

// Dispatch attempts delivery on every channel whose contact field is present
// and reports the outcome per channel name. It never fails: an error, a panic
// or a missing channel only marks that channel false.
func (d *Dispatcher) Dispatch(ctx context.Context, contact models.Contact, message, attachmentURL string) map[string]bool {
	type attempt struct {
		reg         Registration
		destination string
	}

	var attempts []attempt
	for _, reg := range d.registrations {
		if dest := reg.Destination(contact); dest != "" {
			attempts = append(attempts, attempt{reg: reg, destination: dest})
		}
	}

	outcomes := make([]models.NotificationOutcome, len(attempts))
	var wg sync.WaitGroup
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, a attempt) {
			defer wg.Done()
			err := d.deliver(ctx, a.reg, a.destination, message, attachmentURL)
			outcomes[i] = models.NotificationOutcome{Channel: a.reg.Name, Delivered: err == nil}
			if err != nil {
				d.log.Warn("notification channel failed", zap.String("channel", a.reg.Name), zap.Error(err))
			}
		}(i, a)
	}
	wg.Wait()

	results := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		results[o.Channel] = o.Delivered
		d.metrics.Notification(o.Channel, o.Delivered)
	}
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, reg Registration, destination, message, attachmentURL string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()

	ch, ok := reg.Channel.Get()
	if !ok {
		return fmt.Errorf("channel %s not configured", reg.Name)
	}
	if sender, ok := ch.(LinkSender); ok && attachmentURL != "" {
		return sender.SendTextWithLink(ctx, destination, message, attachmentURL)
	}
	if err := ch.SendText(ctx, destination, message); err != nil {
		return err
	}

	if sender, ok := ch.(DocumentSender); ok && attachmentURL != "" {
		if err := sender.SendDocument(ctx, destination, attachmentURL, receiptFilename, "Fee receipt"); err != nil {
			d.log.Warn("notification attachment not delivered", zap.String("channel", reg.Name), zap.Error(err))
		}
	}
	return nil
}
