package notify

import (
	"context"
	"fmt"
	"strings"

	"staybook/internal/models"
)

// Channel names.
const (
	ChannelLog      = "log"
	ChannelTelegram = "telegram"
)

// Message is a rendered guest notification.
type Message struct {
	EventType string
	BookingID int64
	Text      string
}

// Channel delivers messages to guests over one medium.
type Channel interface {
	Name() string
	CanReach(b *models.Booking) bool
	Send(ctx context.Context, b *models.Booking, msg Message) error
}

// Dispatcher holds the configured channels in priority order.
type Dispatcher struct {
	channels []Channel
	byName   map[string]Channel
}

func NewDispatcher(channels ...Channel) *Dispatcher {
	d := &Dispatcher{byName: make(map[string]Channel, len(channels))}
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		d.channels = append(d.channels, ch)
		d.byName[ch.Name()] = ch
	}
	return d
}

// Required returns the channels that can reach the guest of b.
func (d *Dispatcher) Required(b *models.Booking) []Channel {
	var out []Channel
	for _, ch := range d.channels {
		if ch.CanReach(b) {
			out = append(out, ch)
		}
	}
	return out
}

func (d *Dispatcher) Channel(name string) (Channel, bool) {
	ch, ok := d.byName[name]
	return ch, ok
}

func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Render builds the guest-facing text for a notification event.
func Render(eventType string, b *models.Booking) (Message, error) {
	var text string
	switch eventType {
	case models.EventBookingConfirmed:
		text = fmt.Sprintf("Hi %s, your booking #%d is confirmed.\nCheck-in: %s\nCheck-out: %s\nNights: %d\nTotal: %s %s",
			guestName(b), b.ID, b.CheckIn.Format(models.DateLayout), b.CheckOut.Format(models.DateLayout),
			b.Nights(), b.TotalAmount.StringFixed(2), b.Currency)
	case models.EventStayWelcomeDue:
		text = fmt.Sprintf("Hi %s, we are looking forward to seeing you tomorrow (%s).",
			guestName(b), b.CheckIn.Format(models.DateLayout))
	case models.EventStayPreCheckoutDue:
		text = fmt.Sprintf("Hi %s, a reminder that check-out is tomorrow (%s).",
			guestName(b), b.CheckOut.Format(models.DateLayout))
	case models.EventStayPostStayDue:
		text = fmt.Sprintf("Thank you for staying with us, %s!", guestName(b))
	default:
		return Message{}, fmt.Errorf("no template for event %q", eventType)
	}
	return Message{EventType: eventType, BookingID: b.ID, Text: text}, nil
}

func guestName(b *models.Booking) string {
	name := strings.TrimSpace(b.GuestName)
	if name == "" {
		return "guest"
	}
	return name
}
