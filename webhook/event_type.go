package webhook

import (
	"fmt"

	"github.com/marcelsud/webhook-outbox/events"
)

// EventType is the closed set of event types delivered to subscribers
type EventType string

const (
	OrderCreated         EventType = EventType(events.KindOrderCreated)
	OrderStatusChanged   EventType = EventType(events.KindOrderStatusChanged)
	OrderCourierAssigned EventType = EventType(events.KindOrderCourierAssigned)
	OrderCancelled       EventType = EventType(events.KindOrderCancelled)
	CourierStatusChanged EventType = EventType(events.KindCourierStatusChanged)
	PaymentCompleted     EventType = EventType(events.KindPaymentCompleted)
	PaymentFailed        EventType = EventType(events.KindPaymentFailed)
	RefundCreated        EventType = EventType(events.KindRefundCreated)
	RefundCompleted      EventType = EventType(events.KindRefundCompleted)
	TestEvent            EventType = "webhook.test"
)

var eventTypes = map[EventType]struct{}{
	OrderCreated:         {},
	OrderStatusChanged:   {},
	OrderCourierAssigned: {},
	OrderCancelled:       {},
	CourierStatusChanged: {},
	PaymentCompleted:     {},
	PaymentFailed:        {},
	RefundCreated:        {},
	RefundCompleted:      {},
	TestEvent:            {},
}

// ParseEventType returns the EventType named by s
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate checks the event type belongs to the closed set
func (t EventType) Validate() error {
	if _, ok := eventTypes[t]; !ok {
		return fmt.Errorf("unknown event type: %q", string(t))
	}
	return nil
}

func (t EventType) String() string {
	return string(t)
}
