package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcelsud/webhook-outbox/events"
)

// Notification is the human-oriented view of a domain event
type Notification struct {
	ID        string         `json:"id"`
	Kind      events.Kind    `json:"kind"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Summary   map[string]any `json:"summary"`
	Audio     bool           `json:"audio"`
	CreatedAt time.Time      `json:"createdAt"`
}

/* Project maps a domain event onto a notification
 * Only order lifecycle events reach admin sessions; the rest report false
 */
func Project(e events.Event, now time.Time) (Notification, bool) {
	n := Notification{
		ID:        uuid.New().String(),
		Kind:      e.Kind(),
		CreatedAt: now,
	}

	switch ev := e.(type) {
	case events.OrderCreated:
		n.Title = "New order"
		if ev.OrderNumber != "" {
			n.Title = fmt.Sprintf("New order #%s", ev.OrderNumber)
		}
		n.Message = fmt.Sprintf("%s placed an order of %s", customer(ev.CustomerName), amount(ev.Total, ev.Currency))
		n.Summary = map[string]any{
			"orderId":      ev.OrderID,
			"orderNumber":  ev.OrderNumber,
			"customerName": ev.CustomerName,
			"total":        ev.Total,
			"currency":     ev.Currency,
			"itemCount":    len(ev.Items),
		}
		n.Audio = true
	case events.OrderStatusChanged:
		n.Title = "Order status changed"
		n.Message = fmt.Sprintf("Order %s moved from %s to %s", ev.OrderID, ev.PreviousStatus, ev.Status)
		n.Summary = map[string]any{
			"orderId":        ev.OrderID,
			"status":         ev.Status,
			"previousStatus": ev.PreviousStatus,
		}
	case events.OrderCourierAssigned:
		n.Title = "Courier assigned"
		n.Message = fmt.Sprintf("Courier %s assigned to order %s", ev.CourierTrackingID, ev.OrderID)
		n.Summary = map[string]any{
			"orderId":           ev.OrderID,
			"courierTrackingId": ev.CourierTrackingID,
		}
	default:
		return Notification{}, false
	}
	return n, true
}

func customer(name string) string {
	if name == "" {
		return "A customer"
	}
	return name
}

func amount(total float64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.2f", total)
	}
	return fmt.Sprintf("%.2f %s", total, currency)
}
