// Package events defines the domain events emitted by the order system
// and the in-process bus that hands them to consumers.
package events

// Kind names a domain event
type Kind string

const (
	KindOrderCreated         Kind = "order.created"
	KindOrderStatusChanged   Kind = "order.statusChanged"
	KindOrderCourierAssigned Kind = "order.courierAssigned"
	KindOrderCancelled       Kind = "order.cancelled"
	KindCourierStatusChanged Kind = "courier.statusChanged"
	KindPaymentCompleted     Kind = "payment.completed"
	KindPaymentFailed        Kind = "payment.failed"
	KindRefundCreated        Kind = "refund.created"
	KindRefundCompleted      Kind = "refund.completed"
)

// Event is a closed union: only the types in this package implement it
type Event interface {
	Kind() Kind
	// Entity returns the entity type and id the event concerns
	Entity() (string, string)
	isEvent()
}

// OrderItem is a line of an order
type OrderItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type OrderCreated struct {
	OrderID      string      `json:"orderId"`
	OrderNumber  string      `json:"orderNumber,omitempty"`
	CustomerName string      `json:"customerName,omitempty"`
	Total        float64     `json:"total"`
	Currency     string      `json:"currency,omitempty"`
	Items        []OrderItem `json:"items,omitempty"`
}

type OrderStatusChanged struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
}

type OrderCourierAssigned struct {
	OrderID           string `json:"orderId"`
	CourierTrackingID string `json:"courierTrackingId"`
}

type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

type CourierStatusChanged struct {
	CourierTrackingID string `json:"courierTrackingId"`
	OrderID           string `json:"orderId,omitempty"`
	Status            string `json:"status"`
}

type PaymentCompleted struct {
	PaymentID string  `json:"paymentId"`
	OrderID   string  `json:"orderId"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency,omitempty"`
}

type PaymentFailed struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Reason    string `json:"reason,omitempty"`
}

type RefundCreated struct {
	RefundID string  `json:"refundId"`
	OrderID  string  `json:"orderId"`
	Amount   float64 `json:"amount"`
}

type RefundCompleted struct {
	RefundID string  `json:"refundId"`
	OrderID  string  `json:"orderId"`
	Amount   float64 `json:"amount"`
}

func (OrderCreated) Kind() Kind         { return KindOrderCreated }
func (OrderStatusChanged) Kind() Kind   { return KindOrderStatusChanged }
func (OrderCourierAssigned) Kind() Kind { return KindOrderCourierAssigned }
func (OrderCancelled) Kind() Kind       { return KindOrderCancelled }
func (CourierStatusChanged) Kind() Kind { return KindCourierStatusChanged }
func (PaymentCompleted) Kind() Kind     { return KindPaymentCompleted }
func (PaymentFailed) Kind() Kind        { return KindPaymentFailed }
func (RefundCreated) Kind() Kind        { return KindRefundCreated }
func (RefundCompleted) Kind() Kind      { return KindRefundCompleted }

func (e OrderCreated) Entity() (string, string)         { return "order", e.OrderID }
func (e OrderStatusChanged) Entity() (string, string)   { return "order", e.OrderID }
func (e OrderCourierAssigned) Entity() (string, string) { return "order", e.OrderID }
func (e OrderCancelled) Entity() (string, string)       { return "order", e.OrderID }
func (e CourierStatusChanged) Entity() (string, string) { return "courier", e.CourierTrackingID }
func (e PaymentCompleted) Entity() (string, string)     { return "payment", e.PaymentID }
func (e PaymentFailed) Entity() (string, string)        { return "payment", e.PaymentID }
func (e RefundCreated) Entity() (string, string)        { return "refund", e.RefundID }
func (e RefundCompleted) Entity() (string, string)      { return "refund", e.RefundID }

func (OrderCreated) isEvent()         {}
func (OrderStatusChanged) isEvent()   {}
func (OrderCourierAssigned) isEvent() {}
func (OrderCancelled) isEvent()       {}
func (CourierStatusChanged) isEvent() {}
func (PaymentCompleted) isEvent()     {}
func (PaymentFailed) isEvent()        {}
func (RefundCreated) isEvent()        {}
func (RefundCompleted) isEvent()      {}
