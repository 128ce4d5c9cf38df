package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned by Decode for kinds outside the closed set
var ErrUnknownKind = errors.New("unknown event kind")

// Decode builds the typed event for kind from its JSON data
func Decode(kind Kind, data []byte) (Event, error) {
	var e Event
	switch kind {
	case KindOrderCreated:
		e = &OrderCreated{}
	case KindOrderStatusChanged:
		e = &OrderStatusChanged{}
	case KindOrderCourierAssigned:
		e = &OrderCourierAssigned{}
	case KindOrderCancelled:
		e = &OrderCancelled{}
	case KindCourierStatusChanged:
		e = &CourierStatusChanged{}
	case KindPaymentCompleted:
		e = &PaymentCompleted{}
	case KindPaymentFailed:
		e = &PaymentFailed{}
	case KindRefundCreated:
		e = &RefundCreated{}
	case KindRefundCompleted:
		e = &RefundCompleted{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}

	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", kind, err)
	}

	// handlers switch on value types
	switch v := e.(type) {
	case *OrderCreated:
		e = *v
	case *OrderStatusChanged:
		e = *v
	case *OrderCourierAssigned:
		e = *v
	case *OrderCancelled:
		e = *v
	case *CourierStatusChanged:
		e = *v
	case *PaymentCompleted:
		e = *v
	case *PaymentFailed:
		e = *v
	case *RefundCreated:
		e = *v
	case *RefundCompleted:
		e = *v
	}

	if _, id := e.Entity(); id == "" {
		return nil, fmt.Errorf("decoding %s: entity id is required", kind)
	}
	return e, nil
}
