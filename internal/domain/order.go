package domain

import "time"

// OrderAggregate is the convergent per-order state folded from curated events.
type OrderAggregate struct {
	OrderRef    string     `json:"order_ref"`
	CreatedAt   *time.Time `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	RefundCount int        `json:"refund_count"`
}

// Equal compares two aggregates field by field, treating timestamps by instant.
func (a OrderAggregate) Equal(b OrderAggregate) bool {
	return a.OrderRef == b.OrderRef &&
		a.RefundCount == b.RefundCount &&
		timesEqual(a.CreatedAt, b.CreatedAt) &&
		timesEqual(a.PaidAt, b.PaidAt) &&
		timesEqual(a.DeliveredAt, b.DeliveredAt)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
