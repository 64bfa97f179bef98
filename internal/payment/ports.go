package payment

import "context"

// Record states as persisted by the order/payment collaborator.
const (
	RecordCreated   = "created"
	RecordConfirmed = "confirmed"
	RecordFailed    = "failed"
)

// NewRecord is the data needed to open a payment record at prepare time.
type NewRecord struct {
	OrderCode   string
	OrderSecret string
	AmountMinor int64
	Currency    string
}

// Records is the order/payment persistence collaborator. The lifecycle
// controller never mutates order storage directly; it relies on these
// operations being conditional on the record's current state so that two
// racing callbacks cannot both apply a confirm.
type Records interface {
	Create(ctx context.Context, rec NewRecord) (string, error)
	Confirm(ctx context.Context, paymentID string, info map[string]string) error
	Fail(ctx context.Context, paymentID string) error
	CurrentState(ctx context.Context, paymentID string) (string, error)
}
