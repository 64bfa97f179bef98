package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evenio/monetico-bridge/internal/payment"
)

// ErrNotFound is returned when no payment record exists for an id.
var ErrNotFound = errors.New("repo: payment not found")

// Payments persists payment records in Postgres. Confirm and Fail are
// conditional updates keyed on the current state, so two racing callbacks
// cannot both apply a transition; the loser sees a no-op and reads back the
// winner's state.
type Payments struct {
	Pool *pgxpool.Pool
}

var _ payment.Records = (*Payments)(nil)

// Create opens a payment record in the created state and returns its id.
func (p *Payments) Create(ctx context.Context, rec payment.NewRecord) (string, error) {
	const q = `
INSERT INTO payments (order_code, order_secret, amount, currency, state)
VALUES ($1, $2, $3, $4, 'created')
RETURNING id`
	var id string
	err := p.Pool.QueryRow(ctx, q, rec.OrderCode, rec.OrderSecret, rec.AmountMinor, rec.Currency).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create payment: %w", err)
	}
	return id, nil
}

// Confirm transitions a created record to confirmed and stores the verified
// response data. Confirming an already-confirmed record is a no-op.
func (p *Payments) Confirm(ctx context.Context, paymentID string, info map[string]string) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode payment info: %w", err)
	}
	const q = `
UPDATE payments SET state = 'confirmed', info = $2, updated_at = now()
WHERE id = $1 AND state = 'created'`
	tag, err := p.Pool.Exec(ctx, q, paymentID, payload)
	if err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.expectState(ctx, paymentID, payment.RecordConfirmed)
	}
	return nil
}

// Fail transitions a created record to failed. Failing an already-failed
// record is a no-op.
func (p *Payments) Fail(ctx context.Context, paymentID string) error {
	const q = `
UPDATE payments SET state = 'failed', updated_at = now()
WHERE id = $1 AND state = 'created'`
	tag, err := p.Pool.Exec(ctx, q, paymentID)
	if err != nil {
		return fmt.Errorf("fail payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.expectState(ctx, paymentID, payment.RecordFailed)
	}
	return nil
}

// CurrentState reads the record's persisted state.
func (p *Payments) CurrentState(ctx context.Context, paymentID string) (string, error) {
	const q = `SELECT state FROM payments WHERE id = $1`
	var state string
	err := p.Pool.QueryRow(ctx, q, paymentID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read payment state: %w", err)
	}
	return state, nil
}

func (p *Payments) expectState(ctx context.Context, paymentID, want string) error {
	state, err := p.CurrentState(ctx, paymentID)
	if err != nil {
		return err
	}
	if state != want {
		return fmt.Errorf("repo: payment %s is %s, cannot transition to %s", paymentID, state, want)
	}
	return nil
}
