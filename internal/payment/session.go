package payment

import (
	"context"
	"errors"
	"strconv"

	"github.com/evenio/monetico-bridge/internal/session"
)

// State is the lifecycle position of one checkout attempt.
type State string

const (
	StatePrepared   State = "prepared"
	StateRedirected State = "redirected"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Outcome is the result of a completed gateway round trip.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeError     Outcome = "error"
)

// ErrNoSession is returned when the browser session holds no payment state.
var ErrNoSession = errors.New("payment: no session")

// Session is the server-held, session-scoped snapshot of one checkout
// attempt. The correlation identifier is generated once per attempt and
// never reused.
type Session struct {
	CorrelationID string
	ItemCount     int
	AmountMinor   int64
	Currency      string
	Locale        string
	EventSlug     string
	OrganizerSlug string
	Email         string
	PaymentID     string
	OrderCode     string
	OrderSecret   string
	State         State
	Outcome       Outcome
}

// Sessions persists Session snapshots through the opaque per-browser
// key/value collaborator.
type Sessions struct {
	Store *session.Store
}

// Load reads the session snapshot for a browser session id.
func (s Sessions) Load(ctx context.Context, sid string) (Session, error) {
	get := func(key string) string {
		v, err := s.Store.Get(ctx, sid, key)
		if err != nil {
			return ""
		}
		return v
	}
	correlation := get(session.KeyCorrelationID)
	if correlation == "" {
		return Session{}, ErrNoSession
	}
	itemCount, _ := strconv.Atoi(get(session.KeyItemCount))
	amount, _ := strconv.ParseInt(get(session.KeyTotalMinor), 10, 64)
	return Session{
		CorrelationID: correlation,
		ItemCount:     itemCount,
		AmountMinor:   amount,
		Currency:      get(session.KeyCurrency),
		Locale:        get(session.KeyLocale),
		EventSlug:     get(session.KeyEventSlug),
		OrganizerSlug: get(session.KeyOrganizerSlug),
		Email:         get(session.KeyEmail),
		PaymentID:     get(session.KeyPaymentID),
		OrderCode:     get(session.KeyOrderCode),
		OrderSecret:   get(session.KeyOrderSecret),
		State:         State(get(session.KeyState)),
		Outcome:       Outcome(get(session.KeyOutcome)),
	}, nil
}

// Save writes the full snapshot.
func (s Sessions) Save(ctx context.Context, sid string, sess Session) error {
	return s.Store.SetAll(ctx, sid, map[string]string{
		session.KeyCorrelationID: sess.CorrelationID,
		session.KeyItemCount:     strconv.Itoa(sess.ItemCount),
		session.KeyTotalMinor:    strconv.FormatInt(sess.AmountMinor, 10),
		session.KeyCurrency:      sess.Currency,
		session.KeyLocale:        sess.Locale,
		session.KeyEventSlug:     sess.EventSlug,
		session.KeyOrganizerSlug: sess.OrganizerSlug,
		session.KeyEmail:         sess.Email,
		session.KeyPaymentID:     sess.PaymentID,
		session.KeyOrderCode:     sess.OrderCode,
		session.KeyOrderSecret:   sess.OrderSecret,
		session.KeyState:         string(sess.State),
		session.KeyOutcome:       string(sess.Outcome),
	})
}

// Settle records the terminal state and outcome and clears the cart snapshot
// fields that are no longer needed once the outcome is applied. Correlation,
// payment and order references stay so a replayed callback can be answered
// without side effects.
func (s Sessions) Settle(ctx context.Context, sid string, sess Session) error {
	if err := s.Store.SetAll(ctx, sid, map[string]string{
		session.KeyState:   string(sess.State),
		session.KeyOutcome: string(sess.Outcome),
	}); err != nil {
		return err
	}
	return s.Store.Delete(ctx, sid,
		session.KeyItemCount,
		session.KeyEmail,
		session.KeyEventSlug,
		session.KeyOrganizerSlug,
	)
}
