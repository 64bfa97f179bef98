package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/evenio/monetico-bridge/internal/monetico"
	"github.com/evenio/monetico-bridge/internal/obs"
)

var (
	// ErrInvalidCart signals a prepare attempt without usable cart totals.
	ErrInvalidCart = errors.New("payment: invalid cart")
	// ErrCorrelationMismatch signals a callback whose reference does not
	// match the session's correlation identifier. Possible replay or stale
	// session; never retried.
	ErrCorrelationMismatch = errors.New("payment: correlation mismatch")
	// ErrSignatureInvalid signals a callback whose seal did not verify.
	ErrSignatureInvalid = errors.New("payment: signature invalid")
	// ErrMalformedResponse signals a callback missing required fields.
	ErrMalformedResponse = errors.New("payment: malformed response")
	// ErrWrongState signals an operation applied outside its lifecycle slot.
	ErrWrongState = errors.New("payment: wrong state")
)

// Cart is the checkout snapshot handed to Prepare.
type Cart struct {
	ItemCount     int
	Total         string
	Currency      string
	Email         string
	EventSlug     string
	OrganizerSlug string
	Language      string
	Region        string
	OrderCode     string
	OrderSecret   string
}

// Controller drives the payment lifecycle: prepare, redirect, outcome. Each
// operation completes within a single request handler; the only correctness
// mechanism across racing callbacks is the terminal-state check here plus
// the conditional state transition inside the Records collaborator.
type Controller struct {
	Tokens     *monetico.TokenCodec
	Builder    *monetico.RequestBuilder
	Verifier   *monetico.ResponseVerifier
	Sessions   Sessions
	Records    Records
	ReturnURLs monetico.ReturnURLs
	Logger     zerolog.Logger
	Metrics    *obs.DomainMetrics
}

type returnKind int

const (
	returnSuccess returnKind = iota
	returnFailure
	returnCancel
)

// Prepare allocates a fresh correlation identifier, opens the payment
// record and snapshots the cart into the browser session.
func (c *Controller) Prepare(ctx context.Context, sid string, cart Cart) (Session, error) {
	ctx, span := otel.Tracer("payment.Controller").Start(ctx, "Controller.Prepare")
	defer span.End()

	if strings.TrimSpace(cart.Total) == "" {
		return Session{}, fmt.Errorf("%w: missing total", ErrInvalidCart)
	}
	places, err := monetico.CurrencyPlaces(cart.Currency)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidCart, err)
	}
	minor, err := monetico.MinorUnits(cart.Total, places)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidCart, err)
	}
	if minor <= 0 {
		return Session{}, fmt.Errorf("%w: non-positive total", ErrInvalidCart)
	}

	paymentID, err := c.Records.Create(ctx, NewRecord{
		OrderCode:   cart.OrderCode,
		OrderSecret: cart.OrderSecret,
		AmountMinor: minor,
		Currency:    strings.ToUpper(cart.Currency),
	})
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		CorrelationID: uuid.NewString(),
		ItemCount:     cart.ItemCount,
		AmountMinor:   minor,
		Currency:      strings.ToUpper(cart.Currency),
		Locale:        monetico.FormatLocale(cart.Language, cart.Region),
		EventSlug:     cart.EventSlug,
		OrganizerSlug: cart.OrganizerSlug,
		Email:         cart.Email,
		PaymentID:     paymentID,
		OrderCode:     cart.OrderCode,
		OrderSecret:   cart.OrderSecret,
		State:         StatePrepared,
	}
	if err := c.Sessions.Save(ctx, sid, sess); err != nil {
		return Session{}, err
	}
	span.SetAttributes(attribute.String("payment.id", paymentID))
	c.Logger.Info().
		Str("payment_id", paymentID).
		Int64("amount_minor", minor).
		Str("currency", sess.Currency).
		Msg("payment session prepared")
	return sess, nil
}

// BeginRedirect signs the correlation identifier for safe passage through
// the browser and transitions the session to the redirected state.
func (c *Controller) BeginRedirect(ctx context.Context, sid string) (string, error) {
	sess, err := c.Sessions.Load(ctx, sid)
	if err != nil {
		return "", err
	}
	if sess.State.Terminal() {
		return "", fmt.Errorf("%w: session already %s", ErrWrongState, sess.State)
	}
	if err := c.Sessions.Save(ctx, sid, withState(sess, StateRedirected)); err != nil {
		return "", err
	}
	return c.Tokens.Sign(sess.CorrelationID), nil
}

// RenderRedirect consumes the signed token from the merchant-initiated hop
// and assembles the sealed gateway request for the auto-submit form.
func (c *Controller) RenderRedirect(ctx context.Context, sid, signedToken string) (monetico.Request, error) {
	identifier, err := c.Tokens.Verify(signedToken)
	if err != nil {
		c.reject("invalid_token", "", signedToken)
		return monetico.Request{}, err
	}
	sess, err := c.Sessions.Load(ctx, sid)
	if err != nil {
		return monetico.Request{}, err
	}
	if identifier != sess.CorrelationID {
		c.reject("correlation_mismatch", sess.PaymentID, signedToken)
		return monetico.Request{}, ErrCorrelationMismatch
	}
	if sess.State.Terminal() {
		return monetico.Request{}, fmt.Errorf("%w: session already %s", ErrWrongState, sess.State)
	}
	req, err := c.Builder.Build(monetico.BuildInput{
		AmountMinor: sess.AmountMinor,
		Currency:    sess.Currency,
		Reference:   sess.CorrelationID,
		Locale:      sess.Locale,
		Email:       sess.Email,
	}, c.ReturnURLs)
	if err != nil {
		return monetico.Request{}, err
	}
	if c.Metrics != nil {
		c.Metrics.RequestsBuilt.Inc()
	}
	c.Logger.Info().
		Str("payment_id", sess.PaymentID).
		Str("amount", req.Amount).
		Str("currency", req.Currency).
		Msg("gateway request built")
	return req, nil
}

// HandleSuccessCallback applies the outcome of the gateway's completion
// callback: the success sentinel confirms the payment, any other result
// code fails it.
func (c *Controller) HandleSuccessCallback(ctx context.Context, sid, rawURL string) (Outcome, error) {
	return c.handleReturn(ctx, sid, rawURL, returnSuccess)
}

// HandleFailureCallback applies the gateway's failure-return callback.
func (c *Controller) HandleFailureCallback(ctx context.Context, sid, rawURL string) (Outcome, error) {
	return c.handleReturn(ctx, sid, rawURL, returnFailure)
}

// HandleCancelCallback applies a user abort on the gateway page. The
// cancelled outcome is applied through the collaborator's fail operation
// since the order model has no distinct cancelled state.
func (c *Controller) HandleCancelCallback(ctx context.Context, sid, rawURL string) (Outcome, error) {
	return c.handleReturn(ctx, sid, rawURL, returnCancel)
}

func (c *Controller) handleReturn(ctx context.Context, sid, rawURL string, kind returnKind) (Outcome, error) {
	ctx, span := otel.Tracer("payment.Controller").Start(ctx, "Controller.HandleCallback")
	defer span.End()

	sess, err := c.Sessions.Load(ctx, sid)
	if err != nil {
		c.reject("unknown_session", "", rawQuery(rawURL))
		return OutcomeRejected, err
	}

	resp, status := c.Verifier.Verify(rawURL)
	if status == monetico.Malformed {
		c.reject("malformed", sess.PaymentID, rawQuery(rawURL))
		return OutcomeError, ErrMalformedResponse
	}
	// The callback's own reference must equal the stored identifier; the
	// browser returns it verbatim, separate from the signed token.
	if resp.PaymentID != sess.CorrelationID {
		c.reject("correlation_mismatch", sess.PaymentID, rawQuery(rawURL))
		return OutcomeRejected, ErrCorrelationMismatch
	}
	if status == monetico.Rejected {
		c.reject("seal_mismatch", sess.PaymentID, rawQuery(rawURL))
		return OutcomeRejected, ErrSignatureInvalid
	}

	// Replayed callback for a settled session: answer with the recorded
	// outcome, no collaborator calls.
	if sess.State.Terminal() {
		c.Logger.Info().
			Str("payment_id", sess.PaymentID).
			Str("outcome", string(sess.Outcome)).
			Msg("callback replay on terminal session")
		return sess.Outcome, nil
	}

	outcome := OutcomeFailed
	state := StateFailed
	switch {
	case kind == returnSuccess && resp.Success():
		outcome, state = OutcomeConfirmed, StateConfirmed
	case kind == returnCancel:
		outcome, state = OutcomeCancelled, StateCancelled
	}

	if outcome == OutcomeConfirmed {
		err = c.Records.Confirm(ctx, sess.PaymentID, flatten(resp.Fields))
	} else {
		err = c.Records.Fail(ctx, sess.PaymentID)
	}
	if err != nil {
		span.RecordError(err)
		return OutcomeError, err
	}

	sess.State = state
	sess.Outcome = outcome
	if err := c.Sessions.Settle(ctx, sid, sess); err != nil {
		return OutcomeError, err
	}
	if c.Metrics != nil {
		c.Metrics.Outcomes.WithLabelValues(string(outcome)).Inc()
	}
	span.SetAttributes(attribute.String("payment.outcome", string(outcome)))
	c.Logger.Info().
		Str("payment_id", sess.PaymentID).
		Str("outcome", string(outcome)).
		Str("result_code", resp.ResultCode()).
		Msg("payment outcome applied")
	return outcome, nil
}

// reject logs a refused message with enough detail to diagnose tampering or
// gateway-contract drift. Key material is never logged.
func (c *Controller) reject(reason, paymentID, raw string) {
	if c.Metrics != nil {
		c.Metrics.Rejects.WithLabelValues(reason).Inc()
	}
	evt := c.Logger.Warn().Str("reason", reason).Str("raw", raw)
	if paymentID != "" {
		evt = evt.Str("payment_id", paymentID)
	}
	evt.Msg("gateway message rejected")
}

func withState(sess Session, state State) Session {
	sess.State = state
	return sess
}

func rawQuery(rawURL string) string {
	if idx := strings.IndexByte(rawURL, '?'); idx >= 0 {
		return rawURL[idx+1:]
	}
	return rawURL
}

func flatten(fields map[string][]string) map[string]string {
	out := make(map[string]string, len(fields))
	for name, values := range fields {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
