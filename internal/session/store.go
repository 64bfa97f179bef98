package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/evenio/monetico-bridge/internal/common"
)

// Well-known per-session keys, mirroring the checkout flow's session layout.
const (
	KeyItemCount     = "payment_monetico_itemcount"
	KeyTotalMinor    = "payment_monetico_total"
	KeyCorrelationID = "payment_monetico_uuid4"
	KeyEventSlug     = "payment_monetico_event_slug"
	KeyOrganizerSlug = "payment_monetico_organizer_slug"
	KeyEmail         = "payment_monetico_email"
	KeyLocale        = "payment_monetico_locale"
	KeyCurrency      = "payment_monetico_currency"
	KeyPaymentID     = "payment_monetico_payment"
	KeyOrderCode     = "payment_monetico_order_code"
	KeyOrderSecret   = "payment_monetico_order_secret"
	KeyState         = "payment_monetico_state"
	KeyOutcome       = "payment_monetico_outcome"
	keyNonce         = "_monetico_nonce"
)

// ErrNotFound is returned when a session or key does not exist.
var ErrNotFound = errors.New("session: not found")

// Store is a Redis-backed per-browser-session key/value store. Values are
// strings; callers own the encoding. No transactional guarantees beyond
// per-call atomicity.
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func (s *Store) key(sid string) string {
	// Session ids come from an untrusted cookie; hash them so arbitrary
	// cookie values cannot collide with other key namespaces.
	return "sess:" + common.Sha256Hex(sid)
}

func (s *Store) ttl() time.Duration {
	if s.TTL <= 0 {
		return time.Hour
	}
	return s.TTL
}

// Get returns the value stored under key for the session.
func (s *Store) Get(ctx context.Context, sid, key string) (string, error) {
	v, err := s.R.HGet(ctx, s.key(sid), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

// Set stores a value under key and refreshes the session TTL.
func (s *Store) Set(ctx context.Context, sid, key, value string) error {
	pipe := s.R.TxPipeline()
	pipe.HSet(ctx, s.key(sid), key, value)
	pipe.Expire(ctx, s.key(sid), s.ttl())
	_, err := pipe.Exec(ctx)
	return err
}

// SetAll stores several keys in one round trip.
func (s *Store) SetAll(ctx context.Context, sid string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	pipe := s.R.TxPipeline()
	pipe.HSet(ctx, s.key(sid), args...)
	pipe.Expire(ctx, s.key(sid), s.ttl())
	_, err := pipe.Exec(ctx)
	return err
}

// Has reports whether the session holds a value under key.
func (s *Store) Has(ctx context.Context, sid, key string) (bool, error) {
	return s.R.HExists(ctx, s.key(sid), key).Result()
}

// Delete removes keys from the session.
func (s *Store) Delete(ctx context.Context, sid string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.R.HDel(ctx, s.key(sid), keys...).Err()
}

// Nonces issues the per-session one-time value the redirect page needs to
// satisfy its script-execution policy. It carries no authorization weight.
type Nonces struct {
	Store *Store
}

const nonceLength = 32
const nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GetOrCreate returns the session's nonce, generating one on first use.
func (n Nonces) GetOrCreate(ctx context.Context, sid string) (string, error) {
	if v, err := n.Store.Get(ctx, sid, keyNonce); err == nil {
		return v, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	nonce, err := randomString(nonceLength)
	if err != nil {
		return "", fmt.Errorf("session: generate nonce: %w", err)
	}
	if err := n.Store.Set(ctx, sid, keyNonce, nonce); err != nil {
		return "", err
	}
	return nonce, nil
}

func randomString(length int) (string, error) {
	max := big.NewInt(int64(len(nonceAlphabet)))
	out := make([]byte, length)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = nonceAlphabet[idx.Int64()]
	}
	return string(out), nil
}
