package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/evenio/monetico-bridge/internal/monetico"
	"github.com/evenio/monetico-bridge/internal/payment"
	"github.com/evenio/monetico-bridge/internal/session"
)

type handlerFixture struct {
	srv      *httptest.Server
	client   *http.Client
	records  *fakeRecords
	verifier *monetico.ResponseVerifier
	ctl      *payment.Controller
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	builder, err := monetico.NewRequestBuilder(monetico.MerchantConfig{
		Key:         lifecycleMerchantKey,
		EPTNumber:   "1234567",
		CompanyCode: "ACMECORP000000000001",
		ServerURL:   "https://p.monetico-services.com/test/",
		PaymentURL:  "paiement.cgi",
	})
	require.NoError(t, err)

	store := &session.Store{R: rdb, TTL: time.Hour}
	records := newFakeRecords()
	verifier := monetico.NewResponseVerifier(builder.Signer())
	ctl := &payment.Controller{
		Tokens:   monetico.NewTokenCodec("handler-test-secret"),
		Builder:  builder,
		Verifier: verifier,
		Sessions: payment.Sessions{Store: store},
		Records:  records,
		ReturnURLs: monetico.ReturnURLs{
			OK:     "https://shop.example.com/pay/monetico/return/ok",
			KO:     "https://shop.example.com/pay/monetico/return/ko",
			Cancel: "https://shop.example.com/pay/monetico/return/cancel",
		},
		Logger: zerolog.Nop(),
	}
	h := &payment.Handler{
		Ctl:           ctl,
		Nonces:        session.Nonces{Store: store},
		PublicBaseURL: "https://shop.example.com",
		Logger:        zerolog.Nop(),
	}

	r := chi.NewRouter()
	r.Post("/api/v1/checkout/prepare", h.Prepare)
	r.Get("/pay/monetico/redirect", h.Redirect)
	r.Get("/pay/monetico/return/ok", h.ReturnOK)
	r.Get("/pay/monetico/return/ko", h.ReturnKO)
	r.Get("/pay/monetico/return/cancel", h.ReturnCancel)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar := newCookieClient(srv.Client())
	return &handlerFixture{srv: srv, client: jar, records: records, verifier: verifier, ctl: ctl}
}

// newCookieClient returns a client that keeps cookies and never follows
// redirects, so tests can assert on Location headers.
func newCookieClient(base *http.Client) *http.Client {
	c := *base
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

func (f *handlerFixture) prepare(t *testing.T) (sessionCookie *http.Cookie, redirectURL string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"itemCount":   2,
		"total":       "19.99",
		"currency":    "EUR",
		"email":       "buyer@example.com",
		"language":    "fr",
		"orderCode":   "A1B2C",
		"orderSecret": "s3cr3t",
	})
	require.NoError(t, err)

	resp, err := f.client.Post(f.srv.URL+"/api/v1/checkout/prepare", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, c := range resp.Cookies() {
		if c.Name == payment.DefaultSessionCookie {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie, "prepare must set the session cookie")

	var out struct {
		RedirectURL string `json:"redirectUrl"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, strings.HasPrefix(out.RedirectURL, "https://shop.example.com/pay/monetico/redirect?suuid4="))
	return sessionCookie, out.RedirectURL
}

func (f *handlerFixture) get(t *testing.T, path string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	return resp
}

func (f *handlerFixture) sealedReturnQuery(t *testing.T, correlationID, resultCode string) string {
	t.Helper()
	q := url.Values{}
	q.Set("paymentId", correlationID)
	q.Set("error", resultCode)
	q.Set("montant", "19.99EUR")
	q.Set("MAC", f.verifier.SealResponse(q))
	return q.Encode()
}

func TestCheckoutEndToEnd(t *testing.T) {
	f := newHandlerFixture(t)
	cookie, redirectURL := f.prepare(t)

	u, err := url.Parse(redirectURL)
	require.NoError(t, err)

	resp := f.get(t, "/pay/monetico/redirect?"+u.RawQuery, cookie)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Action string `json:"action"`
		Nonce  string `json:"nonce"`
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Equal(t, "https://p.monetico-services.com/test/paiement.cgi", page.Action)
	require.Len(t, page.Nonce, 32)

	fields := map[string]string{}
	for _, field := range page.Fields {
		fields[field.Name] = field.Value
	}
	require.Equal(t, "1999", fields["montant"])
	require.Equal(t, "978", fields["devise"])
	require.Equal(t, "3.0", fields["version"])
	require.Equal(t, "fr-FR", fields["lgue"])
	require.NotEmpty(t, fields["MAC"])
	require.Equal(t, "https://shop.example.com/pay/monetico/return/ok", fields["url_retour_ok"])

	sess, err := f.ctl.Sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)

	ok := f.get(t, "/pay/monetico/return/ok?"+f.sealedReturnQuery(t, sess.CorrelationID, "00000"), cookie)
	defer ok.Body.Close()
	require.Equal(t, http.StatusFound, ok.StatusCode)
	require.Equal(t, "https://shop.example.com/order/A1B2C/s3cr3t?paid=yes", ok.Header.Get("Location"))
	require.Equal(t, 1, f.records.confirms)
}

func TestReturnKORedirectsWithoutPaidFlag(t *testing.T) {
	f := newHandlerFixture(t)
	cookie, _ := f.prepare(t)

	sess, err := f.ctl.Sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)

	resp := f.get(t, "/pay/monetico/return/ko?"+f.sealedReturnQuery(t, sess.CorrelationID, "12345"), cookie)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "https://shop.example.com/order/A1B2C/s3cr3t", resp.Header.Get("Location"))
	require.Equal(t, 1, f.records.fails)
}

func TestReturnCancelRedirects(t *testing.T) {
	f := newHandlerFixture(t)
	cookie, _ := f.prepare(t)

	sess, err := f.ctl.Sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)

	resp := f.get(t, "/pay/monetico/return/cancel?"+f.sealedReturnQuery(t, sess.CorrelationID, "annulation"), cookie)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "https://shop.example.com/order/A1B2C/s3cr3t", resp.Header.Get("Location"))

	stored, err := f.ctl.Sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelled, stored.State)
}

func TestReplayedReturnRedirectsAgain(t *testing.T) {
	f := newHandlerFixture(t)
	cookie, _ := f.prepare(t)

	sess, err := f.ctl.Sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)

	raw := "/pay/monetico/return/ok?" + f.sealedReturnQuery(t, sess.CorrelationID, "00000")
	first := f.get(t, raw, cookie)
	first.Body.Close()
	second := f.get(t, raw, cookie)
	second.Body.Close()

	require.Equal(t, http.StatusFound, first.StatusCode)
	require.Equal(t, http.StatusFound, second.StatusCode)
	require.Equal(t, first.Header.Get("Location"), second.Header.Get("Location"))
	require.Equal(t, 1, f.records.confirms)
}

// Rejections are indistinguishable from the outside regardless of cause.
func TestRejectionBodyIsUniform(t *testing.T) {
	f := newHandlerFixture(t)
	cookie, _ := f.prepare(t)

	sess, err := f.ctl.Sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)

	readBody := func(resp *http.Response) (int, string) {
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	tamperedQ := f.sealedReturnQuery(t, sess.CorrelationID, "00000")
	tamperedQ = strings.Replace(tamperedQ, "error=00000", "error=99999", 1)

	badSealStatus, badSealBody := readBody(f.get(t, "/pay/monetico/return/ok?"+tamperedQ, cookie))
	noSessionStatus, noSessionBody := readBody(f.get(t, "/pay/monetico/return/ok?"+f.sealedReturnQuery(t, sess.CorrelationID, "00000"), &http.Cookie{Name: payment.DefaultSessionCookie, Value: "unknown-session"}))
	noCookieStatus, noCookieBody := readBody(f.get(t, "/pay/monetico/return/ok?"+f.sealedReturnQuery(t, sess.CorrelationID, "00000"), nil))
	malformedStatus, malformedBody := readBody(f.get(t, "/pay/monetico/return/ok?error=00000", cookie))

	require.Equal(t, http.StatusBadRequest, badSealStatus)
	require.Equal(t, badSealStatus, noSessionStatus)
	require.Equal(t, badSealStatus, noCookieStatus)
	require.Equal(t, badSealStatus, malformedStatus)
	require.Equal(t, badSealBody, noSessionBody)
	require.Equal(t, badSealBody, noCookieBody)
	require.Equal(t, badSealBody, malformedBody)

	require.Zero(t, f.records.confirms, "no rejected message may confirm a payment")
}

func TestPrepareRejectsInvalidBody(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := f.client.Post(f.srv.URL+"/api/v1/checkout/prepare", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPrepareRejectsEmptyCart(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := f.client.Post(f.srv.URL+"/api/v1/checkout/prepare", "application/json", strings.NewReader(`{"total":"","currency":"EUR"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "INVALID_CART", out.Error.Code)
}

func TestRedirectWithoutTokenRejected(t *testing.T) {
	f := newHandlerFixture(t)
	cookie, _ := f.prepare(t)

	resp := f.get(t, "/pay/monetico/redirect", cookie)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
