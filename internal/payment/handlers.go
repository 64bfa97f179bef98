package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evenio/monetico-bridge/internal/common"
	"github.com/evenio/monetico-bridge/internal/session"
)

// DefaultSessionCookie is the browser session cookie name.
const DefaultSessionCookie = "bridge_session"

// Handler exposes the checkout prepare endpoint, the merchant redirect hop
// and the three gateway return endpoints.
type Handler struct {
	Ctl           *Controller
	Nonces        session.Nonces
	PublicBaseURL string
	CookieName    string
	CookieSecure  bool
	Logger        zerolog.Logger
}

type prepareReq struct {
	ItemCount     int    `json:"itemCount"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	Email         string `json:"email"`
	EventSlug     string `json:"eventSlug"`
	OrganizerSlug string `json:"organizerSlug"`
	Language      string `json:"language"`
	Region        string `json:"region"`
	OrderCode     string `json:"orderCode"`
	OrderSecret   string `json:"orderSecret"`
}

type prepareResp struct {
	RedirectURL string `json:"redirectUrl"`
}

type formField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type redirectResp struct {
	Action string      `json:"action"`
	Nonce  string      `json:"nonce"`
	Fields []formField `json:"fields"`
}

// Prepare snapshots the cart, opens the payment record and returns the
// merchant redirect URL carrying the signed correlation token.
func (h *Handler) Prepare(w http.ResponseWriter, r *http.Request) {
	var req prepareReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RenderError(w, common.NewAppError("BAD_REQUEST", "invalid body", http.StatusBadRequest, err))
		return
	}
	sid := h.ensureSession(w, r)
	ctx := r.Context()

	_, err := h.Ctl.Prepare(ctx, sid, Cart{
		ItemCount:     req.ItemCount,
		Total:         req.Total,
		Currency:      req.Currency,
		Email:         req.Email,
		EventSlug:     req.EventSlug,
		OrganizerSlug: req.OrganizerSlug,
		Language:      req.Language,
		Region:        req.Region,
		OrderCode:     req.OrderCode,
		OrderSecret:   req.OrderSecret,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCart) {
			common.RenderError(w, common.NewAppError("INVALID_CART", "cart totals are missing or invalid", http.StatusBadRequest, err))
			return
		}
		h.Logger.Error().Err(err).Msg("prepare payment session")
		common.RenderError(w, common.NewAppError("PREPARE_FAILED", "unable to prepare payment", http.StatusInternalServerError, err))
		return
	}

	token, err := h.Ctl.BeginRedirect(ctx, sid)
	if err != nil {
		h.Logger.Error().Err(err).Msg("begin redirect")
		common.RenderError(w, common.NewAppError("PREPARE_FAILED", "unable to prepare payment", http.StatusInternalServerError, err))
		return
	}
	common.JSON(w, http.StatusOK, prepareResp{
		RedirectURL: strings.TrimRight(h.PublicBaseURL, "/") + "/pay/monetico/redirect?suuid4=" + url.QueryEscape(token),
	})
}

// Redirect is the merchant-initiated hop before the gateway: it consumes
// the signed token and hands the caller the sealed auto-submit form fields
// plus the per-session nonce for the page's script policy.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(r)
	if !ok {
		h.respondRejected(w)
		return
	}
	req, err := h.Ctl.RenderRedirect(r.Context(), sid, r.URL.Query().Get("suuid4"))
	if err != nil {
		h.respondRejected(w)
		return
	}
	nonce, err := h.Nonces.GetOrCreate(r.Context(), sid)
	if err != nil {
		h.Logger.Error().Err(err).Msg("issue nonce")
		h.respondRejected(w)
		return
	}
	fields := make([]formField, 0, len(req.FormFields()))
	for _, f := range req.FormFields() {
		fields = append(fields, formField{Name: f.Name, Value: f.Value})
	}
	common.JSON(w, http.StatusOK, redirectResp{
		Action: h.Ctl.Builder.ActionURL(),
		Nonce:  nonce,
		Fields: fields,
	})
}

// ReturnOK handles the gateway completion callback.
func (h *Handler) ReturnOK(w http.ResponseWriter, r *http.Request) {
	h.handleReturn(w, r, (*Controller).HandleSuccessCallback, true)
}

// ReturnKO handles the gateway failure-return callback.
func (h *Handler) ReturnKO(w http.ResponseWriter, r *http.Request) {
	h.handleReturn(w, r, (*Controller).HandleFailureCallback, false)
}

// ReturnCancel handles a user abort on the gateway page.
func (h *Handler) ReturnCancel(w http.ResponseWriter, r *http.Request) {
	h.handleReturn(w, r, (*Controller).HandleCancelCallback, false)
}

type callbackFn func(*Controller, context.Context, string, string) (Outcome, error)

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request, fn callbackFn, paidFlag bool) {
	sid, ok := h.sessionID(r)
	if !ok {
		h.respondRejected(w)
		return
	}
	outcome, err := fn(h.Ctl, r.Context(), sid, r.URL.String())
	if err != nil {
		// Which check failed stays internal; the response is uniform.
		h.respondRejected(w)
		return
	}
	sess, err := h.Ctl.Sessions.Load(r.Context(), sid)
	if err != nil {
		h.respondRejected(w)
		return
	}
	target := h.orderURL(sess.OrderCode, sess.OrderSecret)
	if outcome == OutcomeConfirmed && paidFlag {
		target += "?paid=yes"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) orderURL(code, secret string) string {
	return strings.TrimRight(h.PublicBaseURL, "/") + "/order/" + url.PathEscape(code) + "/" + url.PathEscape(secret)
}

// respondRejected renders the one generic rejection body. Bad signature,
// unknown session and malformed callbacks must be indistinguishable to an
// outside observer.
func (h *Handler) respondRejected(w http.ResponseWriter) {
	common.JSONError(w, http.StatusBadRequest, "PAYMENT_REJECTED", "unable to process payment message")
}

func (h *Handler) cookieName() string {
	if strings.TrimSpace(h.CookieName) == "" {
		return DefaultSessionCookie
	}
	return h.CookieName
}

func (h *Handler) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(h.cookieName())
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return cookie.Value, true
}

func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if sid, ok := h.sessionID(r); ok {
		return sid
	}
	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return sid
}
