// Package handler exposes the coupon engine over HTTP: a public validation
// surface and an API-key-protected admin CRUD surface.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
)

// Engine is the slice of the coupon service the handlers need.
type Engine interface {
	Validate(ctx context.Context, codes []string, order coupon.OrderContext) (*coupon.Quote, error)
	Redeem(ctx context.Context, checkoutID string, codes []string, order coupon.OrderContext) (*coupon.Quote, error)
}

// Handler carries the dependencies shared by all routes.
type Handler struct {
	engine Engine
	repo   coupon.Repository
}

// New constructs a Handler.
func New(engine Engine, repo coupon.Repository) *Handler {
	return &Handler{engine: engine, repo: repo}
}

// Routes mounts all routes on a fresh chi router. The admin subtree is
// guarded by the given middleware (API key authentication in production,
// identity in tests).
func (h *Handler) Routes(adminAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/coupons/validate", h.ValidateCoupons)
		r.Post("/coupons/redeem", h.RedeemCoupons)
		r.Get("/coupons", h.ListPublicCoupons)

		r.Route("/admin/coupons", func(r chi.Router) {
			if adminAuth != nil {
				r.Use(adminAuth)
			}
			r.Post("/", h.CreateCoupon)
			r.Get("/", h.ListCoupons)
			r.Get("/{code}", h.GetCoupon)
			r.Patch("/{code}", h.PatchCoupon)
			r.Delete("/{code}", h.DeleteCoupon)
		})
	})

	return r
}

// errorBody is the JSON envelope for all error responses.
type errorBody struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, errorBody{Code: status, Reason: reason, Message: message})
}

// writeRejection maps a business rejection onto the public surface. Reasons
// that would leak targeting or account details collapse into a generic
// message; the precise code still lands in the logs for audit.
func writeRejection(ctx context.Context, w http.ResponseWriter, rej *coupon.Rejection) {
	zctx.From(ctx).Info("coupon rejected",
		zap.String("coupon", rej.Code),
		zap.String("reason", string(rej.Reason)),
	)

	status := http.StatusUnprocessableEntity
	if rej.Reason == coupon.ReasonCodeNotFound {
		status = http.StatusNotFound
	}
	if rej.Reason == coupon.ReasonUsesExhausted {
		// Retryable from the caller's point of view: a concurrent checkout
		// may have consumed the last use after validation passed.
		status = http.StatusConflict
	}

	reason, message := publicReason(rej.Reason)
	writeError(w, status, reason, message)
}

func publicReason(r coupon.Reason) (reason, message string) {
	switch r {
	case coupon.ReasonCodeNotFound:
		return string(r), "Unknown coupon code."
	case coupon.ReasonInactive, coupon.ReasonExpired:
		return string(r), "This coupon is no longer active."
	case coupon.ReasonNotYetStarted:
		return string(r), "This coupon is not active yet."
	case coupon.ReasonUsesExhausted:
		return string(r), "This coupon has been fully redeemed."
	case coupon.ReasonMinPurchaseNotMet:
		return string(r), "The order does not meet this coupon's minimum purchase."
	case coupon.ReasonNonStackableConflict:
		return string(r), "One of these coupons cannot be combined with others."
	default:
		// NOT_APPLICABLE_TO_ORDER and NOT_FIRST_TIME expose targeting and
		// account history; collapse them.
		return "", "This coupon can't be applied to this order."
	}
}

func (h *Handler) handleEngineErr(ctx context.Context, w http.ResponseWriter, err error) {
	if rej, ok := coupon.AsRejection(err); ok {
		writeRejection(ctx, w, rej)
		return
	}
	if errors.Is(err, coupon.ErrNegativeSubtotal) {
		writeError(w, http.StatusBadRequest, "", "subtotal must not be negative")
		return
	}
	zctx.From(ctx).Error("coupon engine failure", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "", "internal error")
}
