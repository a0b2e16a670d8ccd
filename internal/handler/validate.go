package handler

import (
	"encoding/json"
	"net/http"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
)

// validateRequest is the body of POST /api/coupons/validate and
// POST /api/coupons/redeem. All amounts are minor units.
type validateRequest struct {
	Codes      []string `json:"codes"`
	Subtotal   int64    `json:"subtotal"`
	ProductID  string   `json:"productId,omitempty"`
	CustomerID string   `json:"customerId,omitempty"`
	CheckoutID string   `json:"checkoutId,omitempty"`
}

type appliedCoupon struct {
	Code     string `json:"code"`
	Discount int64  `json:"discount"`
}

type validateResponse struct {
	Valid         bool            `json:"valid"`
	Coupons       []appliedCoupon `json:"coupons"`
	TotalDiscount int64           `json:"totalDiscount"`
	FinalAmount   int64           `json:"finalAmount"`
}

func decodeValidateRequest(r *http.Request) (*validateRequest, string) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "invalid request body"
	}
	if len(req.Codes) == 0 {
		return nil, "at least one coupon code is required"
	}
	if req.Subtotal < 0 {
		return nil, "subtotal must not be negative"
	}
	return &req, ""
}

func (req *validateRequest) order() coupon.OrderContext {
	return coupon.OrderContext{
		SubtotalMinor: req.Subtotal,
		ProductID:     req.ProductID,
		CustomerID:    req.CustomerID,
	}
}

func quoteResponse(q *coupon.Quote) validateResponse {
	resp := validateResponse{
		Valid:         true,
		Coupons:       make([]appliedCoupon, 0, len(q.Result.PerCoupon)),
		TotalDiscount: q.Result.TotalDiscountMinor,
		FinalAmount:   q.Result.FinalAmountMinor,
	}
	for _, a := range q.Result.PerCoupon {
		resp.Coupons = append(resp.Coupons, appliedCoupon{Code: a.Code, Discount: a.AmountMinor})
	}
	return resp
}

// ValidateCoupons quotes the discount for a set of codes without consuming
// any uses.
func (h *Handler) ValidateCoupons(w http.ResponseWriter, r *http.Request) {
	req, msg := decodeValidateRequest(r)
	if req == nil {
		writeError(w, http.StatusBadRequest, "", msg)
		return
	}

	q, err := h.engine.Validate(r.Context(), req.Codes, req.order())
	if err != nil {
		h.handleEngineErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse(q))
}

// RedeemCoupons validates and then records the redemption, consuming one use
// per applied coupon. The checkout id makes retries idempotent.
func (h *Handler) RedeemCoupons(w http.ResponseWriter, r *http.Request) {
	req, msg := decodeValidateRequest(r)
	if req == nil {
		writeError(w, http.StatusBadRequest, "", msg)
		return
	}
	if req.CheckoutID == "" {
		writeError(w, http.StatusBadRequest, "", "checkoutId is required")
		return
	}

	q, err := h.engine.Redeem(r.Context(), req.CheckoutID, req.Codes, req.order())
	if err != nil {
		h.handleEngineErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse(q))
}

// ListPublicCoupons returns the discoverable coupon codes. Private codes and
// operational fields stay hidden.
func (h *Handler) ListPublicCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.repo.List(r.Context(), coupon.ListFilter{OnlyPublic: true})
	if err != nil {
		h.handleEngineErr(r.Context(), w, err)
		return
	}

	type publicCoupon struct {
		Code     string `json:"code"`
		Type     string `json:"type"`
		Value    string `json:"value"`
		Category string `json:"category"`
	}
	out := make([]publicCoupon, 0, len(coupons))
	for _, c := range coupons {
		out = append(out, publicCoupon{
			Code:     c.Code,
			Type:     string(c.Type),
			Value:    c.Value.String(),
			Category: string(c.Category),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
