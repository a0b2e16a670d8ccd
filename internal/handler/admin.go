package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
)

// couponJSON is the admin wire form of a coupon. Value is a decimal string
// so percentages like "12.5" round-trip exactly.
type couponJSON struct {
	Code          string         `json:"code"`
	Type          string         `json:"type"`
	Value         string         `json:"value"`
	MaxUses       *int           `json:"maxUses,omitempty"`
	CurrentUses   int            `json:"currentUses"`
	MinPurchase   *int64         `json:"minPurchase,omitempty"`
	MaxDiscount   *int64         `json:"maxDiscount,omitempty"`
	StartsAt      *time.Time     `json:"startsAt,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	IsActive      bool           `json:"isActive"`
	IsPublic      bool           `json:"isPublic"`
	Category      string         `json:"category"`
	Targeting     *targetingJSON `json:"targeting,omitempty"`
	FirstTimeOnly bool           `json:"firstTimeOnly"`
	Stackable     bool           `json:"stackable"`
	StackGroup    *string        `json:"stackGroup,omitempty"`
	Priority      int            `json:"priority"`
	TotalSavings  int64          `json:"totalSavings"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type targetingJSON struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids,omitempty"`
}

func encodeCoupon(c *coupon.Coupon) couponJSON {
	out := couponJSON{
		Code:          c.Code,
		Type:          string(c.Type),
		Value:         c.Value.String(),
		MaxUses:       c.MaxUses,
		CurrentUses:   c.CurrentUses,
		MinPurchase:   c.MinPurchase,
		MaxDiscount:   c.MaxDiscount,
		StartsAt:      c.StartsAt,
		ExpiresAt:     c.ExpiresAt,
		IsActive:      c.IsActive,
		IsPublic:      c.IsPublic,
		Category:      string(c.Category),
		FirstTimeOnly: c.FirstTimeOnly,
		Stackable:     c.Stackable,
		StackGroup:    c.StackGroup,
		Priority:      c.Priority,
		TotalSavings:  c.TotalSavings,
		CreatedAt:     c.CreatedAt,
	}
	if c.Targeting.Kind != "" && c.Targeting.Kind != coupon.TargetAny {
		out.Targeting = &targetingJSON{Kind: string(c.Targeting.Kind), IDs: c.Targeting.IDs}
	}
	return out
}

// createCouponRequest is couponJSON minus the server-owned fields. IsActive
// defaults to true when omitted.
type createCouponRequest struct {
	Code          string         `json:"code"`
	Type          string         `json:"type"`
	Value         string         `json:"value"`
	MaxUses       *int           `json:"maxUses"`
	MinPurchase   *int64         `json:"minPurchase"`
	MaxDiscount   *int64         `json:"maxDiscount"`
	StartsAt      *time.Time     `json:"startsAt"`
	ExpiresAt     *time.Time     `json:"expiresAt"`
	IsActive      *bool          `json:"isActive"`
	IsPublic      bool           `json:"isPublic"`
	Category      string         `json:"category"`
	Targeting     *targetingJSON `json:"targeting"`
	FirstTimeOnly bool           `json:"firstTimeOnly"`
	Stackable     bool           `json:"stackable"`
	StackGroup    *string        `json:"stackGroup"`
	Priority      int            `json:"priority"`
}

func (req *createCouponRequest) toCoupon() (*coupon.Coupon, error) {
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		return nil, errors.Wrap(err, "value")
	}

	c := &coupon.Coupon{
		Code:          coupon.NormalizeCode(req.Code),
		Type:          coupon.DiscountType(req.Type),
		Value:         value,
		MaxUses:       req.MaxUses,
		MinPurchase:   req.MinPurchase,
		MaxDiscount:   req.MaxDiscount,
		StartsAt:      req.StartsAt,
		ExpiresAt:     req.ExpiresAt,
		IsActive:      true,
		IsPublic:      req.IsPublic,
		Category:      coupon.Category(req.Category),
		FirstTimeOnly: req.FirstTimeOnly,
		Stackable:     req.Stackable,
		StackGroup:    req.StackGroup,
		Priority:      req.Priority,
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	if c.Category == "" {
		c.Category = coupon.CategoryOther
	}
	if req.Targeting != nil {
		c.Targeting = coupon.Targeting{
			Kind: coupon.TargetKind(req.Targeting.Kind),
			IDs:  req.Targeting.IDs,
		}
	} else {
		c.Targeting = coupon.Targeting{Kind: coupon.TargetAny}
	}
	return c, nil
}

// CreateCoupon handles POST /api/admin/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	c, err := req.toCoupon()
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	if err := coupon.ValidateRecord(c); err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	if err := h.repo.Create(r.Context(), c); err != nil {
		if errors.Is(err, coupon.ErrCodeExists) {
			writeError(w, http.StatusConflict, "", "coupon code already exists")
			return
		}
		h.handleEngineErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeCoupon(c))
}

// GetCoupon handles GET /api/admin/coupons/{code}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	c, err := h.repo.FindByCode(r.Context(), coupon.NormalizeCode(code))
	if err != nil {
		h.handleEngineErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCoupon(c))
}

// ListCoupons handles GET /api/admin/coupons with an optional category
// filter.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	f := coupon.ListFilter{
		Category: coupon.Category(r.URL.Query().Get("category")),
	}
	coupons, err := h.repo.List(r.Context(), f)
	if err != nil {
		h.handleEngineErr(r.Context(), w, err)
		return
	}

	out := make([]couponJSON, 0, len(coupons))
	for _, c := range coupons {
		out = append(out, encodeCoupon(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// PatchCoupon handles PATCH /api/admin/coupons/{code}. Only fields present
// in the body change; an explicit null clears an optional field.
func (h *Handler) PatchCoupon(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	ch, err := patchChangeset(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	if ch.IsEmpty() {
		writeError(w, http.StatusBadRequest, "", "no fields to update")
		return
	}

	code := coupon.NormalizeCode(chi.URLParam(r, "code"))

	// The merged record must satisfy the same invariants as a freshly
	// created one; a patch that pushes a percentage over 100 or inverts the
	// window is refused before anything is written.
	current, err := h.repo.FindByCode(r.Context(), code)
	if err != nil {
		h.handleEngineErr(r.Context(), w, err)
		return
	}
	merged := ch.ApplyTo(*current)
	if err := coupon.ValidateRecord(&merged); err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	c, err := h.repo.Update(r.Context(), code, ch)
	if err != nil {
		if isValidationErr(err) {
			writeError(w, http.StatusBadRequest, "", err.Error())
			return
		}
		h.handleEngineErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCoupon(c))
}

// DeleteCoupon handles DELETE /api/admin/coupons/{code}. Deletion is a soft
// deactivation so existing redemption history keeps its referent.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	code := coupon.NormalizeCode(chi.URLParam(r, "code"))
	if err := h.repo.Delete(r.Context(), code); err != nil {
		h.handleEngineErr(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isValidationErr(err error) bool {
	for _, v := range []error{
		coupon.ErrEmptyCode, coupon.ErrBadCode, coupon.ErrNegativeValue,
		coupon.ErrPercentOver100, coupon.ErrBadType, coupon.ErrBadCategory,
		coupon.ErrWindowInverted, coupon.ErrNegativeLimit,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

// patchChangeset turns the raw PATCH body into a field-level changeset,
// preserving the absent / null / value distinction.
func patchChangeset(raw map[string]json.RawMessage) (coupon.Changeset, error) {
	var ch coupon.Changeset

	set := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}
	// Nullable fields: absent leaves the column alone, null clears it.
	setOpt := func(key string, assign func() error, clear func()) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		if isNull(v) {
			clear()
			return nil
		}
		if err := assign(); err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}

	if v, ok := raw["type"]; ok {
		var t coupon.DiscountType
		if err := json.Unmarshal(v, &t); err != nil {
			return ch, errors.Wrap(err, "type")
		}
		ch.Type = &t
	}
	if v, ok := raw["value"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ch, errors.Wrap(err, "value")
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return ch, errors.Wrap(err, "value")
		}
		ch.Value = &d
	}

	if err := setOpt("maxUses", func() error {
		var n int
		if err := json.Unmarshal(raw["maxUses"], &n); err != nil {
			return err
		}
		p := &n
		ch.MaxUses = &p
		return nil
	}, func() {
		var p *int
		ch.MaxUses = &p
	}); err != nil {
		return ch, err
	}
	if err := setOpt("minPurchase", func() error {
		var n int64
		if err := json.Unmarshal(raw["minPurchase"], &n); err != nil {
			return err
		}
		p := &n
		ch.MinPurchase = &p
		return nil
	}, func() {
		var p *int64
		ch.MinPurchase = &p
	}); err != nil {
		return ch, err
	}
	if err := setOpt("maxDiscount", func() error {
		var n int64
		if err := json.Unmarshal(raw["maxDiscount"], &n); err != nil {
			return err
		}
		p := &n
		ch.MaxDiscount = &p
		return nil
	}, func() {
		var p *int64
		ch.MaxDiscount = &p
	}); err != nil {
		return ch, err
	}
	if err := setOpt("startsAt", func() error {
		var t time.Time
		if err := json.Unmarshal(raw["startsAt"], &t); err != nil {
			return err
		}
		p := &t
		ch.StartsAt = &p
		return nil
	}, func() {
		var p *time.Time
		ch.StartsAt = &p
	}); err != nil {
		return ch, err
	}
	if err := setOpt("expiresAt", func() error {
		var t time.Time
		if err := json.Unmarshal(raw["expiresAt"], &t); err != nil {
			return err
		}
		p := &t
		ch.ExpiresAt = &p
		return nil
	}, func() {
		var p *time.Time
		ch.ExpiresAt = &p
	}); err != nil {
		return ch, err
	}
	if err := setOpt("stackGroup", func() error {
		var s string
		if err := json.Unmarshal(raw["stackGroup"], &s); err != nil {
			return err
		}
		p := &s
		ch.StackGroup = &p
		return nil
	}, func() {
		var p *string
		ch.StackGroup = &p
	}); err != nil {
		return ch, err
	}

	if err := set("isActive", &ch.IsActive); err != nil {
		return ch, err
	}
	if err := set("isPublic", &ch.IsPublic); err != nil {
		return ch, err
	}
	if err := set("firstTimeOnly", &ch.FirstTimeOnly); err != nil {
		return ch, err
	}
	if err := set("stackable", &ch.Stackable); err != nil {
		return ch, err
	}
	if err := set("priority", &ch.Priority); err != nil {
		return ch, err
	}
	if v, ok := raw["category"]; ok {
		var c coupon.Category
		if err := json.Unmarshal(v, &c); err != nil {
			return ch, errors.Wrap(err, "category")
		}
		ch.Category = &c
	}
	if v, ok := raw["targeting"]; ok {
		if isNull(v) {
			ch.Targeting = &coupon.Targeting{Kind: coupon.TargetAny}
		} else {
			var tj targetingJSON
			if err := json.Unmarshal(v, &tj); err != nil {
				return ch, errors.Wrap(err, "targeting")
			}
			ch.Targeting = &coupon.Targeting{Kind: coupon.TargetKind(tj.Kind), IDs: tj.IDs}
		}
	}

	return ch, nil
}
