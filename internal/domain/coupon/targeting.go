package coupon

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// TargetKind tags the targeting predicate variant.
type TargetKind string

const (
	// TargetAny matches every order.
	TargetAny TargetKind = "any"
	// TargetProductIn matches orders whose product id is in the set.
	TargetProductIn TargetKind = "product_in"
	// TargetCustomerIn matches orders whose customer id is in the set.
	TargetCustomerIn TargetKind = "customer_in"
)

// Targeting is a tagged predicate restricting which orders a coupon applies
// to. The zero value matches everything.
type Targeting struct {
	Kind TargetKind
	IDs  []string
}

// Matcher evaluates a targeting predicate against an order. The engine calls
// it but does not own how targeting data is sourced; callers may inject a
// matcher backed by catalog or account services.
type Matcher interface {
	Matches(t Targeting, order OrderContext) bool
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(t Targeting, order OrderContext) bool

func (f MatcherFunc) Matches(t Targeting, order OrderContext) bool { return f(t, order) }

// DefaultMatcher performs plain id-set membership checks.
func DefaultMatcher() Matcher {
	return MatcherFunc(func(t Targeting, order OrderContext) bool {
		switch t.Kind {
		case "", TargetAny:
			return true
		case TargetProductIn:
			return contains(t.IDs, order.ProductID)
		case TargetCustomerIn:
			return contains(t.IDs, order.CustomerID)
		default:
			// Unknown predicate kinds never match; an admin typo must not
			// widen a coupon's audience.
			return false
		}
	})
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ParseTargeting decodes the serialized predicate stored on a coupon record.
// Empty input means "match everything". The wire form is a tagged object:
//
//	{"kind":"product_in","ids":["p1","p2"]}
func ParseTargeting(raw []byte) (Targeting, error) {
	if len(raw) == 0 {
		return Targeting{Kind: TargetAny}, nil
	}

	var t Targeting
	d := jx.DecodeBytes(raw)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "kind":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "kind")
			}
			t.Kind = TargetKind(s)
			return nil
		case "ids":
			return d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return errors.Wrap(err, "id")
				}
				t.IDs = append(t.IDs, s)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return Targeting{}, errors.Wrap(err, "decode targeting")
	}

	if t.Kind == "" {
		t.Kind = TargetAny
	}
	return t, nil
}

// EncodeTargeting serializes the predicate for storage. TargetAny encodes to
// nil so unrestricted coupons store NULL.
func EncodeTargeting(t Targeting) []byte {
	if t.Kind == "" || t.Kind == TargetAny {
		return nil
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("kind", func(e *jx.Encoder) { e.Str(string(t.Kind)) })
		e.Field("ids", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range t.IDs {
					e.Str(id)
				}
			})
		})
	})
	return e.Bytes()
}
