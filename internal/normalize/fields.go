package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// RawFields is the loosely-typed object returned by the extraction call.
// Nothing in it is trusted: every read goes through an accessor that checks
// presence and type, and the canonical record is only built by Normalize.
type RawFields map[string]any

// Field aliases accepted from the extraction model.
var (
	merchantKeys      = []string{"merchant_name", "merchant", "store"}
	dateKeys          = []string{"transaction_date", "date"}
	totalKeys         = []string{"total_amount", "total"}
	currencyKeys      = []string{"currency"}
	paymentMethodKeys = []string{"payment_method"}

	itemNameKeys      = []string{"name", "description"}
	itemCategoryKeys  = []string{"category"}
	itemUnitPriceKeys = []string{"unit_price", "price"}
	itemQuantityKeys  = []string{"quantity", "qty"}
	itemLineTotalKeys = []string{"line_total", "total", "amount"}
)

// String returns the first present key that holds a non-empty string (or a number,
// rendered as text). Whitespace is trimmed.
func (f RawFields) String(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" && !isNullLiteral(s) {
				return s, true
			}
		case json.Number:
			return val.String(), true
		case float64:
			return decimal.NewFromFloat(val).String(), true
		case int:
			return fmt.Sprintf("%d", val), true
		}
	}
	return "", false
}

// Amount returns the first present key that holds a number or a numeric string.
// Currency symbols, thousands separators and whitespace are tolerated in strings.
func (f RawFields) Amount(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || v == nil {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// Items returns the list of item objects. Elements that are not objects are dropped.
func (f RawFields) Items() []RawFields {
	v, ok := f["items"]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]RawFields, 0, len(list))
	for _, el := range list {
		switch obj := el.(type) {
		case map[string]any:
			out = append(out, RawFields(obj))
		case RawFields:
			out = append(out, obj)
		}
	}
	return out
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(val), true
	case float32:
		return toDecimal(float64(val))
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case string:
		return parseAmountString(val)
	default:
		return decimal.Zero, false
	}
}

func parseAmountString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || isNullLiteral(s) {
		return decimal.Zero, false
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',', r == ' ', r == '$', r == '€', r == '£', r == '¥':
			// separators and symbols
		default:
			if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' {
				// currency codes such as "USD 3.99"
				continue
			}
			return decimal.Zero, false
		}
	}

	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func isNullLiteral(s string) bool {
	switch strings.ToLower(s) {
	case "null", "none", "nil", "n/a":
		return true
	}
	return false
}
