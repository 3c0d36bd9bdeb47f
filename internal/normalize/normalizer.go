// Package normalize turns the untrusted output of the receipt extraction call
// into a canonical domain.Purchase, repairing common extraction mistakes.
//
// Inconsistencies never fail normalization. They set NeedsReview on the
// purchase and append a diagnostic note so a human can correct the record.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

// Normalizer applies the reflection pass. It is safe for concurrent use.
type Normalizer struct {
	rules *compiledRules
	now   func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used for the "not in the future" date check.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer from rule tables.
func New(rules Rules, opts ...Option) (*Normalizer, error) {
	compiled, err := rules.compile()
	if err != nil {
		return nil, fmt.Errorf("normalize.New: %w", err)
	}
	n := &Normalizer{rules: compiled, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Normalize builds a Purchase from raw extraction output. It never returns nil and never fails.
// ID and CreatedAt are left for the store to assign.
func (n *Normalizer) Normalize(fields RawFields, rawText string) *domain.Purchase {
	if fields == nil {
		fields = RawFields{}
	}

	p := &domain.Purchase{
		RawText:  rawText,
		Currency: domain.DefaultCurrency,
		Items:    []domain.PurchaseItem{},
	}
	if cur, ok := fields.String(currencyKeys...); ok {
		p.Currency = strings.ToUpper(cur)
	}
	if pm, ok := fields.String(paymentMethodKeys...); ok {
		p.PaymentMethod = pm
	}

	n.repairMerchant(p, fields, rawText)
	n.repairDate(p, fields, rawText)
	n.buildItems(p, fields)
	n.reconcileTotals(p, fields)

	return p
}

// repairMerchant replaces empty or generic merchant names with the first
// plausible line of the raw text.
func (n *Normalizer) repairMerchant(p *domain.Purchase, fields RawFields, rawText string) {
	merchant, _ := fields.String(merchantKeys...)
	if merchant != "" && !n.isGenericMerchant(merchant) {
		p.Merchant = merchant
		return
	}

	if candidate, ok := n.merchantFromText(rawText); ok {
		p.Merchant = candidate
		return
	}

	if merchant == "" {
		merchant = "Unknown Merchant"
		p.FlagForReview("merchant: missing and no candidate line found in receipt text")
	} else {
		p.FlagForReview(fmt.Sprintf("merchant: %q is a generic placeholder and no better candidate was found", merchant))
	}
	p.Merchant = merchant
}

func (n *Normalizer) isGenericMerchant(name string) bool {
	return n.rules.generic[canonicalMerchant(name)]
}

// merchantFromText returns the first non-empty line that carries letters,
// is not boilerplate, a date or a time, and is not itself a generic placeholder.
func (n *Normalizer) merchantFromText(rawText string) (string, bool) {
	for _, line := range strings.Split(rawText, "\n") {
		candidate := cleanLine(line)
		if candidate == "" || !hasLetter(candidate) {
			continue
		}
		if n.rules.boilerplate != nil && n.rules.boilerplate.MatchString(strings.ToLower(candidate)) {
			continue
		}
		if n.isGenericMerchant(candidate) || n.isDateOrTimeLine(candidate) {
			continue
		}
		return candidate, true
	}
	return "", false
}

// cleanLine strips markdown decoration (headings, emphasis, table pipes) from an OCR line.
func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "#>-* ")
	line = strings.Trim(line, "*_|` \t")
	return strings.Join(strings.Fields(line), " ")
}

var timePattern = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)

// isDateOrTimeLine reports whether a line carries a date or time marker.
// Layouts are tried without the range check so old or future dates still count.
func (n *Normalizer) isDateOrTimeLine(line string) bool {
	if timePattern.MatchString(line) || len(dateTokens(line)) > 0 {
		return true
	}
	for _, layout := range n.rules.dateLayouts {
		if _, err := time.Parse(layout, line); err == nil {
			return true
		}
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 0x7f {
			return true
		}
	}
	return false
}

// repairDate parses the extracted date, falling back to date-shaped tokens in
// the raw text. It never invents a date.
func (n *Normalizer) repairDate(p *domain.Purchase, fields RawFields, rawText string) {
	today := civil.DateOf(n.now())

	raw, hasRaw := fields.String(dateKeys...)
	if hasRaw {
		if d, ok := n.parseDate(raw, today); ok {
			p.Date = &d
			flagAmbiguousDate(p, raw)
			return
		}
	}

	for _, token := range dateTokens(rawText) {
		if d, ok := n.parseDate(token, today); ok {
			p.Date = &d
			flagAmbiguousDate(p, token)
			return
		}
	}

	if hasRaw {
		p.FlagForReview(fmt.Sprintf("date: %q could not be parsed as a valid date between %s and %s", raw, n.rules.earliest, today))
	} else {
		p.FlagForReview("date: missing and no date found in receipt text")
	}
}

func (n *Normalizer) parseDate(s string, today civil.Date) (civil.Date, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range n.rules.dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		d := civil.DateOf(t)
		if d.Before(n.rules.earliest) || d.After(today) {
			continue
		}
		return d, true
	}
	return civil.Date{}, false
}

var numericDatePattern = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-]\d{2,4}$`)

// flagAmbiguousDate flags a numeric date whose month-first and day-first
// readings are both valid and differ. The parsed date is kept.
func flagAmbiguousDate(p *domain.Purchase, s string) {
	m := numericDatePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return
	}
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	if first == second || first > 12 || second > 12 {
		return
	}
	p.FlagForReview(fmt.Sprintf("date: %q is ambiguous between month-first and day-first, read as %s", s, p.Date.String()))
}

// buildItems validates each raw item and infers missing categories.
func (n *Normalizer) buildItems(p *domain.Purchase, fields RawFields) {
	for i, raw := range fields.Items() {
		name, ok := raw.String(itemNameKeys...)
		if !ok {
			p.FlagForReview(fmt.Sprintf("item %d: dropped, missing name", i+1))
			continue
		}

		qty, hasQty := raw.Amount(itemQuantityKeys...)
		if !hasQty || !qty.IsPositive() {
			qty = decimal.NewFromInt(1)
		}

		unit, hasUnit := raw.Amount(itemUnitPriceKeys...)
		line, hasLine := raw.Amount(itemLineTotalKeys...)

		switch {
		case !hasUnit && !hasLine:
			p.FlagForReview(fmt.Sprintf("item %d (%s): missing price", i+1, name))
			continue
		case !hasLine:
			line = unit.Mul(qty)
		case !hasUnit:
			unit = line.Div(qty).Round(2)
		}

		if unit.IsNegative() || line.IsNegative() {
			p.FlagForReview(fmt.Sprintf("item %d (%s): negative amount", i+1, name))
			continue
		}

		expected := unit.Mul(qty)
		if hasUnit && hasLine && !withinTolerance(expected, line, n.rules.tolerance) {
			p.ReviewNotes = append(p.ReviewNotes, fmt.Sprintf(
				"item %d (%s): line total %s differs from unit price x quantity %s", i+1, name, line, expected))
		}

		category, _ := raw.String(itemCategoryKeys...)
		p.Items = append(p.Items, domain.PurchaseItem{
			Name:      name,
			Category:  n.InferCategory(name, category),
			UnitPrice: unit,
			Quantity:  qty,
			LineTotal: line,
		})
	}
}

// InferCategory returns current unchanged when it is set, otherwise the
// category of the first keyword rule matching the item name.
func (n *Normalizer) InferCategory(name, current string) string {
	if c := strings.TrimSpace(current); c != "" {
		return c
	}
	lower := strings.ToLower(name)
	for _, rule := range n.rules.keywords {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Category
			}
		}
	}
	return n.rules.defaultCategory
}

// reconcileTotals compares the extracted grand total with the item sum.
// Neither value is altered; a divergence flags the record.
func (n *Normalizer) reconcileTotals(p *domain.Purchase, fields RawFields) {
	itemSum := p.ItemsTotal()

	total, ok := fields.Amount(totalKeys...)
	switch {
	case !ok:
		p.Total = itemSum
		p.FlagForReview(fmt.Sprintf("total: missing, using item sum %s", itemSum.StringFixed(2)))
		return
	case total.IsNegative():
		p.Total = itemSum
		p.FlagForReview(fmt.Sprintf("total: negative value %s replaced by item sum %s", total, itemSum.StringFixed(2)))
		return
	}

	p.Total = total
	if len(p.Items) == 0 {
		return
	}
	if !withinTolerance(total, itemSum, n.rules.tolerance) {
		p.FlagForReview(fmt.Sprintf("total: item sum %s differs from receipt total %s by more than %.0f%%",
			itemSum.StringFixed(2), total.StringFixed(2), n.rules.tolerance*100))
	}
}

// absoluteSlack absorbs rounding on small receipts.
var absoluteSlack = decimal.RequireFromString("0.01")

func withinTolerance(reference, actual decimal.Decimal, tolerance float64) bool {
	diff := reference.Sub(actual).Abs()
	allowed := reference.Abs().Mul(decimal.NewFromFloat(tolerance))
	if allowed.LessThan(absoluteSlack) {
		allowed = absoluteSlack
	}
	return diff.LessThanOrEqual(allowed)
}
