package pricing

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind classifies how a charge contributes to the landed price.
type Kind int

const (
	// KindText is a non-numeric value shown verbatim and excluded from the sum.
	KindText Kind = iota
	// KindFlat is a fixed CAD amount.
	KindFlat
	// KindRate is a fraction of the base price.
	KindRate
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindRate:
		return "rate"
	default:
		return "text"
	}
}

// MarshalText renders the kind as its lowercase name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ChargeItem is one line of a province fee schedule as served by the
// configuration API. Value is kept raw because the API mixes numbers and
// display strings.
type ChargeItem struct {
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
}

// NumberItem builds a charge item holding a numeric value.
func NumberItem(label string, value float64) ChargeItem {
	return ChargeItem{Label: label, Value: json.RawMessage(strconv.FormatFloat(value, 'f', -1, 64))}
}

// TextItem builds a charge item holding a display string.
func TextItem(label, text string) ChargeItem {
	raw, _ := json.Marshal(text)
	return ChargeItem{Label: label, Value: raw}
}

// Charge is the classified form of a ChargeItem value.
type Charge struct {
	Kind   Kind
	Amount float64
	Text   string
}

// Flat returns a flat charge of the given CAD amount.
func Flat(amount float64) Charge { return Charge{Kind: KindFlat, Amount: amount} }

// Rate returns a charge applied as fraction * base price.
func Rate(fraction float64) Charge { return Charge{Kind: KindRate, Amount: fraction} }

// Text returns a display-only charge.
func Text(display string) Charge { return Charge{Kind: KindText, Text: display} }

// Classify decides whether a raw value is a flat amount, a rate, or text.
//
// Numeric values below 1 are rates and values of 1 or more are flat amounts.
// Zero is a flat amount so that it renders as FREE. A flat fee under one
// dollar cannot be expressed with this convention.
func Classify(raw json.RawMessage) Charge {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Text("")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return Text(s)
		}
		return Text(string(trimmed))
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Text(string(trimmed))
	}
	switch {
	case v == 0:
		return Flat(0)
	case v < 1:
		return Rate(v)
	default:
		return Flat(v)
	}
}

// Classify returns the classified value of the item.
func (c ChargeItem) Classify() Charge { return Classify(c.Value) }

// Contribution is the amount a charge adds to the given base price.
func Contribution(basePrice float64, c Charge) float64 {
	switch c.Kind {
	case KindFlat:
		return c.Amount
	case KindRate:
		return basePrice * c.Amount
	default:
		return 0
	}
}

// FinalPrice computes the landed price: base price plus every numeric charge,
// rounded to the nearest dollar. Non-numeric charges contribute nothing.
func FinalPrice(basePrice float64, charges []ChargeItem) int64 {
	total := basePrice
	for _, item := range charges {
		total += Contribution(basePrice, item.Classify())
	}
	return int64(math.Round(total))
}

// Line is a single rendered row of a price breakdown.
type Line struct {
	Label   string `json:"label"`
	Kind    Kind   `json:"kind"`
	Amount  *int64 `json:"amount,omitempty"`
	Display string `json:"display"`
}

// Breakdown is the itemised landed price for one vehicle in one province.
type Breakdown struct {
	BasePrice  float64 `json:"basePrice"`
	Lines      []Line  `json:"lines"`
	FinalPrice int64   `json:"finalPrice"`
	Currency   string  `json:"currency"`
}

// NewBreakdown itemises charges for display. Rates are shown as their rounded
// dollar amount, any line that rounds to zero as FREE, and text values verbatim. The total uses the
// unrounded contributions, exactly as FinalPrice does.
func NewBreakdown(basePrice float64, charges []ChargeItem) Breakdown {
	lines := make([]Line, 0, len(charges))
	for _, item := range charges {
		c := item.Classify()
		line := Line{Label: item.Label, Kind: c.Kind}
		switch c.Kind {
		case KindText:
			line.Display = c.Text
		default:
			amount := int64(math.Round(Contribution(basePrice, c)))
			line.Amount = &amount
			if amount == 0 {
				line.Display = "FREE"
			} else {
				line.Display = FormatCAD(amount)
			}
		}
		lines = append(lines, line)
	}
	return Breakdown{
		BasePrice:  basePrice,
		Lines:      lines,
		FinalPrice: FinalPrice(basePrice, charges),
		Currency:   "CAD",
	}
}

// FormatCAD renders whole dollars with thousands separators, e.g. $107,000.
func FormatCAD(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	b.Grow(len(digits) + len(digits)/3 + 2)
	b.WriteString(sign)
	b.WriteByte('$')
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
