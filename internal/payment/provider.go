package payment

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidClientSecret is returned when a client secret has no intent ID.
var ErrInvalidClientSecret = errors.New("payment: invalid client secret")

// ErrProcessorUnavailable marks a processor 5xx. The intent outcome is unknown
// and must be read back later rather than treated as a decline.
var ErrProcessorUnavailable = errors.New("payment: processor unavailable")

// LineItem is one priced entry of a payment intent, in the processor's
// checkout line item shape.
type LineItem struct {
	PriceData PriceData `json:"price_data"`
	Quantity  int64     `json:"quantity"`
}

// PriceData prices a line item in minor currency units.
type PriceData struct {
	Currency    string      `json:"currency"`
	ProductData ProductData `json:"product_data"`
	UnitAmount  int64       `json:"unit_amount"`
}

// ProductData names what is being paid for.
type ProductData struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IntentRequest is the payload the brokerage backend expects when opening a
// payment intent for a deposit.
type IntentRequest struct {
	LineItems []LineItem        `json:"lineItems"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Metadata  map[string]string `json:"metadata"`
}

// Total sums the line items.
func (r IntentRequest) Total() int64 {
	var total int64
	for _, item := range r.LineItems {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		total += item.PriceData.UnitAmount * qty
	}
	return total
}

// Intent is the handle returned once an intent exists.
type Intent struct {
	ClientSecret string `json:"clientSecret"`
}

// ID extracts the intent ID from the client secret ("pi_123_secret_abc").
func (i Intent) ID() (string, error) {
	return IntentIDFromSecret(i.ClientSecret)
}

// IntentCreator opens payment intents. Implemented by the brokerage API client.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// BillingDetails are forwarded to the processor on confirmation.
type BillingDetails struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ConfirmRequest confirms an intent with the payment method collected by the
// processor's embedded widget.
type ConfirmRequest struct {
	ClientSecret    string
	PaymentMethodID string
	ReturnURL       string
	Billing         BillingDetails
}

// Status is the processor-side intent status.
type Status string

const (
	StatusSucceeded             Status = "succeeded"
	StatusProcessing            Status = "processing"
	StatusRequiresAction        Status = "requires_action"
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusCanceled              Status = "canceled"
)

// ConfirmResult reports the outcome of a confirmation.
type ConfirmResult struct {
	IntentID    string
	Status      Status
	RedirectURL string
}

// Processor confirms and inspects intents with the payment processor.
type Processor interface {
	Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error)
	Retrieve(ctx context.Context, clientSecret string) (ConfirmResult, error)
}

// Error is a processor-reported failure. Message is meant for the buyer and
// is shown as is.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Code != "" {
		return "payment: " + e.Code + ": " + e.Message
	}
	return "payment: " + e.Message
}

// IntentIDFromSecret returns the "pi_..." prefix of a client secret.
func IntentIDFromSecret(secret string) (string, error) {
	idx := strings.Index(secret, "_secret_")
	if idx <= 0 {
		return "", ErrInvalidClientSecret
	}
	return secret[:idx], nil
}
