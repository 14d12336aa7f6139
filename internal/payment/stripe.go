package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sgsupercars/storefront/internal/resilience"
)

// Stripe confirms intents the way the browser SDK does: authenticated with
// the publishable key and proven by the intent's client secret.
type Stripe struct {
	PublishableKey string
	BaseURL        string
	HTTP           resilience.HTTPClient
}

type stripeIntent struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	NextAction *struct {
		RedirectToURL *struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
	LastPaymentError *stripeError `json:"last_payment_error"`
}

type stripeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Confirm submits the payment method collected by the widget.
func (s Stripe) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	id, err := IntentIDFromSecret(req.ClientSecret)
	if err != nil {
		return ConfirmResult{}, err
	}
	form := url.Values{}
	form.Set("client_secret", req.ClientSecret)
	form.Set("return_url", req.ReturnURL)
	if req.PaymentMethodID != "" {
		form.Set("payment_method", req.PaymentMethodID)
	}
	form.Set("payment_method_data[billing_details][name]", req.Billing.Name)
	form.Set("payment_method_data[billing_details][email]", req.Billing.Email)
	form.Set("payment_method_data[billing_details][phone]", req.Billing.Phone)

	endpoint := s.baseURL() + "/v1/payment_intents/" + url.PathEscape(id) + "/confirm"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ConfirmResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(ctx, httpReq)
}

// Retrieve reads the current intent status.
func (s Stripe) Retrieve(ctx context.Context, clientSecret string) (ConfirmResult, error) {
	id, err := IntentIDFromSecret(clientSecret)
	if err != nil {
		return ConfirmResult{}, err
	}
	q := url.Values{}
	q.Set("client_secret", clientSecret)
	endpoint := s.baseURL() + "/v1/payment_intents/" + url.PathEscape(id) + "?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ConfirmResult{}, err
	}
	return s.do(ctx, httpReq)
}

func (s Stripe) do(ctx context.Context, req *http.Request) (ConfirmResult, error) {
	req.Header.Set("Authorization", "Bearer "+s.PublishableKey)
	req.Header.Set("Accept", "application/json")
	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("read stripe response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return ConfirmResult{}, fmt.Errorf("%w: status %d", ErrProcessorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error stripeError `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
			return ConfirmResult{}, &Error{Message: "payment processor error", Status: resp.StatusCode}
		}
		return ConfirmResult{}, &Error{Code: envelope.Error.Code, Message: envelope.Error.Message, Status: resp.StatusCode}
	}

	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return ConfirmResult{}, fmt.Errorf("decode stripe intent: %w", err)
	}
	result := ConfirmResult{IntentID: intent.ID, Status: intent.Status}
	if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
		result.RedirectURL = intent.NextAction.RedirectToURL.URL
	}
	if intent.Status == StatusRequiresPaymentMethod && intent.LastPaymentError != nil {
		return result, &Error{Code: intent.LastPaymentError.Code, Message: intent.LastPaymentError.Message, Status: resp.StatusCode}
	}
	return result, nil
}

func (s Stripe) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		return "https://api.stripe.com"
	}
	return base
}
