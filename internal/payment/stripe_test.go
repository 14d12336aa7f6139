package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgsupercars/storefront/internal/resilience"
)

func newStripe(srv *httptest.Server) Stripe {
	return Stripe{
		PublishableKey: "pk_test_123",
		BaseURL:        srv.URL,
		HTTP:           resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
	}
}

func TestIntentIDFromSecret(t *testing.T) {
	id, err := IntentIDFromSecret("pi_3Nabc_secret_xyz")
	require.NoError(t, err)
	require.Equal(t, "pi_3Nabc", id)

	_, err = IntentIDFromSecret("garbage")
	require.ErrorIs(t, err, ErrInvalidClientSecret)
}

func TestStripeConfirmSucceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/pi_1/confirm", r.URL.Path)
		require.Equal(t, "Bearer pk_test_123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "pi_1_secret_a", r.PostForm.Get("client_secret"))
		require.Equal(t, "https://shop.test/deposit-success?carId=42", r.PostForm.Get("return_url"))
		require.Equal(t, "Jane Doe", r.PostForm.Get("payment_method_data[billing_details][name]"))
		require.Equal(t, "pm_card", r.PostForm.Get("payment_method"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded"}`))
	}))
	defer srv.Close()

	res, err := newStripe(srv).Confirm(context.Background(), ConfirmRequest{
		ClientSecret:    "pi_1_secret_a",
		PaymentMethodID: "pm_card",
		ReturnURL:       "https://shop.test/deposit-success?carId=42",
		Billing:         BillingDetails{Name: "Jane Doe", Email: "jane@example.com", Phone: "+1 604 555 0100"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, res.Status)
	require.Equal(t, "pi_1", res.IntentID)
}

func TestStripeConfirmRequiresAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"requires_action","next_action":{"redirect_to_url":{"url":"https://hooks.stripe.test/3ds"}}}`))
	}))
	defer srv.Close()

	res, err := newStripe(srv).Confirm(context.Background(), ConfirmRequest{ClientSecret: "pi_1_secret_a"})
	require.NoError(t, err)
	require.Equal(t, StatusRequiresAction, res.Status)
	require.Equal(t, "https://hooks.stripe.test/3ds", res.RedirectURL)
}

func TestStripeErrorsCarryProcessorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"card_declined","message":"Your card was declined.","type":"card_error"}}`))
	}))
	defer srv.Close()

	_, err := newStripe(srv).Confirm(context.Background(), ConfirmRequest{ClientSecret: "pi_1_secret_a"})
	var perr *Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "Your card was declined.", perr.Message)
	require.Equal(t, "card_declined", perr.Code)
}

func TestStripeRetrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/payment_intents/pi_9", r.URL.Path)
		require.Equal(t, "pi_9_secret_b", r.URL.Query().Get("client_secret"))
		_, _ = w.Write([]byte(`{"id":"pi_9","status":"requires_payment_method","last_payment_error":{"message":"Insufficient funds."}}`))
	}))
	defer srv.Close()

	res, err := newStripe(srv).Retrieve(context.Background(), "pi_9_secret_b")
	require.Equal(t, StatusRequiresPaymentMethod, res.Status)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "Insufficient funds.", perr.Message)
}

func TestIntentRequestTotal(t *testing.T) {
	req := IntentRequest{LineItems: []LineItem{
		{PriceData: PriceData{Currency: "cad", UnitAmount: 100000}, Quantity: 1},
		{PriceData: PriceData{UnitAmount: 500}},
	}}
	require.Equal(t, int64(100500), req.Total())
}

func TestStripeServerErrorIsNotADecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream timeout"}}`))
	}))
	defer srv.Close()

	_, err := newStripe(srv).Confirm(context.Background(), ConfirmRequest{ClientSecret: "pi_1_secret_a"})
	require.ErrorIs(t, err, ErrProcessorUnavailable)
	var perr *Error
	require.False(t, errors.As(err, &perr))
}
