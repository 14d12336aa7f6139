package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sgsupercars/storefront/internal/catalog"
	"github.com/sgsupercars/storefront/internal/payment"
	"github.com/sgsupercars/storefront/internal/upstream"
)

func newClient(t *testing.T, srv *httptest.Server) *upstream.Client {
	t.Helper()
	c, err := upstream.New(upstream.Config{
		BaseURL:     srv.URL + "/",
		HTTPClient:  srv.Client(),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestFetchConfigDecodesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/config", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"exchangeFromKrw": {"CAD": 0.001, "USD": 0.00075},
			"makeModelTrims": {"Kia": {"EV6": ["GT"]}},
			"chargesByProvince": {"British Columbia": [{"label": "Shipping", "value": 2500}, {"label": "GST", "value": 0.05}]}
		}`))
	}))
	defer srv.Close()

	snap, err := newClient(t, srv).FetchConfig(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 0.001, snap.ExchangeFromKRW.CAD, 1e-9)
	require.Len(t, snap.ChargesByProvince["British Columbia"], 2)
	require.JSONEq(t, `{"Kia": {"EV6": ["GT"]}}`, string(snap.MakeModelTrims))
}

func TestListCarsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"carId":"1","make":"Kia","priceCad":30000},{"carId":"2","price":"45000"}]`))
	}))
	defer srv.Close()

	cars, err := newClient(t, srv).ListCars(context.Background())
	require.NoError(t, err)
	require.Len(t, cars, 2)
	require.Equal(t, float64(45000), cars[1].BasePrice())
	require.Equal(t, int32(2), calls.Load())
}

func TestRecommendedCarsPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cars/fetchRecommendedCars", r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cars, err := newClient(t, srv).RecommendedCars(context.Background())
	require.NoError(t, err)
	require.Empty(t, cars)
}

func TestGetCarNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cars/abc%2F1", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).GetCar(context.Background(), "abc/1")
	require.ErrorIs(t, err, catalog.ErrVehicleNotFound)
}

func TestGetCarStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	_, err := newClient(t, srv).GetCar(context.Background(), "1")
	var statusErr *upstream.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	require.Equal(t, "nope", statusErr.Body)
}

func TestCreatePaymentIntentSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/stripe/create-payment-intent", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		items := body["lineItems"].([]any)
		price := items[0].(map[string]any)["price_data"].(map[string]any)
		require.Equal(t, float64(100000), price["unit_amount"])
		require.Equal(t, "deposit", body["metadata"].(map[string]any)["order_type"])
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).CreatePaymentIntent(context.Background(), payment.IntentRequest{
		LineItems: []payment.LineItem{{PriceData: payment.PriceData{Currency: "cad", UnitAmount: 100000}, Quantity: 1}},
		Metadata:  map[string]string{"car_id": "1", "order_type": "deposit"},
	})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestCreatePaymentIntentReturnsSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"clientSecret":"pi_9_secret_z"}`))
	}))
	defer srv.Close()

	intent, err := newClient(t, srv).CreatePaymentIntent(context.Background(), payment.IntentRequest{})
	require.NoError(t, err)
	id, err := intent.ID()
	require.NoError(t, err)
	require.Equal(t, "pi_9", id)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := upstream.New(upstream.Config{})
	require.Error(t, err)
}
