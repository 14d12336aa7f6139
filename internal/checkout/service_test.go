package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sgsupercars/storefront/internal/catalog"
	"github.com/sgsupercars/storefront/internal/checkout"
	"github.com/sgsupercars/storefront/internal/common"
	"github.com/sgsupercars/storefront/internal/events"
	"github.com/sgsupercars/storefront/internal/payment"
	"github.com/sgsupercars/storefront/internal/resilience"
)

type fakeVehicles struct {
	cars map[string]catalog.Vehicle
}

func (f fakeVehicles) Vehicle(_ context.Context, id string) (catalog.Vehicle, error) {
	v, ok := f.cars[id]
	if !ok {
		return catalog.Vehicle{}, fmt.Errorf("get %s: %w", id, catalog.ErrVehicleNotFound)
	}
	return v, nil
}

type fakeIntents struct {
	mu   sync.Mutex
	reqs []payment.IntentRequest
	err  error
}

func (f *fakeIntents) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return payment.Intent{}, f.err
	}
	return payment.Intent{ClientSecret: fmt.Sprintf("pi_%d_secret_abc", len(f.reqs))}, nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	confirms  []payment.ConfirmRequest
	result    payment.ConfirmResult
	err       error
	retrieved payment.ConfirmResult
}

func (f *fakeProcessor) Confirm(_ context.Context, req payment.ConfirmRequest) (payment.ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, req)
	return f.result, f.err
}

func (f *fakeProcessor) Retrieve(_ context.Context, _ string) (payment.ConfirmResult, error) {
	return f.retrieved, nil
}

type fakeReconciler struct {
	ids []string
}

func (f *fakeReconciler) EnqueueReconcile(_ context.Context, id string, _ time.Duration) error {
	f.ids = append(f.ids, id)
	return nil
}

type recordPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, ev.Topic)
	return nil
}

type fixture struct {
	svc        *checkout.Service
	store      *checkout.MemoryStore
	intents    *fakeIntents
	processor  *fakeProcessor
	reconciler *fakeReconciler
	published  *recordPublisher
	succeeded  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reserved := "2026-02-01T00:00:00Z"
	f := &fixture{
		store:      checkout.NewMemoryStore(time.Hour),
		intents:    &fakeIntents{},
		processor:  &fakeProcessor{result: payment.ConfirmResult{IntentID: "pi_1", Status: payment.StatusSucceeded}},
		reconciler: &fakeReconciler{},
		published:  &recordPublisher{},
	}
	ids := 0
	svc, err := checkout.NewService(checkout.ServiceConfig{
		Vehicles: fakeVehicles{cars: map[string]catalog.Vehicle{
			"42": {CarID: "42", Year: "2021", Make: "Lamborghini", Model: "Urus"},
			"7":  {CarID: "7", Year: "2019", Make: "Porsche", Model: "911", ReservedAt: &reserved},
		}},
		Intents:     f.intents,
		Processor:   f.processor,
		Store:       f.store,
		Events:      &events.Bus{Publisher: f.published},
		Reconciler:  f.reconciler,
		Logger:      zerolog.Nop(),
		AmountMinor: 100000,
		Currency:    "CAD",
		ReturnURL:   "https://shop.test/deposit-success",
		OnSucceeded: func(_ context.Context, carID string) { f.succeeded = append(f.succeeded, carID) },
		NewID: func() string {
			ids++
			return fmt.Sprintf("sess-%d", ids)
		},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func contact() checkout.Contact {
	return checkout.Contact{Name: "Jane Doe", Email: "jane@example.com", Phone: "604-555-0100"}
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

func TestStartCreatesDepositIntent(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: contact()})
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPaymentConfirmation, sess.State)
	require.Equal(t, "pi_1_secret_abc", sess.ClientSecret)
	require.Equal(t, "pi_1", sess.IntentID)
	require.Equal(t, "2021 Lamborghini Urus", sess.VehicleTitle)

	require.Len(t, f.intents.reqs, 1)
	req := f.intents.reqs[0]
	require.Len(t, req.LineItems, 1)
	item := req.LineItems[0]
	require.Equal(t, "Deposit (Refundable) - 2021 Lamborghini Urus (Stock #42)", item.PriceData.ProductData.Name)
	require.Contains(t, item.PriceData.ProductData.Description, "Fully refundable deposit for the 2021 Lamborghini Urus (Stock #42).")
	require.Equal(t, int64(100000), item.PriceData.UnitAmount)
	require.Equal(t, "cad", item.PriceData.Currency)
	require.Equal(t, int64(1), item.Quantity)
	require.Equal(t, map[string]string{"car_id": "42", "order_type": "deposit"}, req.Metadata)
	require.Equal(t, "jane@example.com", req.Email)

	stored, err := f.store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPaymentConfirmation, stored.State)
	require.Equal(t, []string{events.TopicDepositIntentCreated}, f.published.topics)
}

func TestStartValidationFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	c := contact()
	c.Email = "not-an-email"
	_, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: c})
	require.Equal(t, common.CodeValidation, appCode(t, err))
	require.Empty(t, f.intents.reqs)

	_, err = f.store.Get(context.Background(), "sess-1")
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)
}

func TestStartRejectsReservedAndUnknownVehicles(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "7", Contact: contact()})
	require.Equal(t, common.CodeInvalidState, appCode(t, err))

	_, err = f.svc.Start(context.Background(), checkout.StartInput{CarID: "999", Contact: contact()})
	require.Equal(t, common.CodeNotFound, appCode(t, err))

	_, err = f.svc.Start(context.Background(), checkout.StartInput{Contact: contact()})
	require.Equal(t, common.CodeBadRequest, appCode(t, err))
}

func TestStartIntentFailureFailsSession(t *testing.T) {
	f := newFixture(t)
	f.intents.err = errors.New("upstream 500")
	sess, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: contact()})
	require.Equal(t, common.CodeNetwork, appCode(t, err))
	require.Equal(t, checkout.StateFailed, sess.State)
	require.Equal(t, checkout.MsgIntentFailed, sess.LastError)

	restarted, err := f.svc.Restart(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, checkout.StateCollectingInfo, restarted.State)

	f.intents.err = nil
	again, err := f.svc.Submit(context.Background(), sess.ID, restarted.Order.Contact)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPaymentConfirmation, again.State)
	require.Equal(t, 2, again.Attempts)
}

func TestConfirmSucceeded(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: contact()})
	require.NoError(t, err)

	done, err := f.svc.Confirm(context.Background(), sess.ID, checkout.ConfirmInput{PaymentMethodID: "pm_1"})
	require.NoError(t, err)
	require.Equal(t, checkout.StateSucceeded, done.State)
	require.Equal(t, []string{"42"}, f.succeeded)

	require.Len(t, f.processor.confirms, 1)
	req := f.processor.confirms[0]
	require.Equal(t, "https://shop.test/deposit-success?carId=42", req.ReturnURL)
	require.Equal(t, "pi_1_secret_abc", req.ClientSecret)
	require.Equal(t, "Jane Doe", req.Billing.Name)

	again, err := f.svc.Confirm(context.Background(), sess.ID, checkout.ConfirmInput{})
	require.NoError(t, err)
	require.Equal(t, checkout.StateSucceeded, again.State)
	require.Len(t, f.processor.confirms, 1)
}

func TestConfirmProcessorErrorIsVerbatim(t *testing.T) {
	f := newFixture(t)
	f.processor.err = &payment.Error{Code: "card_declined", Message: "Your card was declined."}
	sess, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: contact()})
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), sess.ID, checkout.ConfirmInput{})
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, common.CodePayment, appErr.Code)
	require.Equal(t, "Your card was declined.", appErr.Message)

	stored, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, checkout.StateFailed, stored.State)
	require.Equal(t, "Your card was declined.", stored.LastError)
}

func TestConfirmNetworkErrorKeepsAwaiting(t *testing.T) {
	f := newFixture(t)
	f.processor.err = errors.New("dial tcp: timeout")
	sess, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: contact()})
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), sess.ID, checkout.ConfirmInput{})
	require.Equal(t, common.CodeNetwork, appCode(t, err))
	stored, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPaymentConfirmation, stored.State)
	require.Equal(t, []string{sess.ID}, f.reconciler.ids)
}

func TestConfirmProcessorOutageKeepsAwaiting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream timeout"}}`))
	}))
	defer srv.Close()

	reconciler := &fakeReconciler{}
	published := &recordPublisher{}
	svc, err := checkout.NewService(checkout.ServiceConfig{
		Vehicles: fakeVehicles{cars: map[string]catalog.Vehicle{
			"42": {CarID: "42", Year: "2021", Make: "Lamborghini", Model: "Urus"},
		}},
		Intents: &fakeIntents{},
		Processor: payment.Stripe{
			PublishableKey: "pk_test_123",
			BaseURL:        srv.URL,
			HTTP:           resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		},
		Store:       checkout.NewMemoryStore(time.Hour),
		Events:      &events.Bus{Publisher: published},
		Reconciler:  reconciler,
		Logger:      zerolog.Nop(),
		AmountMinor: 100000,
		Currency:    "CAD",
		ReturnURL:   "https://shop.test/deposit-success",
	})
	require.NoError(t, err)

	sess, err := svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: contact()})
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), sess.ID, checkout.ConfirmInput{PaymentMethodID: "pm_card"})
	require.Equal(t, common.CodeNetwork, appCode(t, err))

	stored, err := svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPaymentConfirmation, stored.State)
	require.Equal(t, []string{sess.ID}, reconciler.ids)
	require.NotContains(t, published.topics, events.TopicDepositFailed)

	require.Error(t, svc.Reconcile(context.Background(), sess.ID))
	stored, err = svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPaymentConfirmation, stored.State)
}

func TestProcessingIsReconciled(t *testing.T) {
	f := newFixture(t)
	f.processor.result = payment.ConfirmResult{Status: payment.StatusProcessing}
	sess, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: contact()})
	require.NoError(t, err)

	pending, err := f.svc.Confirm(context.Background(), sess.ID, checkout.ConfirmInput{})
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPaymentConfirmation, pending.State)
	require.Equal(t, []string{sess.ID}, f.reconciler.ids)

	f.processor.retrieved = payment.ConfirmResult{Status: payment.StatusProcessing}
	require.ErrorIs(t, f.svc.Reconcile(context.Background(), sess.ID), checkout.ErrPaymentPending)

	f.processor.retrieved = payment.ConfirmResult{Status: payment.StatusSucceeded}
	require.NoError(t, f.svc.Reconcile(context.Background(), sess.ID))
	stored, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, checkout.StateSucceeded, stored.State)

	require.NoError(t, f.svc.Reconcile(context.Background(), "expired"))
}

func TestRestartRequiresFailure(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), checkout.StartInput{CarID: "42", Contact: contact()})
	require.NoError(t, err)
	_, err = f.svc.Restart(context.Background(), sess.ID)
	require.Equal(t, common.CodeInvalidState, appCode(t, err))

	_, err = f.svc.Get(context.Background(), "nope")
	require.Equal(t, common.CodeNotFound, appCode(t, err))
}

func TestSuccessDetailsReadsUpstream(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.SuccessDetails(context.Background(), "7")
	require.NoError(t, err)
	require.True(t, v.IsReserved())

	_, err = f.svc.SuccessDetails(context.Background(), "")
	require.Equal(t, common.CodeBadRequest, appCode(t, err))
}

func TestHandlersDepositFlow(t *testing.T) {
	f := newFixture(t)
	h := checkout.NewHandler(checkout.HandlerConfig{Service: f.svc, PublishableKey: "pk_test_1"})
	r := chi.NewRouter()
	h.Routes(r)

	body, _ := json.Marshal(map[string]string{"carId": "42", "name": "Jane Doe", "email": "jane@example.com", "phone": "604-555-0100"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deposits", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data struct {
			ID             string `json:"id"`
			State          string `json:"state"`
			ClientSecret   string `json:"clientSecret"`
			PublishableKey string `json:"publishableKey"`
			ReturnURL      string `json:"returnUrl"`
			Order          struct {
				Amount int64 `json:"amount"`
			} `json:"order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "awaiting_payment_confirmation", created.Data.State)
	require.Equal(t, "pk_test_1", created.Data.PublishableKey)
	require.Equal(t, int64(100000), created.Data.Order.Amount)
	require.Equal(t, "https://shop.test/deposit-success?carId=42", created.Data.ReturnURL)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deposits/"+created.Data.ID+"/confirm", bytes.NewReader([]byte(`{"paymentMethodId":"pm_1"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"succeeded"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deposits/success?carId=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reserved":true`)
}

func TestHandlersValidationErrors(t *testing.T) {
	f := newFixture(t)
	h := checkout.NewHandler(checkout.HandlerConfig{Service: f.svc})
	r := chi.NewRouter()
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deposits", bytes.NewReader([]byte(`{"carId":"42","name":"J","email":"bad","phone":"12"}`))))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, common.CodeValidation, resp.Error.Code)
	require.Equal(t, "Please enter a valid email", resp.Error.Details["email"])
	require.Equal(t, "Please enter a valid phone number", resp.Error.Details["phone"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deposits", bytes.NewReader([]byte(`{`))))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deposits/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
