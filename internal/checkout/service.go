package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sgsupercars/storefront/internal/catalog"
	"github.com/sgsupercars/storefront/internal/common"
	"github.com/sgsupercars/storefront/internal/events"
	"github.com/sgsupercars/storefront/internal/lock"
	"github.com/sgsupercars/storefront/internal/obs"
	"github.com/sgsupercars/storefront/internal/payment"
)

const (
	// MsgIntentFailed is shown when the backend could not open a payment intent.
	MsgIntentFailed = "Failed to initialize payment"
	// MsgPaymentFailed is shown when the processor rejects a payment without a message.
	MsgPaymentFailed = "An error occurred during payment"

	supportEmail = "admin@sgsupercars.ca"
	supportPhone = "(437)-463-8189"

	lockTTL = 30 * time.Second
)

// ErrPaymentPending reports a payment the processor has not settled yet.
var ErrPaymentPending = errors.New("checkout: payment still pending")

// Vehicles fetches a single vehicle from the brokerage API.
type Vehicles interface {
	Vehicle(ctx context.Context, carID string) (catalog.Vehicle, error)
}

// Reconciler schedules a later status check for a session whose payment is
// still pending at the processor.
type Reconciler interface {
	EnqueueReconcile(ctx context.Context, sessionID string, delay time.Duration) error
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Vehicles       Vehicles
	Intents        payment.IntentCreator
	Processor      payment.Processor
	Store          SessionStore
	Locker         lock.Locker
	Events         *events.Bus
	Reconciler     Reconciler
	Validate       func(Contact) error
	Logger         zerolog.Logger
	AmountMinor    int64
	Currency       string
	ReturnURL      string
	ReconcileDelay time.Duration
	// OnSucceeded runs after a deposit is confirmed, e.g. to drop cached listings.
	OnSucceeded func(ctx context.Context, carID string)
	Now         func() time.Time
	NewID       func() string
}

// Service drives deposit checkout sessions.
type Service struct {
	vehicles       Vehicles
	intents        payment.IntentCreator
	processor      payment.Processor
	store          SessionStore
	locker         lock.Locker
	events         *events.Bus
	reconciler     Reconciler
	validate       func(Contact) error
	logger         zerolog.Logger
	amount         int64
	currency       string
	returnURL      string
	reconcileDelay time.Duration
	onSucceeded    func(ctx context.Context, carID string)
	now            func() time.Time
	newID          func() string
}

// StartInput is the buyer's deposit request.
type StartInput struct {
	CarID   string
	Contact Contact
}

// ConfirmInput carries the payment method collected by the processor widget.
type ConfirmInput struct {
	PaymentMethodID string
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Vehicles == nil:
		return nil, errors.New("checkout: vehicle source is required")
	case cfg.Intents == nil:
		return nil, errors.New("checkout: intent creator is required")
	case cfg.Processor == nil:
		return nil, errors.New("checkout: payment processor is required")
	case cfg.Store == nil:
		return nil, errors.New("checkout: session store is required")
	case cfg.AmountMinor <= 0:
		return nil, errors.New("checkout: deposit amount must be positive")
	}
	svc := &Service{
		vehicles:       cfg.Vehicles,
		intents:        cfg.Intents,
		processor:      cfg.Processor,
		store:          cfg.Store,
		locker:         cfg.Locker,
		events:         cfg.Events,
		reconciler:     cfg.Reconciler,
		validate:       cfg.Validate,
		logger:         cfg.Logger,
		amount:         cfg.AmountMinor,
		currency:       strings.ToLower(strings.TrimSpace(cfg.Currency)),
		returnURL:      strings.TrimRight(cfg.ReturnURL, "/"),
		reconcileDelay: cfg.ReconcileDelay,
		onSucceeded:    cfg.OnSucceeded,
		now:            cfg.Now,
		newID:          cfg.NewID,
	}
	if svc.locker == nil {
		svc.locker = &lock.LocalLocker{}
	}
	if svc.validate == nil {
		svc.validate = ContactValidator(NewValidator())
	}
	if svc.currency == "" {
		svc.currency = "cad"
	}
	if svc.reconcileDelay <= 0 {
		svc.reconcileDelay = time.Minute
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	return svc, nil
}

// Start opens a session for a vehicle, validates the buyer's contact, and
// creates the payment intent. Validation failures persist nothing.
func (s *Service) Start(ctx context.Context, in StartInput) (*Session, error) {
	carID := strings.TrimSpace(in.CarID)
	if carID == "" {
		return nil, common.BadRequest("carId", "carId is required", nil)
	}
	vehicle, err := s.availableVehicle(ctx, carID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := NewSession(s.newID(), carID, s.amount, s.currency, now)
	sess.VehicleTitle = vehicle.Title()
	if err := sess.SubmitInfo(in.Contact, s.validate, now); err != nil {
		return nil, mapError(err)
	}
	return s.createIntent(ctx, sess, vehicle)
}

// Submit resubmits contact details for a session that was restarted.
func (s *Service) Submit(ctx context.Context, id string, contact Contact) (*Session, error) {
	var out *Session
	err := s.withSession(ctx, id, func(ctx context.Context, sess *Session) error {
		if sess.State != StateCollectingInfo {
			return mapError(fmt.Errorf("%w: %s", ErrInvalidTransition, sess.State))
		}
		vehicle, err := s.availableVehicle(ctx, sess.Order.CarID)
		if err != nil {
			return err
		}
		if err := sess.SubmitInfo(contact, s.validate, s.now().UTC()); err != nil {
			return mapError(err)
		}
		out, err = s.createIntent(ctx, sess, vehicle)
		return err
	})
	return out, err
}

// Get returns the current session.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, common.BadRequest("id", "session id is required", nil)
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return sess, nil
}

// Confirm confirms the session's intent with the processor. A confirmed
// session is returned as is so that repeated confirmations are harmless.
func (s *Service) Confirm(ctx context.Context, id string, in ConfirmInput) (*Session, error) {
	var out *Session
	err := s.withSession(ctx, id, func(ctx context.Context, sess *Session) error {
		out = sess
		if sess.State == StateSucceeded {
			return nil
		}
		if sess.State != StateAwaitingPaymentConfirmation {
			return mapError(fmt.Errorf("%w: %s", ErrInvalidTransition, sess.State))
		}
		res, err := s.processor.Confirm(ctx, payment.ConfirmRequest{
			ClientSecret:    sess.ClientSecret,
			PaymentMethodID: strings.TrimSpace(in.PaymentMethodID),
			ReturnURL:       s.ReturnURLFor(sess.Order.CarID),
			Billing: payment.BillingDetails{
				Name:  sess.Order.Contact.Name,
				Email: sess.Order.Contact.Email,
				Phone: sess.Order.Contact.Phone,
			},
		})
		return s.settle(ctx, sess, res, err)
	})
	return out, err
}

// Restart returns a failed session to CollectingInfo.
func (s *Service) Restart(ctx context.Context, id string) (*Session, error) {
	var out *Session
	err := s.withSession(ctx, id, func(ctx context.Context, sess *Session) error {
		if err := sess.Restart(s.now().UTC()); err != nil {
			return mapError(err)
		}
		out = sess
		return s.save(ctx, sess)
	})
	return out, err
}

// Reconcile re-reads a pending intent from the processor and settles the
// session. Sessions that expired or already settled are left alone.
// ErrPaymentPending is returned while the processor still reports the
// payment as in flight.
func (s *Service) Reconcile(ctx context.Context, id string) error {
	err := s.withSession(ctx, id, func(ctx context.Context, sess *Session) error {
		if sess.State != StateAwaitingPaymentConfirmation {
			return nil
		}
		res, err := s.processor.Retrieve(ctx, sess.ClientSecret)
		if err := s.settle(ctx, sess, res, err); err != nil {
			return err
		}
		if sess.State == StateAwaitingPaymentConfirmation {
			return ErrPaymentPending
		}
		return nil
	})
	var appErr *common.AppError
	if errors.As(err, &appErr) && (appErr.Code == common.CodeNotFound || appErr.Code == common.CodePayment) {
		return nil
	}
	return err
}

// SuccessDetails re-fetches the vehicle for the success page. Reservation
// status always comes from the brokerage API, never from session state.
func (s *Service) SuccessDetails(ctx context.Context, carID string) (catalog.Vehicle, error) {
	carID = strings.TrimSpace(carID)
	if carID == "" {
		return catalog.Vehicle{}, common.BadRequest("carId", "carId is required", nil)
	}
	vehicle, err := s.vehicles.Vehicle(ctx, carID)
	if err != nil {
		return catalog.Vehicle{}, asAppError(err)
	}
	return vehicle, nil
}

// ReturnURLFor is the processor redirect target after an off-site action.
func (s *Service) ReturnURLFor(carID string) string {
	return s.returnURL + "?" + url.Values{"carId": {carID}}.Encode()
}

// IntentRequest builds the single deposit line item for a vehicle.
func (s *Service) IntentRequest(sess *Session, vehicle catalog.Vehicle) payment.IntentRequest {
	label := fmt.Sprintf("%s %s %s (Stock #%s)", vehicle.Year, vehicle.Make, vehicle.Model, sess.Order.CarID)
	description := fmt.Sprintf("Fully refundable deposit for the %s.\n\n"+
		"Once paid, we will send you a confirmation email and begin the professional mechanic inspection starting the following day.\n\n"+
		"If you have any questions, email %s or call/whatsapp Brian at %s.", label, supportEmail, supportPhone)
	return payment.IntentRequest{
		LineItems: []payment.LineItem{{
			PriceData: payment.PriceData{
				Currency: sess.Order.Currency,
				ProductData: payment.ProductData{
					Name:        "Deposit (Refundable) - " + label,
					Description: description,
				},
				UnitAmount: sess.Order.Amount,
			},
			Quantity: 1,
		}},
		Name:  sess.Order.Contact.Name,
		Email: sess.Order.Contact.Email,
		Phone: sess.Order.Contact.Phone,
		Metadata: map[string]string{
			"car_id":     sess.Order.CarID,
			"order_type": "deposit",
		},
	}
}

func (s *Service) availableVehicle(ctx context.Context, carID string) (catalog.Vehicle, error) {
	vehicle, err := s.vehicles.Vehicle(ctx, carID)
	if err != nil {
		return catalog.Vehicle{}, asAppError(err)
	}
	if vehicle.IsReserved() {
		return catalog.Vehicle{}, common.InvalidState("vehicle is already reserved", nil)
	}
	return vehicle, nil
}

func (s *Service) createIntent(ctx context.Context, sess *Session, vehicle catalog.Vehicle) (*Session, error) {
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	intent, err := s.intents.CreatePaymentIntent(ctx, s.IntentRequest(sess, vehicle))
	intentID := ""
	if err == nil {
		intentID, err = intent.ID()
	}
	if err != nil {
		obs.IncCounter(obs.DepositIntentTotal, "failure")
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Str("car_id", sess.Order.CarID).Msg("deposit_intent_failed")
		if ferr := sess.IntentFailed(MsgIntentFailed, s.now().UTC()); ferr != nil {
			return nil, mapError(ferr)
		}
		if serr := s.save(ctx, sess); serr != nil {
			return nil, serr
		}
		s.emit(ctx, events.TopicDepositFailed, sess)
		appErr := common.NetworkError(MsgIntentFailed, err)
		appErr.Details = map[string]string{"sessionId": sess.ID}
		return sess, appErr
	}
	if err := sess.IntentCreated(intent.ClientSecret, intentID, s.now().UTC()); err != nil {
		return nil, mapError(err)
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	obs.IncCounter(obs.DepositIntentTotal, "success")
	s.logger.Info().Str("session_id", sess.ID).Str("car_id", sess.Order.CarID).Str("intent_id", intentID).Msg("deposit_intent_created")
	s.emit(ctx, events.TopicDepositIntentCreated, sess)
	return sess, nil
}

// settle applies a processor outcome to an awaiting session and persists it.
func (s *Service) settle(ctx context.Context, sess *Session, res payment.ConfirmResult, err error) error {
	now := s.now().UTC()
	if err != nil {
		var payErr *payment.Error
		if !errors.As(err, &payErr) {
			obs.IncCounter(obs.DepositConfirmTotal, "error")
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("deposit_confirm_unreachable")
			s.scheduleReconcile(ctx, sess.ID)
			return common.NetworkError("payment confirmation failed", err)
		}
		msg := payErr.Message
		if msg == "" {
			msg = MsgPaymentFailed
		}
		if ferr := sess.PaymentFailed(msg, now); ferr != nil {
			return mapError(ferr)
		}
		if serr := s.save(ctx, sess); serr != nil {
			return serr
		}
		obs.IncCounter(obs.DepositConfirmTotal, "failure")
		s.logger.Info().Str("session_id", sess.ID).Str("code", payErr.Code).Msg("deposit_payment_failed")
		s.emit(ctx, events.TopicDepositFailed, sess)
		return common.PaymentFailed(msg, err)
	}

	switch res.Status {
	case payment.StatusSucceeded:
		if err := sess.Confirmed(now); err != nil {
			return mapError(err)
		}
		if err := s.save(ctx, sess); err != nil {
			return err
		}
		obs.IncCounter(obs.DepositConfirmTotal, "success")
		s.logger.Info().Str("session_id", sess.ID).Str("car_id", sess.Order.CarID).Msg("deposit_succeeded")
		s.emit(ctx, events.TopicDepositSucceeded, sess)
		if s.onSucceeded != nil {
			s.onSucceeded(ctx, sess.Order.CarID)
		}
		return nil
	case payment.StatusRequiresAction:
		if err := sess.RequiresAction(res.RedirectURL, now); err != nil {
			return mapError(err)
		}
		obs.IncCounter(obs.DepositConfirmTotal, "requires_action")
		return s.save(ctx, sess)
	case payment.StatusProcessing:
		obs.IncCounter(obs.DepositConfirmTotal, "processing")
		sess.UpdatedAt = now
		if err := s.save(ctx, sess); err != nil {
			return err
		}
		s.scheduleReconcile(ctx, sess.ID)
		return nil
	default:
		if err := sess.PaymentFailed(MsgPaymentFailed, now); err != nil {
			return mapError(err)
		}
		if err := s.save(ctx, sess); err != nil {
			return err
		}
		obs.IncCounter(obs.DepositConfirmTotal, "failure")
		s.emit(ctx, events.TopicDepositFailed, sess)
		return common.PaymentFailed(MsgPaymentFailed, nil)
	}
}

func (s *Service) withSession(ctx context.Context, id string, fn func(context.Context, *Session) error) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return common.BadRequest("id", "session id is required", nil)
	}
	return s.locker.WithLock(ctx, "checkout:lock:"+id, lockTTL, func(ctx context.Context) error {
		sess, err := s.store.Get(ctx, id)
		if err != nil {
			return mapError(err)
		}
		return fn(ctx, sess)
	})
}

func (s *Service) save(ctx context.Context, sess *Session) error {
	if err := s.store.Save(ctx, sess); err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("checkout_session_save_failed")
		return common.NewAppError(common.CodeInternal, "could not save checkout session", http.StatusInternalServerError, err)
	}
	return nil
}

func (s *Service) scheduleReconcile(ctx context.Context, id string) {
	if s.reconciler == nil {
		return
	}
	if err := s.reconciler.EnqueueReconcile(ctx, id, s.reconcileDelay); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("deposit_reconcile_enqueue_failed")
	}
}

type depositEvent struct {
	SessionID string `json:"sessionId"`
	CarID     string `json:"carId"`
	State     State  `json:"state"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	IntentID  string `json:"intentId,omitempty"`
	Email     string `json:"email,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (s *Service) emit(ctx context.Context, topic string, sess *Session) {
	if s.events == nil {
		return
	}
	_, err := s.events.Emit(ctx, topic, sess.ID, depositEvent{
		SessionID: sess.ID,
		CarID:     sess.Order.CarID,
		State:     sess.State,
		Amount:    sess.Order.Amount,
		Currency:  sess.Order.Currency,
		IntentID:  sess.IntentID,
		Email:     sess.Order.Contact.Email,
		Message:   sess.LastError,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("session_id", sess.ID).Msg("deposit_event_failed")
	}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return common.ValidationFailed(verr.Fields, err)
	case errors.Is(err, ErrSessionNotFound):
		return common.NotFound("checkout session not found", err)
	case errors.Is(err, ErrInvalidTransition):
		return common.InvalidState("checkout session cannot do that now", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return common.NetworkError("request cancelled", err)
	default:
		return common.NewAppError(common.CodeInternal, "checkout failed", http.StatusInternalServerError, err)
	}
}

func asAppError(err error) error {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, catalog.ErrVehicleNotFound) {
		return common.NotFound("vehicle not found", err)
	}
	return common.NetworkError("could not load vehicle", err)
}
