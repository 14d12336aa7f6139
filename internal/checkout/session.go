package checkout

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when an event does not apply to the
// session's current state.
var ErrInvalidTransition = errors.New("checkout: invalid state transition")

// State is the position of a deposit session in the checkout flow.
type State string

const (
	StateCollectingInfo              State = "collecting_info"
	StateCreatingIntent              State = "creating_intent"
	StateAwaitingPaymentConfirmation State = "awaiting_payment_confirmation"
	StateSucceeded                   State = "succeeded"
	StateFailed                      State = "failed"
)

// Terminal reports whether the state ends an attempt.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Contact is the buyer information collected before payment.
type Contact struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,depositemail"`
	Phone string `json:"phone" validate:"required,depositphone"`
}

// DepositOrder is the refundable deposit a buyer places on one vehicle.
type DepositOrder struct {
	CarID    string  `json:"carId"`
	Contact  Contact `json:"contact"`
	Amount   int64   `json:"amount"`
	Currency string  `json:"currency"`
}

// Session is the authoritative state of one checkout attempt.
type Session struct {
	ID           string       `json:"id"`
	State        State        `json:"state"`
	Order        DepositOrder `json:"order"`
	VehicleTitle string       `json:"vehicleTitle,omitempty"`
	ClientSecret string       `json:"clientSecret,omitempty"`
	IntentID     string       `json:"intentId,omitempty"`
	RedirectURL  string       `json:"redirectUrl,omitempty"`
	LastError    string       `json:"lastError,omitempty"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// NewSession starts a session collecting contact info for carID.
func NewSession(id, carID string, amount int64, currency string, now time.Time) *Session {
	return &Session{
		ID:    id,
		State: StateCollectingInfo,
		Order: DepositOrder{
			CarID:    carID,
			Amount:   amount,
			Currency: currency,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SubmitInfo validates the contact and moves to CreatingIntent. A validation
// failure leaves the session untouched.
func (s *Session) SubmitInfo(contact Contact, validate func(Contact) error, now time.Time) error {
	if err := s.expect(StateCollectingInfo); err != nil {
		return err
	}
	contact = contact.normalized()
	if validate != nil {
		if err := validate(contact); err != nil {
			return err
		}
	}
	s.Order.Contact = contact
	s.LastError = ""
	s.Attempts++
	s.moveTo(StateCreatingIntent, now)
	return nil
}

// IntentCreated records the processor handle and waits for confirmation.
func (s *Session) IntentCreated(clientSecret, intentID string, now time.Time) error {
	if err := s.expect(StateCreatingIntent); err != nil {
		return err
	}
	s.ClientSecret = clientSecret
	s.IntentID = intentID
	s.moveTo(StateAwaitingPaymentConfirmation, now)
	return nil
}

// IntentFailed ends the attempt when the backend could not open an intent.
func (s *Session) IntentFailed(message string, now time.Time) error {
	if err := s.expect(StateCreatingIntent); err != nil {
		return err
	}
	s.LastError = message
	s.moveTo(StateFailed, now)
	return nil
}

// RequiresAction keeps waiting while the buyer completes a processor redirect.
func (s *Session) RequiresAction(redirectURL string, now time.Time) error {
	if err := s.expect(StateAwaitingPaymentConfirmation); err != nil {
		return err
	}
	s.RedirectURL = redirectURL
	s.UpdatedAt = now
	return nil
}

// Confirmed marks the deposit paid.
func (s *Session) Confirmed(now time.Time) error {
	if err := s.expect(StateAwaitingPaymentConfirmation); err != nil {
		return err
	}
	s.RedirectURL = ""
	s.LastError = ""
	s.moveTo(StateSucceeded, now)
	return nil
}

// PaymentFailed records the processor's message verbatim.
func (s *Session) PaymentFailed(message string, now time.Time) error {
	if err := s.expect(StateAwaitingPaymentConfirmation); err != nil {
		return err
	}
	s.LastError = message
	s.moveTo(StateFailed, now)
	return nil
}

// Restart returns a failed attempt to CollectingInfo. The contact details
// are kept so the form can be prefilled.
func (s *Session) Restart(now time.Time) error {
	if err := s.expect(StateFailed); err != nil {
		return err
	}
	s.ClientSecret = ""
	s.IntentID = ""
	s.RedirectURL = ""
	s.moveTo(StateCollectingInfo, now)
	return nil
}

func (s *Session) expect(want State) error {
	if s.State != want {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidTransition, s.State, want)
	}
	return nil
}

func (s *Session) moveTo(next State, now time.Time) {
	s.State = next
	s.UpdatedAt = now
}
