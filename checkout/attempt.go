package checkout

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jmcleod/emporia/api"
)

// State is the phase of a checkout attempt.
type State int

const (
	Idle State = iota
	OrderCreating
	PaymentPending
	Verifying
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OrderCreating:
		return "order_creating"
	case PaymentPending:
		return "payment_pending"
	case Verifying:
		return "verifying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition happens without an explicit
// retry.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Reason identifies the step a failed attempt stopped at.
type Reason string

const (
	ReasonOrderCreation     Reason = "order_creation"
	ReasonPaymentInitiation Reason = "payment_initiation"
	ReasonWidget            Reason = "widget"
	ReasonVerification      Reason = "verification"
)

// StepError is returned when a step of the attempt fails. It unwraps to the
// underlying API error.
type StepError struct {
	Reason Reason
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("checkout %s failed: %v", e.Reason, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Confirmation is the payment widget's success payload. It is forwarded to
// verification verbatim.
type Confirmation = api.PaymentVerification

// Callback is the single resolution point for a payment widget. Only the
// first of Succeed or Dismiss has any effect.
type Callback struct {
	once         sync.Once
	done         chan struct{}
	confirmation *Confirmation
}

// NewCallback returns an unresolved callback. Attempts create their own; this
// is for driving a Widget directly.
func NewCallback() *Callback {
	return &Callback{done: make(chan struct{})}
}

// Succeed delivers the widget's success values. It reports whether this call
// resolved the callback.
func (c *Callback) Succeed(conf Confirmation) bool {
	resolved := false
	c.once.Do(func() {
		c.confirmation = &conf
		resolved = true
		close(c.done)
	})
	return resolved
}

// Dismiss records that the widget was closed without paying. It reports
// whether this call resolved the callback.
func (c *Callback) Dismiss() bool {
	resolved := false
	c.once.Do(func() {
		resolved = true
		close(c.done)
	})
	return resolved
}

// Done is closed once the callback is resolved.
func (c *Callback) Done() <-chan struct{} {
	return c.done
}

// result returns the confirmation, or nil for a dismissal. Valid after Done.
func (c *Callback) result() *Confirmation {
	return c.confirmation
}

// Attempt is one run through order creation, payment and verification.
type Attempt struct {
	ID       uuid.UUID
	callback *Callback

	mu           sync.Mutex
	state        State
	reason       Reason
	err          error
	awaiting     bool
	order        *api.Order
	intent       *api.PaymentIntent
	confirmation *Confirmation
	paid         *api.Order
}

func newAttempt() *Attempt {
	return &Attempt{
		ID:       uuid.New(),
		callback: NewCallback(),
		state:    Idle,
	}
}

// State returns the current phase.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reason returns the failed step, or "" unless the state is Failed.
func (a *Attempt) Reason() Reason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason
}

// Err returns the error that ended the attempt, if any.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Order returns the created (unpaid) order.
func (a *Attempt) Order() *api.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order
}

// Intent returns the payment intent handed to the widget.
func (a *Attempt) Intent() *api.PaymentIntent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.intent
}

// Confirmation returns the widget's success payload once delivered.
func (a *Attempt) Confirmation() *Confirmation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.confirmation
}

// Paid returns the verified order after success.
func (a *Attempt) Paid() *api.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paid
}

// Callback returns the resolution point to hand to the payment widget.
func (a *Attempt) Callback() *Callback {
	return a.callback
}

func (a *Attempt) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Attempt) fail(reason Reason, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Failed
	a.reason = reason
	a.err = &StepError{Reason: reason, Err: err}
	return a.err
}

func (a *Attempt) cancel(err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Cancelled
	a.reason = ""
	a.err = err
	return err
}
