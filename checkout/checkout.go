// Package checkout drives a purchase through order creation, payment
// initiation, the external payment widget and server-side verification.
//
// The cart is cleared exactly once, and only after verification succeeds.
// Every other outcome leaves it intact.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/cart"
	"github.com/jmcleod/emporia/session"
)

var (
	// ErrEmptyCart is returned by Start when there is nothing to buy.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNotAuthenticated is returned by Start when no identity is present.
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrInProgress is returned when an attempt is already in flight.
	ErrInProgress = errors.New("checkout already in progress")
	// ErrPaymentCancelled is returned when the widget was dismissed or the
	// wait for it was abandoned. The cart is kept.
	ErrPaymentCancelled = errors.New("payment cancelled")
	// ErrInvalidState is returned when an operation does not apply to the
	// attempt's current state.
	ErrInvalidState = errors.New("operation not valid in current checkout state")
)

// Backend is the part of the remote API checkout needs.
type Backend interface {
	CreateOrder(ctx context.Context, req api.OrderRequest) (*api.Order, error)
	StartPayment(ctx context.Context, orderID int64) (*api.PaymentIntent, error)
	VerifyPayment(ctx context.Context, v api.PaymentVerification) (*api.Order, error)
}

// Identities reports the logged-in identity.
type Identities interface {
	CurrentIdentity() (session.Identity, bool)
}

// Cart is the cart view checkout reads and clears.
type Cart interface {
	Lines() []cart.Line
	Clear() error
}

// Widget presents a payment intent to the user and resolves the callback
// with the outcome. Open may return before the callback is resolved.
type Widget interface {
	Open(ctx context.Context, intent api.PaymentIntent, cb *Callback) error
}

const (
	defaultVerifyAttempts = 3
	defaultRetryBackoff   = 500 * time.Millisecond
)

// Orchestrator runs at most one checkout attempt at a time.
type Orchestrator struct {
	backend  Backend
	sessions Identities
	cart     Cart
	logger   *zap.Logger

	verifyAttempts int
	retryBackoff   time.Duration

	mu      sync.Mutex
	current *Attempt
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithVerifyAttempts sets how many times verification is sent when the
// transport fails. Values below one are ignored.
func WithVerifyAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.verifyAttempts = n
		}
	}
}

// WithRetryBackoff sets the pause between verification retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryBackoff = d
	}
}

// New creates an orchestrator.
func New(backend Backend, sessions Identities, c Cart, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:        backend,
		sessions:       sessions,
		cart:           c,
		logger:         zap.NewNop(),
		verifyAttempts: defaultVerifyAttempts,
		retryBackoff:   defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "checkout"))
	return o
}

// Current returns the most recent attempt, if it has not been discarded.
func (o *Orchestrator) Current() (*Attempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.current != nil
}

// Discard abandons the current attempt when the user leaves checkout. An
// attempt waiting on the widget is cancelled. An attempt with a request to
// the API in flight, or whose payment was already confirmed, cannot be
// discarded and ErrInProgress is returned.
func (o *Orchestrator) Discard() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.current
	if a == nil {
		return nil
	}

	a.mu.Lock()
	switch a.state {
	case OrderCreating, Verifying:
		a.mu.Unlock()
		return ErrInProgress
	case PaymentPending:
		if !a.callback.Dismiss() && a.callback.result() != nil {
			// Verification is due for the delivered confirmation.
			a.mu.Unlock()
			return ErrInProgress
		}
		if !a.awaiting {
			a.state = Cancelled
			a.err = ErrPaymentCancelled
		}
	}
	a.mu.Unlock()

	o.current = nil
	o.logger.Info("checkout attempt discarded", zap.Stringer("attempt_id", a.ID))
	return nil
}

// Start creates the order and its payment intent. On success the attempt is
// PaymentPending and its Callback should be handed to the widget together
// with the intent.
func (o *Orchestrator) Start(ctx context.Context, shipping api.Shipping) (*Attempt, error) {
	o.mu.Lock()
	if o.current != nil && !o.current.State().Terminal() {
		o.mu.Unlock()
		return nil, ErrInProgress
	}
	if _, ok := o.sessions.CurrentIdentity(); !ok {
		o.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	lines := o.cart.Lines()
	if len(lines) == 0 {
		o.mu.Unlock()
		return nil, ErrEmptyCart
	}
	req := api.OrderRequest{Shipping: shipping, Items: make([]api.OrderItemRequest, 0, len(lines))}
	for _, l := range lines {
		req.Items = append(req.Items, api.OrderItemRequest{ProductID: l.ID, Quantity: l.Quantity})
	}
	if err := req.Validate(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	a := newAttempt()
	a.state = OrderCreating
	o.current = a
	o.mu.Unlock()

	log := o.logger.With(zap.Stringer("attempt_id", a.ID))
	log.Info("creating order", zap.Int("lines", len(req.Items)))

	order, err := o.backend.CreateOrder(ctx, req)
	if err != nil {
		log.Warn("order creation failed", zap.Error(err))
		return a, a.fail(ReasonOrderCreation, err)
	}
	a.mu.Lock()
	a.order = order
	a.mu.Unlock()

	intent, err := o.backend.StartPayment(ctx, order.ID)
	if err != nil {
		log.Warn("payment initiation failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return a, a.fail(ReasonPaymentInitiation, err)
	}
	a.mu.Lock()
	a.intent = intent
	a.state = PaymentPending
	a.mu.Unlock()
	log.Info("payment pending",
		zap.Int64("order_id", order.ID),
		zap.Int64("amount", intent.Amount),
		zap.String("currency", intent.Currency))
	return a, nil
}

// Await blocks until the widget resolves the attempt's callback, then
// verifies a successful payment. Cancelling ctx while waiting abandons the
// attempt as Cancelled.
func (o *Orchestrator) Await(ctx context.Context, a *Attempt) error {
	a.mu.Lock()
	if a.state != PaymentPending {
		s := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: await in state %s", ErrInvalidState, s)
	}
	if a.awaiting {
		a.mu.Unlock()
		return ErrInProgress
	}
	a.awaiting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.awaiting = false
		a.mu.Unlock()
	}()

	log := o.logger.With(zap.Stringer("attempt_id", a.ID))
	select {
	case <-ctx.Done():
		// A callback resolved first keeps its outcome.
		if a.callback.Dismiss() {
			log.Info("payment abandoned", zap.Error(ctx.Err()))
			return a.cancel(fmt.Errorf("%w: %w", ErrPaymentCancelled, context.Cause(ctx)))
		}
	case <-a.callback.Done():
	}

	conf := a.callback.result()
	if conf == nil {
		log.Info("payment dismissed")
		return a.cancel(ErrPaymentCancelled)
	}
	a.mu.Lock()
	a.confirmation = conf
	a.mu.Unlock()
	return o.verify(ctx, a)
}

// RetryVerification re-sends the delivered confirmation after a failed
// verification. The remote API treats repeated deliveries idempotently.
func (o *Orchestrator) RetryVerification(ctx context.Context, a *Attempt) error {
	a.mu.Lock()
	ok := a.state == Failed && a.reason == ReasonVerification && a.confirmation != nil
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: nothing to re-verify", ErrInvalidState)
	}
	return o.verify(ctx, a)
}

func (o *Orchestrator) verify(ctx context.Context, a *Attempt) error {
	a.mu.Lock()
	a.state = Verifying
	a.reason = ""
	a.err = nil
	conf := *a.confirmation
	a.mu.Unlock()

	log := o.logger.With(zap.Stringer("attempt_id", a.ID), zap.String("payment_id", conf.ProviderPaymentID))

	var (
		paid *api.Order
		err  error
	)
	for try := 1; ; try++ {
		paid, err = o.backend.VerifyPayment(ctx, conf)
		var netErr *api.NetworkError
		if err == nil || !errors.As(err, &netErr) || try >= o.verifyAttempts {
			break
		}
		log.Warn("verification transport failure, retrying", zap.Int("attempt", try), zap.Error(err))
		select {
		case <-ctx.Done():
			return a.fail(ReasonVerification, err)
		case <-time.After(o.retryBackoff):
		}
	}
	if err != nil {
		log.Warn("verification failed", zap.Error(err))
		return a.fail(ReasonVerification, err)
	}

	a.mu.Lock()
	a.paid = paid
	a.state = Succeeded
	a.mu.Unlock()

	if err := o.cart.Clear(); err != nil {
		// The payment stands; the lines stay for the user to clear.
		log.Error("clearing cart after payment failed", zap.Error(err))
	}
	log.Info("payment verified", zap.Int64("order_id", paid.ID))
	return nil
}

// Run starts an attempt, opens the widget and waits for its outcome.
func (o *Orchestrator) Run(ctx context.Context, shipping api.Shipping, w Widget) (*Attempt, error) {
	a, err := o.Start(ctx, shipping)
	if err != nil {
		return a, err
	}
	if err := w.Open(ctx, *a.Intent(), a.callback); err != nil {
		if a.callback.Dismiss() {
			return a, a.fail(ReasonWidget, err)
		}
		o.logger.Warn("widget reported an error after resolving", zap.Error(err))
	}
	return a, o.Await(ctx, a)
}
