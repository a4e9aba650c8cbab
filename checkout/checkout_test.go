package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/cart"
	"github.com/jmcleod/emporia/session"
	"github.com/jmcleod/emporia/storage"
	"github.com/jmcleod/emporia/storage/memory"
)

type fakeBackend struct {
	mu         sync.Mutex
	orders     []api.OrderRequest
	payments   []int64
	verifies   []api.PaymentVerification
	orderErr   error
	paymentErr error
	verifyErrs []error

	// When set, CreateOrder signals entered and blocks until release closes.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeBackend) CreateOrder(_ context.Context, req api.OrderRequest) (*api.Order, error) {
	if f.release != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return &api.Order{ID: 41, TotalCost: decimal.RequireFromString("20.00")}, nil
}

func (f *fakeBackend) StartPayment(_ context.Context, orderID int64) (*api.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, orderID)
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	return &api.PaymentIntent{ProviderOrderID: "order_P1", Amount: 2000, Currency: "INR", Key: "rzp_test"}, nil
}

func (f *fakeBackend) VerifyPayment(_ context.Context, v api.PaymentVerification) (*api.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies = append(f.verifies, v)
	if len(f.verifyErrs) > 0 {
		err := f.verifyErrs[0]
		f.verifyErrs = f.verifyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &api.Order{ID: 41, Paid: true}, nil
}

type identities struct{ loggedIn bool }

func (i identities) CurrentIdentity() (session.Identity, bool) {
	if !i.loggedIn {
		return session.Identity{}, false
	}
	return session.Identity{UserID: "7", Username: "ada"}, true
}

// countingCart records how often the cart is cleared.
type countingCart struct {
	*cart.Manager
	clears int
}

func (c *countingCart) Clear() error {
	c.clears++
	return c.Manager.Clear()
}

func shipping() api.Shipping {
	return api.Shipping{
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Email:      "ada@example.com",
		Address:    "12 Analytical St",
		City:       "London",
		PostalCode: "N1 9GU",
	}
}

var success = Confirmation{ProviderOrderID: "order_P1", ProviderPaymentID: "pay_9", Signature: "sig"}

type fixture struct {
	backend *fakeBackend
	cart    *countingCart
	orch    *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	c := &countingCart{Manager: cart.NewManager(memory.New())}
	require.NoError(t, c.AddItem(api.Product{ID: 1, Name: "Mug", Slug: "mug", Price: decimal.RequireFromString("10.00"), Stock: 5}, 2))
	b := &fakeBackend{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithRetryBackoff(time.Millisecond)}, opts...)
	return &fixture{
		backend: b,
		cart:    c,
		orch:    New(b, identities{loggedIn: true}, c, opts...),
	}
}

// widgetFunc adapts a function to Widget.
type widgetFunc func(ctx context.Context, intent api.PaymentIntent, cb *Callback) error

func (f widgetFunc) Open(ctx context.Context, intent api.PaymentIntent, cb *Callback) error {
	return f(ctx, intent, cb)
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)

	var seen api.PaymentIntent
	a, err := f.orch.Run(t.Context(), shipping(), widgetFunc(func(_ context.Context, intent api.PaymentIntent, cb *Callback) error {
		seen = intent
		cb.Succeed(success)
		return nil
	}))
	require.NoError(t, err)

	assert.Equal(t, Succeeded, a.State())
	require.Len(t, f.backend.orders, 1)
	assert.Equal(t, []api.OrderItemRequest{{ProductID: 1, Quantity: 2}}, f.backend.orders[0].Items)
	assert.Equal(t, "Ada", f.backend.orders[0].FirstName)
	assert.Equal(t, []int64{41}, f.backend.payments)
	assert.Equal(t, "order_P1", seen.ProviderOrderID)
	assert.Equal(t, int64(2000), seen.Amount)
	assert.Equal(t, []api.PaymentVerification{success}, f.backend.verifies)
	assert.True(t, a.Paid().Paid)
	assert.Equal(t, 1, f.cart.clears)
	assert.Zero(t, f.cart.Len())
}

func TestPreconditions(t *testing.T) {
	t.Run("not authenticated", func(t *testing.T) {
		f := newFixture(t)
		o := New(f.backend, identities{}, f.cart)
		_, err := o.Start(t.Context(), shipping())
		assert.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Empty(t, f.backend.orders)
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.cart.Manager.Clear())
		_, err := f.orch.Start(t.Context(), shipping())
		assert.ErrorIs(t, err, ErrEmptyCart)
		assert.Empty(t, f.backend.orders)
	})

	t.Run("invalid shipping", func(t *testing.T) {
		f := newFixture(t)
		s := shipping()
		s.PostalCode = " "
		_, err := f.orch.Start(t.Context(), s)
		var ve *api.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.NotEmpty(t, ve.Field("postal_code"))
		assert.Empty(t, f.backend.orders)
		_, ok := f.orch.Current()
		assert.False(t, ok)
	})
}

func TestDismissKeepsCart(t *testing.T) {
	f := newFixture(t)
	a, err := f.orch.Start(t.Context(), shipping())
	require.NoError(t, err)
	require.Equal(t, PaymentPending, a.State())

	a.Callback().Dismiss()
	err = f.orch.Await(t.Context(), a)
	assert.ErrorIs(t, err, ErrPaymentCancelled)
	assert.Equal(t, Cancelled, a.State())
	assert.Empty(t, f.backend.verifies)
	assert.Equal(t, 0, f.cart.clears)
	assert.Equal(t, 2, f.cart.TotalCount())
}

func TestContextCancelWhileWaiting(t *testing.T) {
	f := newFixture(t)
	a, err := f.orch.Start(t.Context(), shipping())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err = f.orch.Await(ctx, a)
	assert.ErrorIs(t, err, ErrPaymentCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Cancelled, a.State())
	assert.Equal(t, 2, f.cart.TotalCount())

	// A late widget success is ignored.
	assert.False(t, a.Callback().Succeed(success))
	assert.Empty(t, f.backend.verifies)
}

func TestStepFailures(t *testing.T) {
	t.Run("order creation", func(t *testing.T) {
		f := newFixture(t)
		f.backend.orderErr = &api.ValidationError{Message: "Product Mug is out of stock"}
		a, err := f.orch.Start(t.Context(), shipping())
		var se *StepError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ReasonOrderCreation, se.Reason)
		var ve *api.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, Failed, a.State())
		assert.Equal(t, ReasonOrderCreation, a.Reason())
		assert.Empty(t, f.backend.payments)
		assert.Equal(t, 2, f.cart.TotalCount())
	})

	t.Run("payment initiation", func(t *testing.T) {
		f := newFixture(t)
		f.backend.paymentErr = &api.RemoteError{Status: 502, Message: "Gateway unavailable"}
		a, err := f.orch.Start(t.Context(), shipping())
		require.Error(t, err)
		assert.Equal(t, Failed, a.State())
		assert.Equal(t, ReasonPaymentInitiation, a.Reason())
		assert.Equal(t, int64(41), a.Order().ID)
		assert.Equal(t, 2, f.cart.TotalCount())
	})

	t.Run("verification rejected", func(t *testing.T) {
		f := newFixture(t)
		f.backend.verifyErrs = []error{&api.ValidationError{Message: "Invalid payment signature"}}
		a, err := f.orch.Start(t.Context(), shipping())
		require.NoError(t, err)
		a.Callback().Succeed(success)
		err = f.orch.Await(t.Context(), a)
		require.Error(t, err)
		assert.Equal(t, Failed, a.State())
		assert.Equal(t, ReasonVerification, a.Reason())
		assert.Len(t, f.backend.verifies, 1, "validation failures are not retried")
		assert.Equal(t, 0, f.cart.clears)
		assert.Equal(t, &success, a.Confirmation())
	})

	t.Run("widget error", func(t *testing.T) {
		f := newFixture(t)
		a, err := f.orch.Run(t.Context(), shipping(), widgetFunc(func(context.Context, api.PaymentIntent, *Callback) error {
			return errors.New("widget script failed to load")
		}))
		require.Error(t, err)
		assert.Equal(t, ReasonWidget, a.Reason())
		assert.Equal(t, 2, f.cart.TotalCount())
	})
}

func TestVerificationRetries(t *testing.T) {
	netErr := &api.NetworkError{Op: "verify payment", Err: errors.New("connection reset")}

	t.Run("transient transport failures", func(t *testing.T) {
		f := newFixture(t, WithVerifyAttempts(3))
		f.backend.verifyErrs = []error{netErr, netErr}
		a, err := f.orch.Start(t.Context(), shipping())
		require.NoError(t, err)
		a.Callback().Succeed(success)
		require.NoError(t, f.orch.Await(t.Context(), a))
		assert.Equal(t, Succeeded, a.State())
		assert.Equal(t, []api.PaymentVerification{success, success, success}, f.backend.verifies)
		assert.Equal(t, 1, f.cart.clears)
	})

	t.Run("manual retry after exhaustion", func(t *testing.T) {
		f := newFixture(t, WithVerifyAttempts(2))
		f.backend.verifyErrs = []error{netErr, netErr}
		a, err := f.orch.Start(t.Context(), shipping())
		require.NoError(t, err)
		a.Callback().Succeed(success)
		err = f.orch.Await(t.Context(), a)
		var ne *api.NetworkError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, ReasonVerification, a.Reason())

		require.NoError(t, f.orch.RetryVerification(t.Context(), a))
		assert.Equal(t, Succeeded, a.State())
		assert.Len(t, f.backend.verifies, 3)
		assert.Equal(t, 1, f.cart.clears)

		assert.ErrorIs(t, f.orch.RetryVerification(t.Context(), a), ErrInvalidState)
		assert.Equal(t, 1, f.cart.clears)
	})
}

func TestSingleAttemptInFlight(t *testing.T) {
	f := newFixture(t)
	a, err := f.orch.Start(t.Context(), shipping())
	require.NoError(t, err)

	_, err = f.orch.Start(t.Context(), shipping())
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Len(t, f.backend.orders, 1)

	cur, ok := f.orch.Current()
	require.True(t, ok)
	assert.Same(t, a, cur)

	require.NoError(t, f.orch.Discard())
	assert.Equal(t, Cancelled, a.State())
	_, ok = f.orch.Current()
	assert.False(t, ok)

	b, err := f.orch.Start(t.Context(), shipping())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDiscardDuringOrderCreation(t *testing.T) {
	f := newFixture(t)
	f.backend.entered = make(chan struct{}, 1)
	f.backend.release = make(chan struct{})

	type started struct {
		a   *Attempt
		err error
	}
	done := make(chan started, 1)
	go func() {
		a, err := f.orch.Start(t.Context(), shipping())
		done <- started{a, err}
	}()
	<-f.backend.entered

	assert.ErrorIs(t, f.orch.Discard(), ErrInProgress)
	_, err := f.orch.Start(t.Context(), shipping())
	assert.ErrorIs(t, err, ErrInProgress)

	close(f.backend.release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, PaymentPending, first.a.State())
	assert.Len(t, f.backend.orders, 1)

	// Once the API step returns the attempt can be abandoned.
	require.NoError(t, f.orch.Discard())
	assert.Equal(t, Cancelled, first.a.State())
}

func TestDiscardAfterConfirmation(t *testing.T) {
	f := newFixture(t)
	a, err := f.orch.Start(t.Context(), shipping())
	require.NoError(t, err)
	require.True(t, a.Callback().Succeed(success))

	assert.ErrorIs(t, f.orch.Discard(), ErrInProgress)
	cur, ok := f.orch.Current()
	require.True(t, ok)
	assert.Same(t, a, cur)

	require.NoError(t, f.orch.Await(t.Context(), a))
	assert.Equal(t, Succeeded, a.State())
	require.NoError(t, f.orch.Discard())
	_, ok = f.orch.Current()
	assert.False(t, ok)
}

func TestDiscardWhileAwaiting(t *testing.T) {
	f := newFixture(t)
	a, err := f.orch.Start(t.Context(), shipping())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- f.orch.Await(t.Context(), a) }()
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.awaiting
	}, time.Second, time.Millisecond)

	require.NoError(t, f.orch.Discard())
	assert.ErrorIs(t, <-errc, ErrPaymentCancelled)
	assert.Equal(t, Cancelled, a.State())
	assert.Empty(t, f.backend.verifies)
	assert.Zero(t, f.cart.clears)
}

func TestAwaitPrefersResolvedCallback(t *testing.T) {
	// With both the callback and ctx ready, the delivered confirmation is
	// still verified. Repeat to cover select's random choice.
	for range 20 {
		f := newFixture(t)
		a, err := f.orch.Start(t.Context(), shipping())
		require.NoError(t, err)
		require.True(t, a.Callback().Succeed(success))

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		require.NoError(t, f.orch.Await(ctx, a))
		assert.Equal(t, Succeeded, a.State())
		assert.Len(t, f.backend.verifies, 1)
	}
}

func TestDuplicateCallbacks(t *testing.T) {
	f := newFixture(t)
	a, err := f.orch.Start(t.Context(), shipping())
	require.NoError(t, err)

	var wg sync.WaitGroup
	resolved := make(chan bool, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolved <- a.Callback().Succeed(success)
		}()
	}
	wg.Wait()
	close(resolved)
	n := 0
	for r := range resolved {
		if r {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.False(t, a.Callback().Dismiss())

	require.NoError(t, f.orch.Await(t.Context(), a))
	assert.Len(t, f.backend.verifies, 1)
	assert.Equal(t, 1, f.cart.clears)

	assert.ErrorIs(t, f.orch.Await(t.Context(), a), ErrInvalidState)
	assert.Equal(t, 1, f.cart.clears)
}

func TestCartClearFailureStillSucceeds(t *testing.T) {
	c := cart.NewManager(&readOnlyStore{Store: memory.New()})
	b := &fakeBackend{}
	o := New(b, identities{loggedIn: true}, &staticCart{Manager: c, lines: []cart.Line{{ID: 1, Quantity: 1, Price: decimal.NewFromInt(5)}}})
	a, err := o.Start(t.Context(), shipping())
	require.NoError(t, err)
	a.Callback().Succeed(success)
	require.NoError(t, o.Await(t.Context(), a))
	assert.Equal(t, Succeeded, a.State())
}

type readOnlyStore struct{ storage.Store }

func (readOnlyStore) Set(string, string) error { return errors.New("read-only") }

type staticCart struct {
	*cart.Manager
	lines []cart.Line
}

func (s *staticCart) Lines() []cart.Line { return s.lines }
