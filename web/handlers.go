package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/checkout"
	"github.com/jmcleod/emporia/guard"
	"github.com/jmcleod/emporia/internal/util"
)

const maxBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail writes err. A protected call rejected for an expired or invalid token
// drops the session and sends the user to the login view.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if api.IsExpiredToken(err) || errors.Is(err, checkout.ErrNotAuthenticated) {
		s.sessions.Invalidate()
		writeRedirect(w, &guard.Redirect{To: guard.Login, Replace: true})
		return
	}
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func (s *Server) cartView() CartView {
	return CartView{
		Lines:      s.cart.Lines(),
		TotalCount: s.cart.TotalCount(),
		TotalValue: s.cart.TotalValue(),
	}
}

func (s *Server) sessionView() SessionView {
	id, ok := s.sessions.CurrentIdentity()
	if !ok {
		return SessionView{}
	}
	return SessionView{LoggedIn: true, Identity: &id}
}

// Catalog lists products and categories.
func (s *Server) Catalog(w http.ResponseWriter, r *http.Request) {
	var (
		products   []api.Product
		categories []api.Category
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		products, err = s.catalog.Products(ctx)
		return err
	})
	g.Go(func() (err error) {
		categories, err = s.catalog.Categories(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CatalogView{
		Products:   products,
		Categories: categories,
		CartCount:  s.cart.TotalCount(),
	})
}

// Product shows one catalog entry.
func (s *Server) Product(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalog.Product(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) Cart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cartView())
}

// AddItem looks the product up by slug and adds it to the cart.
func (s *Server) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	p, err := s.catalog.Product(r.Context(), req.Slug)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.cart.AddItem(*p, req.Quantity); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cartView())
}

func productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

func (s *Server) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req UpdateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.cart.UpdateQuantity(id, req.Quantity); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cartView())
}

func (s *Server) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	if err := s.cart.RemoveItem(id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cartView())
}

func (s *Server) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := s.cart.Clear(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cartView())
}

func (s *Server) LoginView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

// Login authenticates with the remote API. Repeated failures for one email
// are throttled locally.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if !decodeBody(w, r, &creds) {
		return
	}
	key := util.NormalizeEmail(creds.Email)
	if blocked, retryAfter := s.logins.check(key); blocked {
		s.metrics.loginThrottled.Inc()
		writeRateLimited(w, retryAfter)
		return
	}
	_, err := s.sessions.Login(r.Context(), creds)
	if err != nil {
		var authErr *api.AuthenticationError
		if errors.As(err, &authErr) {
			s.logins.recordFailure(key)
			s.metrics.loginFailures.Inc()
		}
		s.fail(w, r, err)
		return
	}
	s.logins.recordSuccess(key)
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var reg api.Registration
	if !decodeBody(w, r, &reg) {
		return
	}
	acct, err := s.sessions.Register(r.Context(), reg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) CheckoutView(w http.ResponseWriter, r *http.Request) {
	v := CheckoutView{Cart: s.cartView()}
	if a, ok := s.checkout.Current(); ok {
		v.Attempt = newAttemptView(a)
	}
	writeJSON(w, http.StatusOK, v)
}

// StartCheckout creates the order and payment intent. The response carries
// what the payment widget needs.
func (s *Server) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var shipping api.Shipping
	if !decodeBody(w, r, &shipping) {
		return
	}
	a, err := s.checkout.Start(r.Context(), shipping)
	if err != nil {
		s.failAttempt(w, r, a, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttemptView(a))
}

// DiscardCheckout abandons the current attempt when the user navigates away
// from checkout. The cart is kept.
func (s *Server) DiscardCheckout(w http.ResponseWriter, r *http.Request) {
	a, _ := s.checkout.Current()
	if err := s.checkout.Discard(); err != nil {
		s.failAttempt(w, r, a, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutView{Cart: s.cartView()})
}

// ConfirmPayment delivers the widget's success values and verifies them.
func (s *Server) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var conf checkout.Confirmation
	if !decodeBody(w, r, &conf) {
		return
	}
	a, ok := s.checkout.Current()
	if !ok {
		s.fail(w, r, checkout.ErrInvalidState)
		return
	}
	if !a.Callback().Succeed(conf) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "payment already resolved", Attempt: newAttemptView(a)})
		return
	}
	if err := s.checkout.Await(r.Context(), a); err != nil {
		s.failAttempt(w, r, a, err)
		return
	}
	s.recordOutcome(a)
	writeJSON(w, http.StatusOK, newAttemptView(a))
}

// DismissPayment records that the widget was closed without paying.
func (s *Server) DismissPayment(w http.ResponseWriter, r *http.Request) {
	a, ok := s.checkout.Current()
	if !ok {
		s.fail(w, r, checkout.ErrInvalidState)
		return
	}
	a.Callback().Dismiss()
	err := s.checkout.Await(r.Context(), a)
	if err != nil && !errors.Is(err, checkout.ErrPaymentCancelled) {
		s.failAttempt(w, r, a, err)
		return
	}
	s.recordOutcome(a)
	writeJSON(w, http.StatusOK, newAttemptView(a))
}

func (s *Server) RetryVerification(w http.ResponseWriter, r *http.Request) {
	a, ok := s.checkout.Current()
	if !ok {
		s.fail(w, r, checkout.ErrInvalidState)
		return
	}
	if err := s.checkout.RetryVerification(r.Context(), a); err != nil {
		s.failAttempt(w, r, a, err)
		return
	}
	s.recordOutcome(a)
	writeJSON(w, http.StatusOK, newAttemptView(a))
}

// Confirmation shows the order paid by the most recent attempt.
func (s *Server) Confirmation(w http.ResponseWriter, r *http.Request) {
	a, ok := s.checkout.Current()
	if !ok || a.State() != checkout.Succeeded {
		writeError(w, http.StatusNotFound, "no completed order")
		return
	}
	writeJSON(w, http.StatusOK, ConfirmationView{Order: a.Paid()})
}

// recordOutcome counts an attempt that reached a terminal state.
func (s *Server) recordOutcome(a *checkout.Attempt) {
	if a == nil || !a.State().Terminal() {
		return
	}
	s.metrics.checkoutResults.WithLabelValues(a.State().String(), string(a.Reason())).Inc()
}

func (s *Server) failAttempt(w http.ResponseWriter, r *http.Request, a *checkout.Attempt, err error) {
	s.recordOutcome(a)
	if api.IsExpiredToken(err) || errors.Is(err, checkout.ErrNotAuthenticated) {
		s.fail(w, r, err)
		return
	}
	status, body := errorResponse(err)
	body.Attempt = newAttemptView(a)
	writeJSON(w, status, body)
}
