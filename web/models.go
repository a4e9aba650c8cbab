package web

import (
	"github.com/shopspring/decimal"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/cart"
	"github.com/jmcleod/emporia/checkout"
	"github.com/jmcleod/emporia/session"
)

// ErrorResponse is the body of every non-success response.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Fields  map[string][]string `json:"fields,omitempty"`
	Retry   bool                `json:"retry,omitempty"`
	Attempt *AttemptView        `json:"attempt,omitempty"`
}

// SessionView describes who is logged in.
type SessionView struct {
	LoggedIn bool              `json:"logged_in"`
	Identity *session.Identity `json:"identity,omitempty"`
}

// CatalogView is the product listing.
type CatalogView struct {
	Products   []api.Product  `json:"products"`
	Categories []api.Category `json:"categories"`
	CartCount  int            `json:"cart_count"`
}

// CartView is the cart with its derived totals.
type CartView struct {
	Lines      []cart.Line     `json:"lines"`
	TotalCount int             `json:"total_count"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// AddItemRequest is the body of POST /cart/items.
type AddItemRequest struct {
	Slug     string `json:"slug"`
	Quantity int    `json:"quantity"`
}

// UpdateItemRequest is the body of PUT /cart/items/{productID}.
type UpdateItemRequest struct {
	Quantity int `json:"quantity"`
}

// AttemptView is the externally visible state of a checkout attempt.
type AttemptView struct {
	ID      string             `json:"id"`
	State   string             `json:"state"`
	Reason  string             `json:"reason,omitempty"`
	Error   string             `json:"error,omitempty"`
	OrderID int64              `json:"order_id,omitempty"`
	Intent  *api.PaymentIntent `json:"payment,omitempty"`
}

// CheckoutView is the checkout page: what is being bought and the attempt
// in flight, if any.
type CheckoutView struct {
	Cart    CartView     `json:"cart"`
	Attempt *AttemptView `json:"attempt,omitempty"`
}

// ConfirmationView shows the paid order.
type ConfirmationView struct {
	Order *api.Order `json:"order"`
}

func newAttemptView(a *checkout.Attempt) *AttemptView {
	if a == nil {
		return nil
	}
	v := &AttemptView{
		ID:     a.ID.String(),
		State:  a.State().String(),
		Reason: string(a.Reason()),
		Intent: a.Intent(),
	}
	if o := a.Order(); o != nil {
		v.OrderID = o.ID
	}
	if err := a.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}
