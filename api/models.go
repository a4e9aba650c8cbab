package api

import (
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
)

// Account roles accepted by registration.
const (
	RoleCustomer = "CUSTOMER"
	RoleSeller   = "SELLER"
)

// Credentials is the JSON body for POST /api/auth/token/.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c Credentials) Validate() error {
	v := violations{}
	if c.Email == "" {
		v.add("email", "This field is required.")
	}
	if c.Password == "" {
		v.add("password", "This field is required.")
	}
	return v.err()
}

// TokenPair is returned from POST /api/auth/token/. Both credentials are
// opaque to the client.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (p TokenPair) Validate() error {
	if p.Access == "" {
		return &ValidationError{Message: "token response is missing the access credential"}
	}
	return nil
}

// RefreshRequest is the JSON body for POST /api/auth/token/refresh/.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse is returned from POST /api/auth/token/refresh/. Refresh is
// only present when the API rotates refresh credentials.
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Registration is the JSON body for POST /api/auth/register/.
type Registration struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
	Role      string `json:"role"`
}

func (r Registration) Validate() error {
	v := violations{}
	if r.Email == "" {
		v.add("email", "This field is required.")
	} else if _, err := mail.ParseAddress(r.Email); err != nil {
		v.add("email", "Enter a valid email address.")
	}
	if strings.TrimSpace(r.Username) == "" {
		v.add("username", "This field is required.")
	}
	if r.Password == "" {
		v.add("password", "This field is required.")
	}
	if r.Password != r.Password2 {
		v.add("password2", "Passwords do not match.")
	}
	switch r.Role {
	case "", RoleCustomer, RoleSeller:
	default:
		v.add("role", "%q is not a valid choice.", r.Role)
	}
	return v.err()
}

// Account is returned from POST /api/auth/register/.
type Account struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Category is one entry of GET /api/categories/.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Product is a catalog entry from GET /api/products/ and
// GET /api/products/{slug}/.
type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Slug         string          `json:"slug"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	Image        string          `json:"image"`
	Category     *int64          `json:"category"`
	CategoryName string          `json:"category_name"`
	Seller       int64           `json:"seller"`
	SellerName   string          `json:"seller_name"`
}

func (p Product) Validate() error {
	v := violations{}
	if p.ID <= 0 {
		v.add("id", "must be positive")
	}
	if p.Slug == "" {
		v.add("slug", "must not be empty")
	}
	if p.Price.IsNegative() {
		v.add("price", "must not be negative")
	}
	if p.Stock < 0 {
		v.add("stock", "must not be negative")
	}
	return v.err()
}

// Shipping holds the checkout form fields.
type Shipping struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

func (s Shipping) Validate() error {
	v := violations{}
	required := []struct{ name, value string }{
		{"first_name", s.FirstName},
		{"last_name", s.LastName},
		{"email", s.Email},
		{"address", s.Address},
		{"city", s.City},
		{"postal_code", s.PostalCode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			v.add(f.name, "This field is required.")
		}
	}
	if s.Email != "" {
		if _, err := mail.ParseAddress(s.Email); err != nil {
			v.add("email", "Enter a valid email address.")
		}
	}
	return v.err()
}

// OrderItemRequest is one line of an order creation request. Only the
// product id and quantity are sent; the API prices the line itself.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderRequest is the JSON body for POST /api/orders/create/.
type OrderRequest struct {
	Shipping
	Items []OrderItemRequest `json:"items"`
}

func (r OrderRequest) Validate() error {
	if err := r.Shipping.Validate(); err != nil {
		return err
	}
	if len(r.Items) == 0 {
		return &ValidationError{Message: "order has no items"}
	}
	v := violations{}
	seen := make(map[int64]bool, len(r.Items))
	for _, it := range r.Items {
		if it.ProductID <= 0 {
			v.add("items", "product id %d is invalid", it.ProductID)
		}
		if it.Quantity < 1 {
			v.add("items", "quantity for product %d must be at least 1", it.ProductID)
		}
		if seen[it.ProductID] {
			v.add("items", "product %d appears more than once", it.ProductID)
		}
		seen[it.ProductID] = true
	}
	return v.err()
}

// OrderItem is a priced line of a created order.
type OrderItem struct {
	ID       int64           `json:"id"`
	Product  *Product        `json:"product"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Order is returned from order creation and payment verification.
type Order struct {
	ID              int64           `json:"id"`
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Email           string          `json:"email"`
	Address         string          `json:"address"`
	PostalCode      string          `json:"postal_code"`
	City            string          `json:"city"`
	Items           []OrderItem     `json:"items"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	CustomerEmail   string          `json:"customer_email"`
	Paid            bool            `json:"paid"`
	ProviderOrderID string          `json:"razorpay_order_id,omitempty"`
}

func (o Order) Validate() error {
	if o.ID <= 0 {
		return &ValidationError{Message: "order response is missing the order id"}
	}
	return nil
}

// PaymentRequest is the JSON body for POST /api/orders/pay/.
type PaymentRequest struct {
	OrderID int64 `json:"order_id"`
}

// PaymentIntent is returned from POST /api/orders/pay/. Amount is in the
// currency's minor unit.
type PaymentIntent struct {
	ProviderOrderID string `json:"razorpay_order_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Key             string `json:"key"`
}

func (p PaymentIntent) Validate() error {
	v := violations{}
	if p.ProviderOrderID == "" {
		v.add("razorpay_order_id", "must not be empty")
	}
	if p.Amount <= 0 {
		v.add("amount", "must be positive")
	}
	if p.Currency == "" {
		v.add("currency", "must not be empty")
	}
	return v.err()
}

// PaymentVerification carries the widget's success callback values verbatim
// to POST /api/orders/verify-payment/.
type PaymentVerification struct {
	ProviderOrderID   string `json:"razorpay_order_id"`
	ProviderPaymentID string `json:"razorpay_payment_id"`
	Signature         string `json:"razorpay_signature"`
}

func (p PaymentVerification) Validate() error {
	v := violations{}
	if p.ProviderOrderID == "" {
		v.add("razorpay_order_id", "must not be empty")
	}
	if p.ProviderPaymentID == "" {
		v.add("razorpay_payment_id", "must not be empty")
	}
	if p.Signature == "" {
		v.add("razorpay_signature", "must not be empty")
	}
	return v.err()
}
