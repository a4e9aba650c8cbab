// Package guard decides whether a navigable view may be rendered for the
// current identity.
package guard

import "github.com/jmcleod/emporia/session"

// View names a navigable view.
type View string

const (
	Catalog      View = "catalog"
	Product      View = "product"
	Cart         View = "cart"
	Login        View = "login"
	Register     View = "register"
	Checkout     View = "checkout"
	Confirmation View = "confirmation"
)

var public = map[View]bool{
	Catalog:  true,
	Product:  true,
	Cart:     true,
	Login:    true,
	Register: true,
}

// Restricted reports whether v requires an identity. Unknown views are
// restricted.
func (v View) Restricted() bool {
	return !public[v]
}

// Decision is the outcome of a navigation check.
type Decision struct {
	// Redirect is set when the view must not be rendered.
	Redirect *Redirect
}

// Render reports whether the requested view may be shown.
func (d Decision) Render() bool {
	return d.Redirect == nil
}

// Redirect sends the user elsewhere. Replace means the redirect replaces the
// current history entry instead of pushing a new one.
type Redirect struct {
	To      View `json:"redirect"`
	Replace bool `json:"replace"`
}

// Decide returns Render for public views and for restricted views when an
// identity is present, and a replacing redirect to the login view otherwise.
func Decide(identity *session.Identity, view View) Decision {
	if !view.Restricted() || identity != nil {
		return Decision{}
	}
	return Decision{Redirect: &Redirect{To: Login, Replace: true}}
}
