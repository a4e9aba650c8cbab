package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/cart"
	"github.com/jmcleod/emporia/checkout"
	"github.com/jmcleod/emporia/guard"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeRedirect(w http.ResponseWriter, to *guard.Redirect) {
	w.Header().Set("Location", "/"+string(to.To))
	writeJSON(w, http.StatusSeeOther, to)
}

// errorResponse maps err onto an HTTP status and response body.
func errorResponse(err error) (int, ErrorResponse) {
	var (
		validation *api.ValidationError
		authErr    *api.AuthenticationError
		netErr     *api.NetworkError
		remote     *api.RemoteError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{Error: validation.Message, Fields: validation.Fields}
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, cart.ErrQuantityOverflow):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, ErrorResponse{Error: authErr.Message}
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error()}
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInProgress),
		errors.Is(err, checkout.ErrInvalidState):
		return http.StatusConflict, ErrorResponse{Error: err.Error()}
	case errors.As(err, &netErr):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "the store is unreachable; try again", Retry: true}
	case errors.As(err, &remote):
		return http.StatusBadGateway, ErrorResponse{Error: remote.Message}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error()}
	}
}
