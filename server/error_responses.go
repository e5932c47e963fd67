// Helpers for building various types of error responses.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Pingpayio/ping-subscription-service/rest"
	"github.com/Pingpayio/ping-subscription-service/services"
)

func new404(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:      "Resource not found",
		ID:         "not_found",
		Instance:   r.URL.Path,
		StatusCode: 404,
	}
}

func new401(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:      "Unauthorized. Please include your API credentials",
		ID:         "unauthorized",
		Instance:   r.URL.Path,
		StatusCode: 401,
	}
}

func invalidJSONErr(path string) *rest.Error {
	return &rest.Error{
		ID:       "invalid_request",
		Title:    "Invalid request: bad JSON. Double check the types of the fields you sent",
		Instance: path,
	}
}

func notFound(w http.ResponseWriter, err *rest.Error) {
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(err)
}

func badRequest(w http.ResponseWriter, r *http.Request, err *rest.Error) {
	log.Info().Str("method", r.Method).Str("path", r.URL.Path).Str("error", err.Error()).Msg("400")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(err)
}

func authenticate(w http.ResponseWriter, err *rest.Error) {
	w.Header().Set("WWW-Authenticate", "Basic realm=\"ping-subscription-service\"")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(err)
}

func forbidden(w http.ResponseWriter, err *rest.Error) {
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(err)
}

var serverError = rest.Error{
	StatusCode: http.StatusInternalServerError,
	ID:         "server_error",
	Title:      "Unexpected server error. Please try again",
}

// writeServerError logs the provided error, and returns a generic server
// error message to the client.
func writeServerError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("500")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(serverError)
}

// writeServiceError translates a services-layer error into the right HTTP
// response: NotFound to 404, ValidationError to 400 with field detail,
// anything else to a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch terr := err.(type) {
	case *services.ValidationError:
		badRequest(w, r, &rest.Error{
			ID:       "invalid_parameter",
			Title:    terr.Error(),
			Instance: r.URL.Path,
			Fields:   terr.Fields,
		})
	default:
		if isNotFound(err) {
			notFound(w, new404(r))
			return
		}
		writeServerError(w, r, err)
	}
}
