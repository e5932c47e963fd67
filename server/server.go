// Package server provides the HTTP interface for the job scheduler.
package server

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"

	types "github.com/Shyp/go-types"
	"github.com/go-chi/chi/v5"

	"github.com/Pingpayio/ping-subscription-service/config"
	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/rest"
)

// The maximum data size that can be sent in the body of a HTTP request.
const maxRequestBodySize = 100 * 1024

// Get returns a http.Handler with all routes initialized using the given
// Authorizer. The health check is the only unauthenticated route.
func Get(a Authorizer) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(authHandler(a))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", createJob)
			r.Get("/", listJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getJob)
				r.Put("/", updateJob)
				r.Delete("/", deleteJob)
				r.Patch("/status", patchJobStatus)
				r.Post("/run", runJobNow)
			})
		})

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", listDeadLetterJobs)
			r.Post("/{id}/reactivate", reactivateDeadLetterJob)
			r.Post("/{id}/complete", completeDeadLetterJob)
		})

		r.Get("/debug/pprof/", pprof.Index)
		r.Get("/debug/pprof/cmdline", pprof.Cmdline)
		r.Get("/debug/pprof/profile", pprof.Profile)
		r.Get("/debug/pprof/symbol", pprof.Symbol)
		r.Get("/debug/pprof/trace", pprof.Trace)
	})

	return serverHeaderHandler(r)
}

func serverHeaderHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/debug/pprof") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		w.Header().Set("Server", fmt.Sprintf("ping-subscription-service/%s", config.Version))
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		h.ServeHTTP(w, r)
	})
}

func authHandler(a Authorizer) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userId, token, ok := r.BasicAuth()
			if !ok {
				authenticate(w, new401(r))
				return
			}
			if err := a.Authorize(userId, token); err != nil {
				handleAuthorizeError(w, r, err)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

// getId validates that the id path parameter is a valid UUID carrying the
// job prefix. Returns the parsed id, and a boolean describing whether the
// helper has written a response.
func getId(w http.ResponseWriter, r *http.Request) (types.PrefixUUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := types.NewPrefixUUID(idStr)
	if err != nil {
		badRequest(w, r, &rest.Error{
			ID:    "invalid_uuid",
			Title: strings.Replace(err.Error(), "types: ", "", 1),
		})
		return id, true
	}
	if id.Prefix != models.Prefix {
		badRequest(w, r, &rest.Error{
			ID:    "invalid_prefix",
			Title: fmt.Sprintf("Please use %s for the uuid prefix, not %s", models.Prefix, id.Prefix),
		})
		return id, true
	}
	return id, false
}
