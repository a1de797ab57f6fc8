package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes wires the admin API and health check on any host, and the
// gated site routes on "{brand}.{domain}".
func RegisterRoutes(r *mux.Router, domain string, ah *AdminHandler, ph *PublicHandler) {
	r.NotFoundHandler = notFoundHandler()
	r.MethodNotAllowedHandler = methodNotAllowedHandler()

	r.HandleFunc("/_health", HandleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/_api").Subrouter()
	api.Use(ah.Authenticate)
	api.HandleFunc("/sites", ah.List).Methods(http.MethodGet)
	api.HandleFunc("/sites/{brand}/{name}", ah.Publish).Methods(http.MethodPost)
	api.HandleFunc("/sites/{brand}/{name}", ah.Update).Methods(http.MethodPut)
	api.HandleFunc("/sites/{brand}/{name}", ah.Get).Methods(http.MethodGet)
	api.HandleFunc("/sites/{brand}/{name}", ah.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/sites/{brand}/{name}/files", ah.Download).Methods(http.MethodGet)
	api.HandleFunc("/sites/{brand}/{name}/password", ah.RotatePassword).Methods(http.MethodPost)
	api.HandleFunc("/keys", ah.CreateKey).Methods(http.MethodPost)
	api.HandleFunc("/keys/{id}", ah.RevokeKey).Methods(http.MethodDelete)

	tenant := r.Host("{brand}." + domain).Subrouter()
	tenant.HandleFunc("/{site}", ph.RedirectToSlash).Methods(http.MethodGet, http.MethodHead)
	tenant.HandleFunc("/{site}/_login", ph.LoginPage).Methods(http.MethodGet)
	tenant.HandleFunc("/{site}/_login", ph.Login).Methods(http.MethodPost)
	tenant.PathPrefix("/{site}/").HandlerFunc(ph.ServeFile).Methods(http.MethodGet, http.MethodHead)
}

// Chain wraps h so that the first middleware is outermost. It is applied
// around the whole router so unmatched routes and panics pass through it.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
