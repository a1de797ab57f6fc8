package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/site-gateway/internal/apperr"
	"github.com/sdko-org/site-gateway/internal/auth"
	"github.com/sdko-org/site-gateway/internal/sites"
	"github.com/sirupsen/logrus"
)

type AdminHandler struct {
	sites   *sites.Service
	admins  *auth.AdminAuthenticator
	maxBody int64
	log     *logrus.Entry
	now     func() time.Time
}

func NewAdminHandler(logger *logrus.Logger, svc *sites.Service, admins *auth.AdminAuthenticator, maxBody int64) *AdminHandler {
	return &AdminHandler{
		sites:   svc,
		admins:  admins,
		maxBody: maxBody,
		log:     logger.WithField("component", "admin_handler"),
		now:     time.Now,
	}
}

// Authenticate rejects requests without a valid bearer token and stores
// the caller's principal in the request context.
func (h *AdminHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.admins.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxPrincipal, p)))
	})
}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(ctxPrincipal).(auth.Principal)
	return p
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.InvalidArg("request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.InvalidArg("invalid JSON body: %v", err)
	}
	return nil
}

func (h *AdminHandler) Publish(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var in sites.PublishInput
	if err := h.decode(w, r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.sites.Publish(r.Context(), vars["brand"], vars["name"], in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var in sites.UpdateInput
	if err := h.decode(w, r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.sites.Update(r.Context(), vars["brand"], vars["name"], in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type listResponse struct {
	Sites []sites.Summary `json:"sites"`
	Count int             `json:"count"`
}

func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.sites.List(r.Context(), r.URL.Query().Get("brand"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if list == nil {
		list = []sites.Summary{}
	}
	writeJSON(w, http.StatusOK, listResponse{Sites: list, Count: len(list)})
}

func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	info, err := h.sites.Get(r.Context(), vars["brand"], vars["name"])
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *AdminHandler) Download(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dl, err := h.sites.Download(r.Context(), vars["brand"], vars["name"])
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, dl)
}

func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := h.sites.Delete(r.Context(), vars["brand"], vars["name"])
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) RotatePassword(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := h.sites.RotatePassword(r.Context(), vars["brand"], vars["name"])
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createKeyRequest struct {
	Label string `json:"label"`
}

type createKeyResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	Label string `json:"label"`
}

// CreateKey mints a per-user admin token. Only the super admin may call it;
// the plaintext token is returned once and never stored.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	if !principalFrom(r.Context()).SuperAdmin {
		writeError(w, r, h.log, auth.ErrSuperAdmin)
		return
	}
	var in createKeyRequest
	if err := h.decode(w, r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	token, id, err := h.admins.CreateKey(r.Context(), in.Label, h.now())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.log.WithFields(logrus.Fields{"key_id": id, "label": in.Label}).Info("Admin key created")
	writeJSON(w, http.StatusCreated, createKeyResponse{ID: id, Token: token, Label: in.Label})
}

func (h *AdminHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	if !principalFrom(r.Context()).SuperAdmin {
		writeError(w, r, h.log, auth.ErrSuperAdmin)
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.admins.RevokeKey(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.log.WithField("key_id", id).Info("Admin key revoked")
	writeJSON(w, http.StatusOK, map[string]string{"revoked": id})
}
