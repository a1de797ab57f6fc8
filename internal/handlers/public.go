package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/site-gateway/internal/apperr"
	"github.com/sdko-org/site-gateway/internal/auth"
	"github.com/sdko-org/site-gateway/internal/config"
	"github.com/sdko-org/site-gateway/internal/models"
	"github.com/sdko-org/site-gateway/internal/sites"
	"github.com/sdko-org/site-gateway/internal/storage"
	"github.com/sdko-org/site-gateway/internal/validate"
	"github.com/sirupsen/logrus"
)

const (
	loginFormMaxBytes = 4 << 10
	fileCacheControl  = "public, max-age=3600"
)

var errLoginLocked = apperr.RateLimited("Too many attempts. Please try again later.")

// PublicHandler serves the password-gated sites on brand subdomains.
type PublicHandler struct {
	sites      *sites.Service
	objects    storage.Storage
	limiter    *auth.LoginLimiter
	cookieName string
	sessionTTL time.Duration
	ipHeader   string
	log        *logrus.Entry
	now        func() time.Time
}

func NewPublicHandler(logger *logrus.Logger, cfg *config.Config, svc *sites.Service, objects storage.Storage, limiter *auth.LoginLimiter) *PublicHandler {
	return &PublicHandler{
		sites:      svc,
		objects:    objects,
		limiter:    limiter,
		cookieName: cfg.SessionCookieName,
		sessionTTL: cfg.SessionTTL,
		ipHeader:   cfg.ClientIPHeader,
		log:        logger.WithField("component", "public_handler"),
		now:        time.Now,
	}
}

// site resolves the brand and site from the route and loads the record.
// On failure the error response has already been written.
func (h *PublicHandler) site(w http.ResponseWriter, r *http.Request) (brand, name string, site *models.Site, ok bool) {
	vars := mux.Vars(r)
	brand, name = vars["brand"], vars["site"]
	if err := sites.ValidateNames(brand, name); err != nil {
		writeError(w, r, h.log, err)
		return "", "", nil, false
	}
	site, err := h.sites.Lookup(r.Context(), brand, name)
	if err != nil {
		writeError(w, r, h.log, err)
		return "", "", nil, false
	}
	return brand, name, site, true
}

func (h *PublicHandler) RedirectToSlash(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["site"]
	if err := sites.ValidateNames(vars["brand"], name); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	http.Redirect(w, r, "/"+name+"/", http.StatusMovedPermanently)
}

func (h *PublicHandler) renderLogin(w http.ResponseWriter, status int, name string, site *models.Site, msg string) {
	err := auth.RenderLoginPage(w, status, auth.LoginPage{
		Title:       site.Title,
		Site:        name,
		Error:       msg,
		BrandTokens: site.BrandTokens,
	})
	if err != nil {
		h.log.WithError(err).WithField("site", name).Warn("Failed to render login page")
	}
}

func (h *PublicHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	_, name, site, ok := h.site(w, r)
	if !ok {
		return
	}
	h.renderLogin(w, http.StatusOK, name, site, "")
}

// Login checks the submitted password. The per-IP failure counter is
// consulted before the password so a locked-out client learns nothing.
func (h *PublicHandler) Login(w http.ResponseWriter, r *http.Request) {
	brand, name, site, ok := h.site(w, r)
	if !ok {
		return
	}

	ip := ClientIP(r, h.ipHeader)
	ctx := r.Context()
	logEntry := h.log.WithFields(logrus.Fields{"brand": brand, "site": name, "client_ip": ip})

	if !h.limiter.Allowed(ctx, ip) {
		logEntry.Warn("Login rate limited")
		h.renderLogin(w, apperr.HTTPStatus(errLoginLocked), name, site, apperr.PublicMessage(errLoginLocked))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, loginFormMaxBytes)
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, http.StatusBadRequest, name, site, "Invalid form submission.")
		return
	}

	if !auth.CheckPassword(r.PostFormValue("password"), site.PasswordHash) {
		h.limiter.RecordFailure(ctx, ip)
		logEntry.Info("Login failed")
		h.renderLogin(w, http.StatusForbidden, name, site, "Incorrect password.")
		return
	}

	h.limiter.Reset(ctx, ip)
	value := auth.SignSession(site.HMACSecret, brand, name, h.now())
	http.SetCookie(w, auth.SessionCookie(h.cookieName, name, value, h.sessionTTL))
	logEntry.Info("Login succeeded")
	http.Redirect(w, r, "/"+name+"/", http.StatusFound)
}

// ServeFile streams one object of an authenticated site.
func (h *PublicHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	brand, name, site, ok := h.site(w, r)
	if !ok {
		return
	}

	if auth.CheckRequest(r, h.cookieName, site.HMACSecret, brand, name, h.sessionTTL, h.now()) != auth.Authenticated {
		http.Redirect(w, r, "/"+name+"/_login", http.StatusFound)
		return
	}

	rel := storage.ResolvePath(strings.TrimPrefix(r.URL.Path, "/"+name+"/"))
	clean, err := validate.FilePath(rel)
	if err != nil {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	obj, err := h.objects.Get(r.Context(), storage.ObjectKey(brand, name, clean))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer obj.Body.Close()

	hdr := w.Header()
	hdr.Set("Cache-Control", fileCacheControl)
	if obj.ETag != "" {
		hdr.Set("ETag", obj.ETag)
		if etagMatches(r.Header.Get("If-None-Match"), obj.ETag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	hdr.Set("Content-Type", storage.ContentType(clean))
	hdr.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"brand": brand,
			"site":  name,
			"path":  clean,
		}).Warn("Failed to stream file")
	}
}

// etagMatches reports whether an If-None-Match header value matches etag
// under the weak comparison used for conditional GET.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}
	return false
}
