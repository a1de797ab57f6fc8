package handlers

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/site-gateway/internal/apperr"
	"github.com/sdko-org/site-gateway/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type contextKey int

const (
	ctxRequestID contextKey = iota
	ctxPrincipal
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

// SecurityHeaders stamps the headers every response must carry, including
// error and panic responses written further down the chain.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a panic into a generic JSON 500.
func RecoverMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_recover")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logEntry.WithFields(logrus.Fields{
						"panic":      v,
						"method":     r.Method,
						"path":       r.URL.Path,
						"request_id": requestIDFrom(r.Context()),
						"stack":      string(debug.Stack()),
					}).Error("Handler panicked")
					writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

// LoggingMiddleware logs one line per request and, when db is set, stores
// an access_logs row asynchronously.
func LoggingMiddleware(logger *logrus.Logger, db *gorm.DB, ipHeader string) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				duration := time.Since(start)
				clientIP := ClientIP(r, ipHeader)
				requestID := requestIDFrom(r.Context())

				logEntry.WithFields(logrus.Fields{
					"request_id": requestID,
					"host":       r.Host,
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     lrw.statusCode,
					"duration":   duration,
					"client_ip":  clientIP,
					"bytes":      lrw.bytesSent,
					"user_agent": r.UserAgent(),
				}).Info("Request processed")

				if db == nil {
					return
				}
				entry := models.AccessLog{
					Timestamp: start,
					RequestID: requestID,
					Host:      r.Host,
					Method:    r.Method,
					Path:      r.URL.Path,
					Status:    lrw.statusCode,
					Duration:  duration,
					ClientIP:  clientIP,
					UserAgent: r.UserAgent(),
					BytesSent: lrw.bytesSent,
				}
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()

					if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
						logEntry.WithError(err).Warn("Failed to save access log")
					}
				}()
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

var errThrottled = apperr.RateLimited("too many requests")

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RequestThrottle caps the overall request rate per client IP. It is a
// coarse flood guard and separate from the failed-login counter.
type RequestThrottle struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	ipHeader string
}

func NewRequestThrottle(requests int, window time.Duration, ipHeader string) *RequestThrottle {
	return &RequestThrottle{
		clients:  make(map[string]*clientLimiter),
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		burst:    requests,
		ipHeader: ipHeader,
	}
}

func (t *RequestThrottle) allow(ip string) bool {
	t.mu.Lock()
	c, ok := t.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[ip] = c
	}
	c.lastSeen = time.Now()
	t.mu.Unlock()

	return c.limiter.Allow()
}

func (t *RequestThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(ClientIP(r, t.ipHeader)) {
			respondError(w, errThrottled)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run evicts idle clients until ctx is done.
func (t *RequestThrottle) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.evictIdle(3 * time.Minute)
		case <-ctx.Done():
			return
		}
	}
}

func (t *RequestThrottle) evictIdle(idle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, c := range t.clients {
		if time.Since(c.lastSeen) > idle {
			delete(t.clients, ip)
		}
	}
}

// ClientIP returns the caller's address. header names a trusted proxy
// header such as CF-Connecting-IP or X-Forwarded-For; when it is empty or
// absent the socket peer address is used.
func ClientIP(r *http.Request, header string) string {
	if header != "" {
		if v := r.Header.Get(header); v != "" {
			if first, _, found := strings.Cut(v, ","); found {
				v = first
			}
			if ip := strings.TrimSpace(v); ip != "" {
				return ip
			}
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
