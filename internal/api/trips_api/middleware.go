package trips_api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
	maxIdempotencyKeyLength  = 255
	idempotencyPendingMarker = `{"pending":true}`
)

// observe records request count and latency per route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// rateLimit caps trip creations per account per minute. Limiter failures let the request through.
func (a *TripsAPI) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acctID := strings.TrimSpace(r.Header.Get(HeaderAccountID))
		if a.limiter == nil || a.createPerMin <= 0 || acctID == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := fmt.Sprintf("rl:trips:%s:%s", acctID, a.now().Format("200601021504"))
		allowed, n, err := a.limiter.Allow(r.Context(), key, a.createPerMin, 70*time.Second)
		if err != nil {
			slog.Warn("create trip rate limit check failed", "account_id", acctID, "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: fmt.Sprintf("trip creation limit reached (%d in the current minute)", n),
				Code:  "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// idempotent replays the stored response of an earlier request with the same Idempotency-Key.
// A key whose first request is still running answers 409. Server errors are not stored so the
// client can retry with the same key.
func (a *TripsAPI) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		acctID := strings.TrimSpace(r.Header.Get(HeaderAccountID))
		if a.cache == nil || key == "" || acctID == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: fmt.Sprintf("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLength),
				Code:  "idempotency_key_invalid",
			})
			return
		}
		ctx := r.Context()
		cacheKey := fmt.Sprintf("idem:%s:%s", acctID, key)

		acquired, err := a.cache.SetNX(ctx, cacheKey, []byte(idempotencyPendingMarker), a.idempotencyTTL)
		if err != nil {
			slog.Warn("idempotency store unavailable", "account_id", acctID, "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !acquired {
			a.replay(w, r, cacheKey)
			return
		}

		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		next.ServeHTTP(ww, r)

		ctx = context.WithoutCancel(ctx)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError || !json.Valid(buf.Bytes()) {
			_ = a.cache.Del(ctx, cacheKey)
			return
		}
		b, err := json.Marshal(storedResponse{Status: status, Body: json.RawMessage(bytes.TrimSpace(buf.Bytes()))})
		if err != nil {
			_ = a.cache.Del(ctx, cacheKey)
			return
		}
		if err := a.cache.Set(ctx, cacheKey, b, a.idempotencyTTL); err != nil {
			slog.Warn("store idempotent response", "account_id", acctID, "err", err)
		}
	})
}

func (a *TripsAPI) replay(w http.ResponseWriter, r *http.Request, cacheKey string) {
	b, ok, err := a.cache.Get(r.Context(), cacheKey)
	if err != nil || !ok || string(b) == idempotencyPendingMarker {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "a request with this Idempotency-Key is still in progress",
			Code:  "idempotency_in_progress",
		})
		return
	}
	var sr storedResponse
	if err := json.Unmarshal(b, &sr); err != nil || sr.Status == 0 {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "stored response for this Idempotency-Key is unreadable",
			Code:  "idempotency_in_progress",
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderIdempotentReplayed, "true")
	w.WriteHeader(sr.Status)
	_, _ = w.Write(sr.Body)
}
