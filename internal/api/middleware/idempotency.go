package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyLockTTL   = 10 * time.Second
	idempotencyResultTTL = 24 * time.Hour
	processingMarker     = "PROCESSING"
)

type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Idempotency replays the stored response of a state-changing request that
// carries an Idempotency-Key already seen. Requests without the header, and
// all requests when redis is unavailable, pass through.
func Idempotency(redisClient *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if redisClient == nil {
				next.ServeHTTP(w, r)
				return
			}
			// Only apply to state-changing methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := fmt.Sprintf("idempotency:%s", key)
			ctx := r.Context()

			val, err := redisClient.Get(ctx, idemKey).Result()
			switch {
			case err == nil && val == processingMarker:
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error": "concurrent request"}`))
				return
			case err == nil:
				var stored storedResponse
				if jerr := json.Unmarshal([]byte(val), &stored); jerr == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotency-Hit", "true")
					w.WriteHeader(stored.Status)
					w.Write(stored.Body)
					return
				}
			case err != redis.Nil:
				next.ServeHTTP(w, r)
				return
			}

			acquired, err := redisClient.SetNX(ctx, idemKey, processingMarker, idempotencyLockTTL).Result()
			if err != nil || !acquired {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error": "concurrent request"}`))
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// failed requests may be retried with the same key
			if rec.status >= http.StatusInternalServerError {
				redisClient.Del(ctx, idemKey)
				return
			}
			data, _ := json.Marshal(storedResponse{Status: rec.status, Body: rec.body.Bytes()})
			redisClient.Set(ctx, idemKey, data, idempotencyResultTTL)
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
