package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

const (
	IdempotencyHeader     = "Idempotency-Key"
	replayHeader          = "Idempotent-Replay"
	defaultIdempotencyTTL = 24 * time.Hour
)

// idempotentRoutes maps "METHOD pattern" to how long a response is remembered.
var idempotentRoutes = map[string]time.Duration{
	http.MethodPost + " /api/v1/orders":        defaultIdempotencyTTL,
	http.MethodPost + " /api/v1/orders/create": defaultIdempotencyTTL,
}

// storedResponse is the JSON kept under an idempotency key. Body marshals as
// base64. A pending record marks a request that is still being served.
type storedResponse struct {
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
	RequestHash string `json:"request_hash"`
	Pending     bool   `json:"pending,omitempty"`
}

type idempotencyGuard struct {
	store pkgredis.IdempotencyStore
	logg  *logger.Logger
}

// Idempotency replays the stored response when a covered request repeats its
// Idempotency-Key with the same body, and rejects the key with 409 when the
// body differs. The key is claimed before the handler runs, so a concurrent
// duplicate gets a retryable 409 instead of a second execution. Requests
// without the header, or without a store, pass through.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	guard := &idempotencyGuard{store: store, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, covered := routeTTL(r.Method, routePattern(r))
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if !covered || store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			guard.serve(next, w, r, clientKey, ttl)
		})
	}
}

func (g *idempotencyGuard) serve(next http.Handler, w http.ResponseWriter, r *http.Request, clientKey string, ttl time.Duration) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validators.MaxBodyBytes))
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	key := g.store.IdempotencyKey(r.Method+"|"+r.URL.Path, clientKey)

	claimed, prior, err := g.claim(ctx, key, hash, ttl)
	if err != nil {
		responses.WriteError(ctx, g.logg, w, err)
		return
	}
	if !claimed {
		g.answerDuplicate(w, r, prior, hash)
		return
	}

	settled := false
	defer func() {
		if !settled {
			g.release(context.WithoutCancel(ctx), key)
		}
	}()

	rec := newRecorder(w, true)
	next.ServeHTTP(rec, r)

	status := rec.statusCode()
	if !replayable(status) {
		return
	}
	settled = g.remember(context.WithoutCancel(ctx), key, ttl, storedResponse{
		Status:      status,
		ContentType: rec.Header().Get("Content-Type"),
		Body:        rec.body(),
		RequestHash: hash,
	})
}

// claim writes a pending record under key. When the key is taken it returns
// the record that holds it. A record that vanished between the two calls is
// claimed again once.
func (g *idempotencyGuard) claim(ctx context.Context, key, hash string, ttl time.Duration) (bool, *storedResponse, error) {
	pending, err := json.Marshal(storedResponse{RequestHash: hash, Pending: true})
	if err != nil {
		return false, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency claim")
	}
	for range 2 {
		won, err := g.store.SetNX(ctx, key, string(pending), ttl)
		if err != nil {
			return false, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key")
		}
		if won {
			return true, nil, nil
		}
		prior, err := g.lookup(ctx, key)
		if err != nil {
			return false, nil, err
		}
		if prior != nil {
			return false, prior, nil
		}
	}
	return false, &storedResponse{RequestHash: hash, Pending: true}, nil
}

func (g *idempotencyGuard) answerDuplicate(w http.ResponseWriter, r *http.Request, prior *storedResponse, hash string) {
	ctx := r.Context()
	switch {
	case prior.RequestHash != hash:
		responses.WriteError(ctx, g.logg, w,
			pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body").
				WithDetails(map[string]string{"header": IdempotencyHeader}))
	case prior.Pending:
		responses.WriteError(ctx, g.logg, w,
			pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		prior.replay(w)
	}
}

// lookup returns nil, nil when nothing is stored under key.
func (g *idempotencyGuard) lookup(ctx context.Context, key string) (*storedResponse, error) {
	raw, err := g.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	var prior storedResponse
	if err := json.Unmarshal([]byte(raw), &prior); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &prior, nil
}

// remember replaces the pending claim with the response. It reports false
// when the write failed, so the claim is released instead of lingering.
func (g *idempotencyGuard) remember(ctx context.Context, key string, ttl time.Duration, resp storedResponse) bool {
	payload, err := json.Marshal(resp)
	if err == nil {
		err = g.store.Set(ctx, key, string(payload), ttl)
	}
	if err != nil {
		g.logFailure(ctx, key, "idempotency.persist_failed", err)
		return false
	}
	return true
}

// release drops the claim after a response that must not be replayed.
func (g *idempotencyGuard) release(ctx context.Context, key string) {
	if err := g.store.Del(ctx, key); err != nil {
		g.logFailure(ctx, key, "idempotency.release_failed", err)
	}
}

func (g *idempotencyGuard) logFailure(ctx context.Context, key, msg string, err error) {
	if g.logg != nil {
		g.logg.Error(g.logg.WithField(ctx, "idempotency_key", key), msg, err)
	}
}

func (s *storedResponse) replay(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// replayable excludes server failures and conflicts, which a retry may resolve.
func replayable(status int) bool {
	return status < http.StatusInternalServerError && status != http.StatusConflict
}

// routePattern prefers the chi pattern; inside a mounted subrouter that still
// ends in "/*", so the concrete path is used instead.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "/*") {
			return strings.TrimSuffix(pattern, "/")
		}
	}
	return strings.TrimSuffix(r.URL.Path, "/")
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	if pattern == "" {
		return 0, false
	}
	ttl, ok := idempotentRoutes[method+" "+pattern]
	return ttl, ok
}
