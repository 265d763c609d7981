// Package auth guards the privileged bulk endpoints with a shared admin token.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/stockbook/stockbook/internal/platform/httpx"
	"github.com/stockbook/stockbook/internal/shared"
)

// ActorHeader optionally names the operator behind an admin request.
const ActorHeader = "X-Stockbook-Actor"

// defaultActor is recorded in audit logs when ActorHeader is absent.
const defaultActor = "admin"

// Gate checks bearer tokens against a bcrypt hash.
type Gate struct {
	hash   []byte
	logger *slog.Logger

	mu       sync.Mutex
	accepted map[[sha256.Size]byte]struct{}
}

// NewGate validates hash and returns a Gate.
func NewGate(hash string, logger *slog.Logger) (*Gate, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("auth: admin token hash: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{hash: []byte(hash), logger: logger, accepted: make(map[[sha256.Size]byte]struct{})}, nil
}

// HashToken returns a bcrypt hash suitable for ADMIN_TOKEN_HASH.
func HashToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("auth: empty token")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Authenticate reports whether token matches the configured hash. Tokens
// that already matched are remembered by digest so bcrypt runs once per token.
func (g *Gate) Authenticate(token string) error {
	if token == "" {
		return shared.ErrUnauthorized
	}
	digest := sha256.Sum256([]byte(token))
	g.mu.Lock()
	_, ok := g.accepted[digest]
	g.mu.Unlock()
	if ok {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(token)); err != nil {
		return shared.ErrUnauthorized
	}
	g.mu.Lock()
	g.accepted[digest] = struct{}{}
	g.mu.Unlock()
	return nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller identity in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Authenticate(bearer(r)); err != nil {
			g.logger.Warn("admin token rejected", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Bearer realm="stockbook"`)
			httpx.RespondError(w, err)
			return
		}
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			actor = defaultActor
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

func bearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
