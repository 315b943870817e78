package identity

import (
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/MrEthical07/identity/jwt"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	Email     string
	UserID    int64
	Roles     []string
	ExpiresAt time.Time
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role Role) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// FilterDecision is the outcome of RequestFilter.Resolve. A nil Principal
// means the request continues anonymously.
type FilterDecision struct {
	Public    bool
	Principal *Principal
}

// tokenVerifier is satisfied by *jwt.Manager.
type tokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// RequestFilter classifies a request as public or protected and resolves the
// bearer token of protected requests. It never rejects a request itself;
// authorization downstream decides what anonymous callers may do.
type RequestFilter struct {
	verifier tokenVerifier
	public   []string
	logger   *slog.Logger
	metrics  *Metrics
}

// NewRequestFilter builds a filter over the given public path prefixes.
func NewRequestFilter(verifier *jwt.Manager, publicPaths []string, logger *slog.Logger) *RequestFilter {
	if verifier == nil {
		return newRequestFilter(nil, publicPaths, logger, nil)
	}
	return newRequestFilter(verifier, publicPaths, logger, nil)
}

func newRequestFilter(verifier tokenVerifier, publicPaths []string, logger *slog.Logger, metrics *Metrics) *RequestFilter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	public := make([]string, 0, len(publicPaths))
	for _, p := range publicPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p != "/" {
			p = strings.TrimRight(p, "/")
		}
		public = append(public, p)
	}
	return &RequestFilter{
		verifier: verifier,
		public:   public,
		logger:   logger,
		metrics:  metrics,
	}
}

// IsPublic reports whether requestPath falls under a public prefix. Matching
// is on whole path segments after cleaning, so /api/auth/loginx is not
// covered by /api/auth/login and dot segments cannot escape a prefix.
func (f *RequestFilter) IsPublic(requestPath string) bool {
	if f == nil {
		return false
	}
	cleaned := path.Clean("/" + requestPath)
	for _, prefix := range f.public {
		if prefix == "/" || cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	return false
}

// Resolve computes the decision for one request. Token failures of any kind
// yield an anonymous decision; the reason is logged at debug level, the
// token never is.
func (f *RequestFilter) Resolve(requestPath, authorization string) FilterDecision {
	if f.IsPublic(requestPath) {
		return FilterDecision{Public: true}
	}
	if f == nil || f.verifier == nil {
		return FilterDecision{}
	}

	token, ok := bearerToken(authorization)
	if !ok {
		f.metrics.Inc(MetricFilterAnonymous)
		return FilterDecision{}
	}

	claims, err := f.verifier.Verify(token)
	if err != nil {
		f.metrics.Inc(MetricFilterTokenRejected)
		f.logger.Debug("bearer token rejected",
			slog.String("path", requestPath),
			slog.String("reason", tokenFailureReason(err)),
		)
		return FilterDecision{}
	}

	f.metrics.Inc(MetricFilterAuthenticated)
	return FilterDecision{Principal: principalFromClaims(claims)}
}

func principalFromClaims(claims *jwt.Claims) *Principal {
	return &Principal{
		Email:     claims.Email(),
		UserID:    claims.UserID,
		Roles:     append([]string(nil), claims.Roles...),
		ExpiresAt: claims.ExpiresAtTime(),
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return "expired"
	case errors.Is(err, jwt.ErrMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrInvalidSignature):
		return "bad_signature"
	default:
		return "invalid_claims"
	}
}
