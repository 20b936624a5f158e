package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fooddash/internal/config"
	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/logger"
	"github.com/Additional-Code/fooddash/internal/presentation/http/response"
	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

// Gateway headers trusted in header mode.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const callerKey = "auth.caller"

var errMissingIdentity = errors.New("missing caller identity")

// Authenticator resolves the caller behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (core.Caller, error)
}

// Module provides the configured authenticator to Fx.
var Module = fx.Provide(NewAuthenticator)

// NewAuthenticator picks the authenticator for cfg.Auth.Mode.
func NewAuthenticator(cfg config.Config) (Authenticator, error) {
	switch cfg.Auth.Mode {
	case "jwt":
		if cfg.Auth.JWTSecret == "" {
			return nil, errors.New("AUTH_JWT_SECRET is required in jwt mode")
		}
		return &JWTAuthenticator{secret: []byte(cfg.Auth.JWTSecret), issuer: cfg.Auth.JWTIssuer}, nil
	case "header":
		return HeaderAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Auth.Mode)
	}
}

// HeaderAuthenticator trusts identity headers set by an upstream gateway.
type HeaderAuthenticator struct{}

// Authenticate reads X-User-ID and X-User-Role.
func (HeaderAuthenticator) Authenticate(r *http.Request) (core.Caller, error) {
	rawID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	rawRole := r.Header.Get(HeaderUserRole)
	if rawID == "" || strings.TrimSpace(rawRole) == "" {
		return core.Caller{}, errMissingIdentity
	}
	return parseCaller(rawID, rawRole)
}

// JWTAuthenticator verifies HS256 bearer tokens carrying sub and role claims.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// Authenticate validates the bearer token of r.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (core.Caller, error) {
	header := r.Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return core.Caller{}, errMissingIdentity
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.Parse(strings.TrimSpace(token), func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return core.Caller{}, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return core.Caller{}, errors.New("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return core.Caller{}, errors.New("token has no subject")
	}
	role, _ := claims["role"].(string)
	return parseCaller(sub, role)
}

// IssueToken signs a token for caller. Used by the back-office CLI and tests.
func IssueToken(secret, issuer string, caller core.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(caller.ID, 10),
		"role": string(caller.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseCaller(rawID, rawRole string) (core.Caller, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return core.Caller{}, fmt.Errorf("invalid user id %q", rawID)
	}
	role, err := core.ParseRole(rawRole)
	if err != nil {
		return core.Caller{}, err
	}
	return core.Caller{ID: id, Role: role}, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the caller on the context.
func Middleware(a Authenticator, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, err := a.Authenticate(c.Request())
			if err != nil {
				log.Debug("request rejected", zap.String("path", c.Path()), zap.Error(err))
				return response.New(c).
					WithError(errorbank.Unauthorized("authentication required", errorbank.WithCode("unauthenticated"), errorbank.WithCause(err))).
					Build()
			}

			c.Set(callerKey, caller)
			req := c.Request()
			reqLog := logger.FromContext(req.Context(), log).With(
				zap.Int64("caller_id", caller.ID),
				zap.String("caller_role", string(caller.Role)),
			)
			c.SetRequest(req.WithContext(logger.WithContext(req.Context(), reqLog)))
			return next(c)
		}
	}
}

// CallerFrom returns the caller stored by Middleware.
func CallerFrom(c echo.Context) (core.Caller, bool) {
	caller, ok := c.Get(callerKey).(core.Caller)
	return caller, ok
}
