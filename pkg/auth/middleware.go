package auth

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"
)

type contextKey string

const (
	tokenHeader               = "Authorization"
	tokenPrefix               = "Bearer "
	UserClaimsKey  contextKey = "user_claims"
	UserIDKey      contextKey = "user_id"
	PermissionsKey contextKey = "permissions"
)

// TokenValidator is implemented by *Signer.
type TokenValidator interface {
	ValidateToken(token string) (*Claims, error)
}

// NewAuthInterceptor rejects unauthenticated calls. Procedures listed in public
// are let through without a token, but a token they do carry is still verified.
func NewAuthInterceptor(validator TokenValidator, public ...string) connect.UnaryInterceptorFunc {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get(tokenHeader)
			if authHeader == "" {
				if _, ok := open[req.Spec().Procedure]; ok {
					return next(ctx, req)
				}
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing authorization header"))
			}

			if !strings.HasPrefix(authHeader, tokenPrefix) {
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid authorization header format"))
			}

			claims, err := validator.ValidateToken(strings.TrimPrefix(authHeader, tokenPrefix))
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid or expired token"))
			}

			return next(WithClaims(ctx, claims), req)
		}
	}
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, UserClaimsKey, claims)
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	return context.WithValue(ctx, PermissionsKey, claims.Permissions)
}

// GetUserClaims retrieves the full claims from the context.
func GetUserClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*Claims)
	return claims, ok
}

// GetUserID retrieves the user ID from the context.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok
}
