package auth

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	privPEM, pubPEM := generateTestKeys(t)
	signer, err := NewSigner(privPEM, pubPEM, testIssuer)
	require.NoError(t, err)

	userID := uuid.New()
	token, err := signer.Sign(userID, "Grace", nil, time.Minute)
	require.NoError(t, err)

	var seenID string
	var seenName string
	handler := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		seenID, _ = GetUserID(ctx)
		if claims, ok := GetUserClaims(ctx); ok {
			seenName = claims.Name
		}
		return connect.NewResponse(&struct{}{}), nil
	}

	interceptor := NewAuthInterceptor(signer)

	t.Run("valid token injects identity", func(t *testing.T) {
		req := connect.NewRequest(&struct{}{})
		req.Header().Set("Authorization", "Bearer "+token)

		_, err := interceptor(handler)(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), seenID)
		assert.Equal(t, "Grace", seenName)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := interceptor(handler)(context.Background(), connect.NewRequest(&struct{}{}))
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})

	t.Run("bad header format", func(t *testing.T) {
		req := connect.NewRequest(&struct{}{})
		req.Header().Set("Authorization", token)
		_, err := interceptor(handler)(context.Background(), req)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})

	t.Run("garbage token", func(t *testing.T) {
		req := connect.NewRequest(&struct{}{})
		req.Header().Set("Authorization", "Bearer nope")
		_, err := interceptor(handler)(context.Background(), req)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})
}
