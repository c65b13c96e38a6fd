package middlewarectx_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/hwid-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"io"
	"log/slog"
)

// Mock for Authenticator
type AuthenticatorMock struct {
	mock.Mock
}

func (m *AuthenticatorMock) Authenticate(ctx context.Context, token string) (*jwt.CustomClaims, error) {
	args := m.Called(ctx, token)
	resp, _ := args.Get(0).(*jwt.CustomClaims)
	return resp, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func validClaims() *jwt.CustomClaims {
	return &jwt.CustomClaims{
		Email:            "user@example.com",
		Role:             "user",
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "acc-1"},
	}
}

func TestJWTMiddleware(t *testing.T) {
	authMock := new(AuthenticatorMock)
	logger := newNoopLogger()

	handlerCalled := false

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		accountID, ok := middlewarectx.AccountIDFrom(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "acc-1", accountID)
		assert.Equal(t, "user", r.Context().Value(middlewarectx.Role))
		w.WriteHeader(http.StatusOK)
	})

	middleware := middlewarectx.JWTMiddleware(authMock, logger)(nextHandler)

	tests := []struct {
		name           string
		authHeader     string
		mockResp       *jwt.CustomClaims
		mockErr        error
		wantStatusCode int
		wantCalled     bool
	}{
		{
			name:           "missing Authorization header",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "invalid Authorization header prefix",
			authHeader:     "Basic sometoken",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "empty bearer token",
			authHeader:     "Bearer ",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "token invalid",
			authHeader:     "Bearer token",
			mockErr:        errors.New("invalid token"),
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "valid token",
			authHeader:     "Bearer validtoken",
			mockResp:       validClaims(),
			wantStatusCode: http.StatusOK,
			wantCalled:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled = false
			authMock.ExpectedCalls = nil
			authMock.Calls = nil
			if tt.mockResp != nil || tt.mockErr != nil {
				authMock.On("Authenticate", mock.Anything, strings.TrimPrefix(tt.authHeader, "Bearer ")).
					Return(tt.mockResp, tt.mockErr).Once()
			}

			req := httptest.NewRequest(http.MethodGet, "/somepath", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			middleware.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			assert.Equal(t, tt.wantCalled, handlerCalled)
			authMock.AssertExpectations(t)
		})
	}
}

func TestJWTMiddleware_WebsocketQueryToken(t *testing.T) {
	authMock := new(AuthenticatorMock)
	authMock.On("Authenticate", mock.Anything, "wstoken").Return(validClaims(), nil).Once()

	called := false
	h := middlewarectx.JWTMiddleware(authMock, newNoopLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/events?access_token=wstoken", nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	authMock.AssertExpectations(t)
}

func TestJWTMiddleware_QueryTokenIgnoredWithoutUpgrade(t *testing.T) {
	authMock := new(AuthenticatorMock)
	h := middlewarectx.JWTMiddleware(authMock, newNoopLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/account?access_token=token", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	authMock.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
}

func TestResolveAccountID(t *testing.T) {
	ctx := context.WithValue(context.Background(), middlewarectx.AccountID, "acc-1")

	id, err := middlewarectx.ResolveAccountID(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, "acc-1", id)

	id, err = middlewarectx.ResolveAccountID(ctx, "acc-1")
	assert.NoError(t, err)
	assert.Equal(t, "acc-1", id)

	_, err = middlewarectx.ResolveAccountID(ctx, "acc-2")
	assert.ErrorIs(t, err, licensing.ErrUnauthorized)

	_, err = middlewarectx.ResolveAccountID(context.Background(), "")
	assert.ErrorIs(t, err, licensing.ErrUnauthorized)
}
