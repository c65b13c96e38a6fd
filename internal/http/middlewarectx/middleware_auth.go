// Package middlewarectx содержит HTTP middleware сервиса: проверку bearer-токена,
// ограничение частоты запросов и сбор метрик.
//
// JWTMiddleware проверяет токен из заголовка Authorization и кладёт в контекст
// ID аккаунта и роль из токена. При ошибке возвращает 401 Unauthorized.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/hwid-licensing/internal/http/response"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// AccountID — ключ для ID аккаунта (субъекта токена) в контексте.
	AccountID Key = "account_id"
	// Role — ключ для роли из токена в контексте.
	Role Key = "role"
)

// Authenticator проверяет bearer-токен.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*jwt.CustomClaims, error)
}

// JWTMiddleware возвращает middleware, который проверяет JWT в заголовке Authorization.
// Для websocket-подключений токен принимается также из параметра access_token.
func JWTMiddleware(auth Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			tokenStr, ok := bearerToken(r)
			if !ok {
				log.Info("missing or invalid authorization header")
				unauthorized(w, r, "missing or invalid authorization header")
				return
			}

			claims, err := auth.Authenticate(r.Context(), tokenStr)
			if err != nil {
				log.Info("invalid or expired token", sl.Err(err))
				unauthorized(w, r, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), AccountID, claims.AccountID())
			ctx = context.WithValue(ctx, Role, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountIDFrom возвращает ID аккаунта, положенный JWTMiddleware.
func AccountIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(AccountID).(string)
	return id, ok && id != ""
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		return token, token != ""
	}
	if websocketUpgrade(r) {
		token := r.URL.Query().Get("access_token")
		return token, token != ""
	}
	return "", false
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, response.ErrorResponse{
		Status: response.StatusError,
		Error:  msg,
		Kind:   string(licensing.KindUnauthorized),
	})
}

// ResolveAccountID возвращает ID аккаунта из токена. Если в теле запроса
// передан claimed, он должен совпадать с субъектом токена.
func ResolveAccountID(ctx context.Context, claimed string) (string, error) {
	subject, ok := AccountIDFrom(ctx)
	if !ok {
		return "", licensing.Unauthorized("missing authenticated account")
	}
	if claimed != "" && claimed != subject {
		return "", licensing.Unauthorized("account id does not match the token")
	}
	return subject, nil
}
