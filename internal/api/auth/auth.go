// Package auth достаёт личность вызывающего из Bearer JWT (HS256)
// и синхронизирует её с таблицей profiles.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ctxKey struct{}

type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type Identity struct {
	UserID uuid.UUID
	Role   string
	Email  string
	Name   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == models.RoleAdmin
}

type ProfileSyncer interface {
	UpsertProfile(ctx context.Context, p models.Profile) (*models.Profile, error)
}

// ErrorWriter пишет ответ об ошибке в формате API.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

type Authenticator struct {
	secret []byte
	issuer string
	sync   ProfileSyncer
	write  ErrorWriter
}

func New(secret, issuer string, sync ProfileSyncer, write ErrorWriter) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, sync: sync, write: write}
}

func (a *Authenticator) Parse(token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Wrap(err, "parse token")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, errors.Wrap(err, "subject is not a uuid")
	}
	role := claims.Role
	if role != models.RoleAdmin {
		role = models.RoleUser
	}
	return Identity{UserID: id, Role: role, Email: claims.Email, Name: claims.Name}, nil
}

// Issue подписывает токен; используется тестами и локальной отладкой.
func (a *Authenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  id.Role,
		Email: id.Email,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	return s, errors.Wrap(err, "sign token")
}

// Middleware требует валидный Bearer и кладёт Identity в контекст.
// Профиль апсертится на каждый запрос; ошибка синка не блокирует запрос.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			a.write(w, http.StatusUnauthorized, "unauthorized", "Bearer token is required")
			return
		}

		id, err := a.Parse(strings.TrimSpace(token))
		if err != nil {
			slog.Warn("authentication failed", "path", r.URL.Path, "error", err.Error())
			a.write(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		if a.sync != nil {
			if _, err := a.sync.UpsertProfile(r.Context(), models.Profile{
				ID:    id.UserID,
				Email: id.Email,
				Name:  id.Name,
				Role:  id.Role,
			}); err != nil {
				slog.Error("profile sync", "user_id", id.UserID.String(), "error", err.Error())
			}
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok || !id.IsAdmin() {
			a.write(w, http.StatusForbidden, "forbidden", "admin role is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
