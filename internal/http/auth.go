package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rentdesk/internal/config"
	"rentdesk/internal/domain"
	"rentdesk/internal/realtime"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims bearer token 载荷
type Claims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator HS256 token 签发与校验
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, ttl: ttl, now: time.Now}
}

// Issue 签发 token（登录流程之外的运维 / CLI 使用）
func (a *Authenticator) Issue(id domain.Identity) (string, error) {
	if !id.Role.Valid() || id.UserID == "" {
		return "", fmt.Errorf("%w: user id and role are required", domain.ErrValidation)
	}
	if id.Role == domain.RoleTenant && id.TenantID == "" {
		return "", fmt.Errorf("%w: tenant tokens require tenant_id", domain.ErrValidation)
	}
	now := a.now()
	claims := Claims{
		UserID:   id.UserID,
		Role:     string(id.Role),
		TenantID: id.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify 校验签名、过期时间和签发方
func (a *Authenticator) Verify(token string) (domain.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return domain.Identity{}, fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	}

	id := domain.Identity{UserID: claims.UserID, Role: domain.Role(claims.Role), TenantID: claims.TenantID}
	if id.UserID == "" || !id.Role.Valid() {
		return domain.Identity{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	return id, nil
}

// tokenFromRequest Authorization: Bearer > ?token= > Sec-WebSocket-Protocol: bearer, <token>
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	protocols := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	for i := 0; i+1 < len(protocols); i++ {
		if strings.TrimSpace(protocols[i]) == realtime.AuthSubprotocol {
			return strings.TrimSpace(protocols[i+1])
		}
	}
	return ""
}

type identityKey struct{}

func withIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom 取出已认证身份
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}

// authenticate 失败时已写 401
func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	token := tokenFromRequest(r)
	if token == "" {
		writeUnauthorized(w, "authorization token not provided")
		return domain.Identity{}, false
	}
	id, err := a.Verify(token)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return domain.Identity{}, false
	}
	return id, true
}

// Require 鉴权中间件
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := a.authenticate(w, r)
		if !ok {
			return
		}
		next(w, r.WithContext(withIdentity(r.Context(), id)))
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, Result[any]{Code: ResultUnauthorized, Type: "error", Message: message})
}
