// README: Token verification contract and the HS256 JWT issuer/verifier.
package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

// Token holds the verified token data used by downstream middleware.
type Token struct {
	UID       string
	Role      string
	ExpiresAt time.Time
	Claims    map[string]interface{}
}

// TokenVerifier verifies a raw bearer token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}

var ErrInvalidToken = errors.New("invalid token")

// JWTAuth issues and verifies HS256 tokens carrying user_id and role claims.
type JWTAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTAuth(secret string, ttl time.Duration) *JWTAuth {
	return &JWTAuth{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for uid with the given role. The returned time is the
// token expiry.
func (a *JWTAuth) Issue(uid, role string) (string, time.Time, error) {
	exp := a.now().Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uid,
		"role":    role,
		"iat":     a.now().Unix(),
		"exp":     exp.Unix(),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

func (a *JWTAuth) VerifyIDToken(_ context.Context, raw string) (*Token, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	uid, ok := claims["user_id"].(string)
	if !ok || uid == "" {
		return nil, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	exp, _ := claims["exp"].(float64)
	return &Token{
		UID:       uid,
		Role:      role,
		ExpiresAt: time.Unix(int64(exp), 0),
		Claims:    claims,
	}, nil
}

// FirstOf accepts a token if any of the verifiers does, trying them in order.
func FirstOf(verifiers ...TokenVerifier) TokenVerifier {
	return chain(verifiers)
}

type chain []TokenVerifier

func (c chain) VerifyIDToken(ctx context.Context, raw string) (*Token, error) {
	err := ErrInvalidToken
	for _, v := range c {
		tok, verr := v.VerifyIDToken(ctx, raw)
		if verr == nil {
			return tok, nil
		}
		err = verr
	}
	return nil, err
}
