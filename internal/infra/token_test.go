package infra

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthRoundTrip(t *testing.T) {
	auth := NewJWTAuth("s3cret", time.Hour)

	raw, exp, err := auth.Issue("u1", "captain")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	tok, err := auth.VerifyIDToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", tok.UID)
	assert.Equal(t, "captain", tok.Role)
	assert.Equal(t, exp.Unix(), tok.ExpiresAt.Unix())
}

func TestJWTAuthRejects(t *testing.T) {
	auth := NewJWTAuth("s3cret", time.Hour)
	ctx := context.Background()

	other, _, err := NewJWTAuth("other", time.Hour).Issue("u1", "user")
	require.NoError(t, err)
	_, err = auth.VerifyIDToken(ctx, other)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	expired, _, err := NewJWTAuth("s3cret", -time.Minute).Issue("u1", "user")
	require.NoError(t, err)
	_, err = auth.VerifyIDToken(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	noUID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "user"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = auth.VerifyIDToken(ctx, noUID)
	assert.ErrorIs(t, err, ErrInvalidToken, "missing user_id")

	_, err = auth.VerifyIDToken(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSplitSQL(t *testing.T) {
	in := "-- header\nCREATE TABLE a (id TEXT);\n\n-- next\nCREATE INDEX i ON a (id);\n"
	stmts := splitSQL(stripSQLComments(in))
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id TEXT)", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a (id)", stmts[1])
}

func TestFirstOf(t *testing.T) {
	a := NewJWTAuth("a", time.Hour)
	b := NewJWTAuth("b", time.Hour)
	v := FirstOf(a, b)

	raw, _, err := b.Issue("u2", "user")
	require.NoError(t, err)
	tok, err := v.VerifyIDToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "u2", tok.UID)

	raw, _, err = NewJWTAuth("c", time.Hour).Issue("u3", "user")
	require.NoError(t, err)
	_, err = v.VerifyIDToken(context.Background(), raw)
	assert.Error(t, err)
}
