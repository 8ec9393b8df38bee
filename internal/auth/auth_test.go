package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizer(t *testing.T) {
	open := NewAuthorizer(nil, []int64{1})
	assert.True(t, open.IsAllowed(99))
	assert.True(t, open.IsAdmin(1))
	assert.False(t, open.IsAdmin(99))

	closed := NewAuthorizer([]int64{5}, []int64{1})
	assert.True(t, closed.IsAllowed(5))
	assert.True(t, closed.IsAllowed(1))
	assert.False(t, closed.IsAllowed(99))
}

func TestIssueAndVerify(t *testing.T) {
	iss, err := NewIssuer("s3cret", "storyboarder")
	require.NoError(t, err)

	tok, err := iss.Issue(TelegramSubject(42), TelegramEmail(42), time.Minute)
	require.NoError(t, err)

	claims, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "tg:42", claims.Subject)
	assert.Equal(t, "42@telegram.invalid", claims.Email)
}

func TestVerifyRejects(t *testing.T) {
	iss, _ := NewIssuer("s3cret", "storyboarder")
	other, _ := NewIssuer("other", "storyboarder")

	expired, _ := iss.Issue("u1", "a@b.c", -time.Minute)
	_, err := iss.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, _ := other.Issue("u1", "a@b.c", time.Minute)
	_, err = iss.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noAud, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString([]byte("s3cret"))
	_, err = iss.Verify(noAud)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	_, ok = BearerToken("Basic xyz")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("", "x")
	assert.Error(t, err)
}
