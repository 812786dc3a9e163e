package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaker_GenerateAndParse(t *testing.T) {
	maker := NewJWTMaker("test-secret", time.Minute)

	token, err := maker.GenerateToken("admin")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := maker.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Operator)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestMaker_ParseExpired(t *testing.T) {
	maker := NewJWTMaker("test-secret", -time.Minute)

	token, err := maker.GenerateToken("admin")
	require.NoError(t, err)

	_, err = maker.ParseToken(token)
	assert.Error(t, err)
}

func TestMaker_ParseWrongKey(t *testing.T) {
	maker := NewJWTMaker("test-secret", time.Minute)
	other := NewJWTMaker("other-secret", time.Minute)

	token, err := maker.GenerateToken("admin")
	require.NoError(t, err)

	_, err = other.ParseToken(token)
	assert.Error(t, err)
}
