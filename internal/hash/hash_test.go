package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordRoundTrip(t *testing.T) {
	h, err := Password("correct horse battery staple", bcrypt.MinCost)
	require.NoError(t, err)
	require.NotEqual(t, "correct horse battery staple", h)

	require.True(t, Check(h, "correct horse battery staple"))
	require.False(t, Check(h, "wrong password"))
	require.False(t, Check("not a bcrypt hash", "anything"))
}

func TestPasswordDistinctSalts(t *testing.T) {
	h1, err := Password("password123", bcrypt.MinCost)
	require.NoError(t, err)
	h2, err := Password("password123", bcrypt.MinCost)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestPasswordCostFallback(t *testing.T) {
	// An out-of-range cost falls back to the default instead of failing.
	h, err := Password("password123", 99)
	require.NoError(t, err)
	require.True(t, Check(h, "password123"))
}

func TestSHA256Hex(t *testing.T) {
	d := SHA256Hex("abc")
	require.Len(t, d, 64)
	require.Equal(t, d, SHA256Hex("abc"))
	require.NotEqual(t, d, SHA256Hex("abd"))
}
