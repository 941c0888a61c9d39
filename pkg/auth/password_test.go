package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "S3cret"))
	assert.False(t, CheckPassword(hash, ""))

	again, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salted")
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestCheckPassword_NoHash(t *testing.T) {
	assert.False(t, CheckPassword("", "anything"))
	assert.False(t, CheckPassword("not-a-bcrypt-hash", "anything"))
}
