package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	userID := uuid.New()

	token, err := IssueToken("s3cret", userID, time.Hour)
	require.NoError(t, err)

	got, err := ParseToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestParseRejectsBadTokens(t *testing.T) {
	userID := uuid.New()

	wrongSecret, err := IssueToken("one", userID, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(wrongSecret, "two")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken("s3cret", userID, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken("garbage", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
