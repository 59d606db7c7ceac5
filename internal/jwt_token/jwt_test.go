package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

var (
	jwtService   = NewJWTService("test-signing-key", "test-issuer", "checkpoint")
	officerID    = id.OfficerID(uuid.New())
	capabilities = []string{"processing:live"}
	expiresIn    = time.Hour
)

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(officerID, capabilities, expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, officerID.String(), claims.OfficerID)
	assert.Equal(t, capabilities, claims.Capabilities)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(officerID, capabilities, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
}

func Test_ValidateToken_WrongAudience(t *testing.T) {
	other := NewJWTService("test-signing-key", "test-issuer", "another-service")
	token, err := other.GenerateAccessToken(officerID, capabilities, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, ""))
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other := NewJWTService("another-key", "test-issuer", "checkpoint")
	token, err := other.GenerateAccessToken(officerID, capabilities, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_NilOfficerRejected(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(id.OfficerID{}, capabilities, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims"))
}

func Test_Adapter(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(officerID, capabilities, expiresIn)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, officerID.String(), claims.OfficerID)
	assert.Equal(t, capabilities, claims.Capabilities)
	assert.NotEmpty(t, claims.JTI)
}
