package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	svc := NewService("signing-secret")
	svc.RegisterClient("desk-key", "desk-secret", "exec-desk")
	return svc
}

func TestGenerateTokenRoundTrip(t *testing.T) {
	svc := newTestService()

	resp, err := svc.GenerateToken(Credentials{APIKey: "desk-key", APISecret: "desk-secret"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	require.WithinDuration(t, time.Now().Add(tokenTTL), resp.Expiration, time.Minute)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	require.Equal(t, "exec-desk", claims.ClientID)
	require.Contains(t, claims.Permissions, "orders:write")
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	svc := newTestService()

	_, err := svc.GenerateToken(Credentials{APIKey: "desk-key", APISecret: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(Credentials{APIKey: "unknown", APISecret: "desk-secret"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterClientDefaultsClientIDToAPIKey(t *testing.T) {
	svc := NewService("signing-secret")
	svc.RegisterClient("bare-key", "s3cret", "")

	resp, err := svc.GenerateToken(Credentials{APIKey: "bare-key", APISecret: "s3cret"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	require.Equal(t, "bare-key", claims.ClientID)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	svc := newTestService()

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ClientID: "exec-desk",
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(forged)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := newTestService()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		ClientID: "exec-desk",
	}).SignedString([]byte("signing-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(expired)
	require.Error(t, err)
}
