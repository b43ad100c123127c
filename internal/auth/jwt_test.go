package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret")

	token, err := svc.Generate("user-1", RoleStaff, time.Hour)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, RoleStaff, claims.Role)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret")

	expired, _ := svc.Generate("user-1", RoleUser, -time.Minute)
	_, err := svc.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, _ := NewJWTService("other").Generate("user-1", RoleUser, time.Hour)
	_, err = svc.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleUser}).SignedString([]byte("secret"))
	_, err = svc.Validate(noUser)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
