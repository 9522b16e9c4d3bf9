package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bilgisen/contentgen/internal/storage"
)

func newTestService() *Service {
	s := NewService(storage.NewMemoryStore(), "test-secret", time.Hour)
	s.cost = bcrypt.MinCost
	return s
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	user, token, err := s.Register(ctx, " Ann ", "Ann@Example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", user.Email)
	assert.Equal(t, "Ann", user.Name)
	assert.NotEqual(t, "hunter22", user.PasswordHash)

	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.Hex(), claims.Subject)

	loggedIn, _, err := s.Login(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	_, _, err := s.Register(ctx, "Ann", "ann@example.com", "hunter22")
	require.NoError(t, err)

	_, _, err = s.Login(ctx, "ann@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = s.Login(ctx, "bob@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	_, _, err := s.Register(ctx, "Ann", "ann@example.com", "hunter22")
	require.NoError(t, err)

	_, _, err = s.Register(ctx, "Ann", "ANN@example.com", "other-pass")
	assert.ErrorIs(t, err, storage.ErrDuplicateEmail)
}

func TestParseTokenRejectsExpiredAndForeign(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	_, token, err := s.Register(ctx, "Ann", "ann@example.com", "hunter22")
	require.NoError(t, err)

	other := NewService(storage.NewMemoryStore(), "other-secret", time.Hour)
	_, err = other.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
