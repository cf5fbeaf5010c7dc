package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/qcom/taskmanager/internal/models"
	"github.com/qcom/taskmanager/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memoryUserStore struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	findErr error
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{byID: make(map[string]*models.User)}
}

func (m *memoryUserStore) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email {
			return fmt.Errorf("user %s: %w", user.Email, repository.ErrAlreadyExists)
		}
	}
	cp := *user
	m.byID[user.ID] = &cp
	return nil
}

func (m *memoryUserStore) FindActiveByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if u, ok := m.byID[id]; ok && u.IsActive() {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memoryUserStore) FindActiveByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email && u.IsActive() {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryUserStore) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.Status = models.UserStatusDeleted
	}
	return nil
}

func newTestAuthService(t *testing.T) (*AuthService, *memoryUserStore, *JWTService, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	jwtSvc := newTestJWTService(t, clock)
	store := newMemoryUserStore()
	svc := NewAuthService(store, jwtSvc, testLogger(), WithHashCost(bcrypt.MinCost))
	return svc, store, jwtSvc, clock
}

func TestAuthService_Register(t *testing.T) {
	svc, _, jwtSvc, _ := newTestAuthService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, "  New.User@Example.com ", "password123")
	require.NoError(t, err)

	assert.Equal(t, "new.user@example.com", session.User.Email)
	assert.Equal(t, models.UserStatusActive, session.User.Status)
	assert.Equal(t, []models.Role{models.RoleUser}, session.User.Roles)
	assert.NotEqual(t, "password123", session.User.PasswordHash)

	claims, err := jwtSvc.VerifyClass(session.Tokens.AccessToken, models.TokenClassAccess)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.Subject)
	assert.True(t, jwtSvc.IsRefreshToken(session.Tokens.RefreshToken))
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc, _, _, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "not-an-email", "password123")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.Register(ctx, "Bob <bob@example.com>", "password123")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.Register(ctx, "bob@example.com", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Register(ctx, "bob@example.com", "password123")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "BOB@example.com", "password456")
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestAuthService_Login(t *testing.T) {
	svc, _, _, _ := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "login@example.com", "password123")
	require.NoError(t, err)

	session, err := svc.Login(ctx, "LOGIN@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, session.User.ID)

	_, err = svc.Login(ctx, "login@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_LoginUnknownEmailHashes(t *testing.T) {
	svc, _, _, _ := newTestAuthService(t)

	_, err := svc.Login(context.Background(), "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// the unknown-email path compares against a hash of the same cost
	require.NotNil(t, svc.dummyHash)
	cost, err := bcrypt.Cost(svc.dummyHash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestAuthService_LoginDeletedUser(t *testing.T) {
	svc, _, _, _ := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "gone@example.com", "password123")
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(ctx, registered.User.ID))

	_, err = svc.Login(ctx, "gone@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.FindActiveByID(ctx, registered.User.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthService_Refresh(t *testing.T) {
	svc, _, jwtSvc, clock := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "refresh@example.com", "password123")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	session, err := svc.Refresh(ctx, registered.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, session.User.ID)
	assert.NotEqual(t, registered.Tokens.AccessToken, session.Tokens.AccessToken)
	assert.NotEqual(t, registered.Tokens.RefreshToken, session.Tokens.RefreshToken)
	assert.True(t, jwtSvc.IsAccessToken(session.Tokens.AccessToken))

	// no revocation: the old refresh token keeps working
	_, err = svc.Refresh(ctx, registered.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestAuthService_RefreshRejections(t *testing.T) {
	svc, store, _, clock := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "reject@example.com", "password123")
	require.NoError(t, err)

	t.Run("access token", func(t *testing.T) {
		session, err := svc.Refresh(ctx, registered.Tokens.AccessToken)
		assert.Nil(t, session)
		assert.ErrorIs(t, err, ErrTokenWrongClass)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := svc.Refresh(ctx, "invalid.token.here")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("store failure", func(t *testing.T) {
		store.findErr = errors.New("connection reset")
		defer func() { store.findErr = nil }()

		_, err := svc.Refresh(ctx, registered.Tokens.RefreshToken)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrSubjectNotActive)
	})

	t.Run("deleted subject", func(t *testing.T) {
		require.NoError(t, svc.SoftDelete(ctx, registered.User.ID))
		_, err := svc.Refresh(ctx, registered.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrSubjectNotActive)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(7 * 24 * time.Hour)
		_, err := svc.Refresh(ctx, registered.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}
