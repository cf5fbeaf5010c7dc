package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sync"

	"github.com/google/uuid"
	"github.com/qcom/taskmanager/internal/models"
	"github.com/qcom/taskmanager/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// UserStore is the identity store. Find methods return nil, nil when no
// matching user exists.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindActiveByID(ctx context.Context, id string) (*models.User, error)
	FindActiveByEmail(ctx context.Context, email string) (*models.User, error)
	SoftDelete(ctx context.Context, id string) error
}

type AuthService struct {
	users      UserStore
	jwtService *JWTService
	hashCost   int
	logger     *logrus.Logger

	// dummyHash is compared against when no user matches, so a login for an
	// unknown email costs the same as one with a wrong password.
	dummyOnce sync.Once
	dummyHash []byte
}

type AuthOption func(*AuthService)

// WithHashCost sets the bcrypt cost used for new password hashes.
func WithHashCost(cost int) AuthOption {
	return func(s *AuthService) {
		s.hashCost = cost
	}
}

func NewAuthService(users UserStore, jwtService *JWTService, logger *logrus.Logger, opts ...AuthOption) *AuthService {
	s := &AuthService{
		users:      users,
		jwtService: jwtService,
		hashCost:   bcrypt.DefaultCost,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session is what a successful register, login or refresh hands back.
type Session struct {
	User   *models.User
	Tokens *models.TokenPair
}

func (s *AuthService) Register(ctx context.Context, email, password string) (*Session, error) {
	email = models.NormalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		Status:       models.UserStatusActive,
		Roles:        []models.Role{models.RoleUser},
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.WithField("user_id", user.ID).Info("User registered")
	return s.newSession(user)
}

// Login never reveals whether the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.FindActiveByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.unknownUserHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.newSession(user)
}

// Refresh exchanges a refresh token for a brand new pair. The presented
// token must verify, be of the refresh class and name a subject that is
// still active. The old refresh token stays valid until its own expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.jwtService.VerifyClass(refreshToken, models.TokenClassRefresh)
	if err != nil {
		return nil, err
	}

	user, err := s.ResolveActive(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	return s.newSession(user)
}

// ResolveActive maps a verified subject id to an active user. Store failures
// are reported as-is and not retried.
func (s *AuthService) ResolveActive(ctx context.Context, subjectID string) (*models.User, error) {
	user, err := s.users.FindActiveByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve subject: %w", err)
	}
	if user == nil {
		return nil, ErrSubjectNotActive
	}
	return user, nil
}

func (s *AuthService) FindActiveByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindActiveByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) SoftDelete(ctx context.Context, id string) error {
	if err := s.users.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	s.logger.WithField("user_id", id).Info("User soft deleted")
	return nil
}

func (s *AuthService) unknownUserHash() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(uuid.New().String()), s.hashCost)
		if err != nil {
			s.logger.WithError(err).Error("Failed to generate placeholder password hash")
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *AuthService) newSession(user *models.User) (*Session, error) {
	pair, err := s.jwtService.IssuePair(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	return &Session{User: user, Tokens: pair}, nil
}
