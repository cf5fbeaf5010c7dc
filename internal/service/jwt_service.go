package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/qcom/taskmanager/internal/config"
	"github.com/qcom/taskmanager/internal/models"
	"github.com/sirupsen/logrus"
)

var tokenVerificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_token_verifications_total",
		Help: "Total number of token verifications by outcome",
	},
	[]string{"result"},
)

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
	logger        *logrus.Logger
}

type JWTOption func(*JWTService)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) JWTOption {
	return func(s *JWTService) {
		s.now = now
	}
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger, opts ...JWTOption) (*JWTService, error) {
	secretKey := []byte(cfg.Secret)
	if len(secretKey) < config.MinSecretLength {
		return nil, fmt.Errorf("%w: secret key must be at least %d bytes", config.ErrConfigurationInvalid, config.MinSecretLength)
	}
	if cfg.AccessExpiry < config.MinTokenTTL || cfg.RefreshExpiry < config.MinTokenTTL {
		return nil, fmt.Errorf("%w: token TTLs must be at least %s", config.ErrConfigurationInvalid, config.MinTokenTTL)
	}

	s := &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Claims carries the subject id in "sub", the informational email and the
// token class. Email must never be used for authorization.
type Claims struct {
	Email string            `json:"email"`
	Type  models.TokenClass `json:"type"`
	jwt.RegisteredClaims
}

// Issue mints a single signed token of the given class.
func (s *JWTService) Issue(subjectID, email string, class models.TokenClass, ttl time.Duration) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("subject id is required")
	}
	if ttl < config.MinTokenTTL {
		return "", fmt.Errorf("token ttl must be at least %s", config.MinTokenTTL)
	}
	if class != models.TokenClassAccess && class != models.TokenClassRefresh {
		return "", fmt.Errorf("unknown token class %q", class)
	}

	now := s.now()
	claims := &Claims{
		Email: email,
		Type:  class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).WithField("type", class).Error("Failed to sign token")
		return "", fmt.Errorf("failed to sign %s token: %w", class, err)
	}
	return signed, nil
}

// IssuePair mints an independent access and refresh token for the subject.
func (s *JWTService) IssuePair(subjectID, email string) (*models.TokenPair, error) {
	access, err := s.Issue(subjectID, email, models.TokenClassAccess, s.accessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Issue(subjectID, email, models.TokenClassRefresh, s.refreshExpiry)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessExpiry / time.Second),
		RefreshExpiresIn: int64(s.refreshExpiry / time.Second),
	}, nil
}

// Verify checks signature, structure and expiry. The returned error is
// ErrTokenExpired or ErrTokenInvalid; both must be reported to clients the
// same way.
func (s *JWTService) Verify(tokenString string) (*Claims, error) {
	claims, err := s.verify(tokenString)
	if err != nil {
		tokenVerificationsTotal.WithLabelValues(verificationResult(err)).Inc()
		return nil, err
	}
	tokenVerificationsTotal.WithLabelValues("ok").Inc()
	return claims, nil
}

func (s *JWTService) verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing subject or issue time", ErrTokenInvalid)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, fmt.Errorf("%w: expiry not after issue time", ErrTokenInvalid)
	}
	if claims.Type != models.TokenClassAccess && claims.Type != models.TokenClassRefresh {
		return nil, fmt.Errorf("%w: unknown class %q", ErrTokenInvalid, claims.Type)
	}

	return claims, nil
}

// VerifyClass verifies the token and requires it to carry the given class.
func (s *JWTService) VerifyClass(tokenString string, class models.TokenClass) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != class {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrTokenWrongClass, class, claims.Type)
	}
	return claims, nil
}

func (s *JWTService) Validate(tokenString string) bool {
	_, err := s.Verify(tokenString)
	return err == nil
}

func (s *JWTService) IsAccessToken(tokenString string) bool {
	_, err := s.VerifyClass(tokenString, models.TokenClassAccess)
	return err == nil
}

func (s *JWTService) IsRefreshToken(tokenString string) bool {
	_, err := s.VerifyClass(tokenString, models.TokenClassRefresh)
	return err == nil
}

func (s *JWTService) AccessTokenExpirationMs() int64 {
	return s.accessExpiry.Milliseconds()
}

func (s *JWTService) RefreshTokenExpirationMs() int64 {
	return s.refreshExpiry.Milliseconds()
}

func verificationResult(err error) string {
	if errors.Is(err, ErrTokenExpired) {
		return "expired"
	}
	return "invalid"
}
