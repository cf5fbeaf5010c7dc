package service

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/qcom/taskmanager/internal/config"
	"github.com/qcom/taskmanager/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "mySecretKeyForJWTTokenGenerationMustBeAtLeast256BitsLong"

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestJWTService(t *testing.T, clock *fakeClock) *JWTService {
	t.Helper()
	svc, err := NewJWTService(&config.JWTConfig{
		Secret:        testSecret,
		AccessExpiry:  time.Hour,
		RefreshExpiry: 7 * 24 * time.Hour,
	}, testLogger(), WithClock(clock.Now))
	require.NoError(t, err)
	return svc
}

// flipChar replaces the character at i with a different base64url character.
func flipChar(s string, i int) string {
	b := []byte(s)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestNewJWTService_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.JWTConfig
	}{
		{"short secret", config.JWTConfig{Secret: "short", AccessExpiry: time.Hour, RefreshExpiry: time.Hour}},
		{"zero access ttl", config.JWTConfig{Secret: testSecret, RefreshExpiry: time.Hour}},
		{"negative refresh ttl", config.JWTConfig{Secret: testSecret, AccessExpiry: time.Hour, RefreshExpiry: -time.Hour}},
		{"sub-second access ttl", config.JWTConfig{Secret: testSecret, AccessExpiry: 500 * time.Millisecond, RefreshExpiry: time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewJWTService(&tt.cfg, testLogger())
			assert.Nil(t, svc)
			assert.ErrorIs(t, err, config.ErrConfigurationInvalid)
		})
	}
}

func TestJWTService_IssueAndVerify(t *testing.T) {
	clock := newFakeClock()
	svc := newTestJWTService(t, clock)

	for _, class := range []models.TokenClass{models.TokenClassAccess, models.TokenClassRefresh} {
		t.Run(string(class), func(t *testing.T) {
			token, err := svc.Issue("user-123", "test@example.com", class, time.Hour)
			require.NoError(t, err)

			claims, err := svc.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, "user-123", claims.Subject)
			assert.Equal(t, "test@example.com", claims.Email)
			assert.Equal(t, class, claims.Type)
			assert.Equal(t, clock.Now().Unix(), claims.IssuedAt.Unix())
			assert.Equal(t, clock.Now().Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
			assert.NotEmpty(t, claims.ID)
		})
	}
}

func TestJWTService_IssueRejectsBadInput(t *testing.T) {
	svc := newTestJWTService(t, newFakeClock())

	_, err := svc.Issue("", "a@b.c", models.TokenClassAccess, time.Hour)
	assert.Error(t, err)

	_, err = svc.Issue("u1", "a@b.c", models.TokenClassAccess, 0)
	assert.Error(t, err)

	_, err = svc.Issue("u1", "a@b.c", models.TokenClassAccess, 500*time.Millisecond)
	assert.Error(t, err)

	_, err = svc.Issue("u1", "a@b.c", models.TokenClass("admin"), time.Hour)
	assert.Error(t, err)
}

func TestJWTService_MinimumTTLRoundTrip(t *testing.T) {
	// a clock off the second boundary exercises NumericDate truncation
	clock := &fakeClock{now: time.Unix(1_700_000_000, 999_000_000)}
	svc, err := NewJWTService(&config.JWTConfig{
		Secret:        testSecret,
		AccessExpiry:  config.MinTokenTTL,
		RefreshExpiry: config.MinTokenTTL,
	}, testLogger(), WithClock(clock.Now))
	require.NoError(t, err)

	pair, err := svc.IssuePair("user-1", "test@example.com")
	require.NoError(t, err)
	assert.True(t, svc.IsAccessToken(pair.AccessToken))
	assert.True(t, svc.IsRefreshToken(pair.RefreshToken))
}

func TestJWTService_Classification(t *testing.T) {
	svc := newTestJWTService(t, newFakeClock())

	pair, err := svc.IssuePair("user-1", "test@example.com")
	require.NoError(t, err)

	assert.True(t, svc.IsAccessToken(pair.AccessToken))
	assert.False(t, svc.IsRefreshToken(pair.AccessToken))
	assert.True(t, svc.IsRefreshToken(pair.RefreshToken))
	assert.False(t, svc.IsAccessToken(pair.RefreshToken))

	_, err = svc.VerifyClass(pair.RefreshToken, models.TokenClassAccess)
	assert.ErrorIs(t, err, ErrTokenWrongClass)
	_, err = svc.VerifyClass(pair.AccessToken, models.TokenClassRefresh)
	assert.ErrorIs(t, err, ErrTokenWrongClass)

	assert.False(t, svc.IsAccessToken("garbage"))
	assert.False(t, svc.IsRefreshToken(""))
}

func TestJWTService_IssuePair(t *testing.T) {
	clock := newFakeClock()
	svc := newTestJWTService(t, clock)

	pair, err := svc.IssuePair("user-1", "test@example.com")
	require.NoError(t, err)

	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(3600), pair.ExpiresIn)
	assert.Equal(t, int64(604800), pair.RefreshExpiresIn)
	assert.Equal(t, int64(3600000), svc.AccessTokenExpirationMs())
	assert.Equal(t, int64(604800000), svc.RefreshTokenExpirationMs())
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	access, err := svc.Verify(pair.AccessToken)
	require.NoError(t, err)
	refresh, err := svc.Verify(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, access.Subject, refresh.Subject)
	assert.Equal(t, access.Email, refresh.Email)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour).Unix(), refresh.ExpiresAt.Unix())
	assert.NotEqual(t, access.ID, refresh.ID)
}

func TestJWTService_Expiry(t *testing.T) {
	clock := newFakeClock()
	svc := newTestJWTService(t, clock)

	token, err := svc.Issue("user-1", "test@example.com", models.TokenClassAccess, time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	assert.True(t, svc.Validate(token))

	clock.Advance(time.Second)
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.False(t, svc.Validate(token))
	assert.False(t, svc.IsAccessToken(token))
}

func TestJWTService_Tampering(t *testing.T) {
	svc := newTestJWTService(t, newFakeClock())

	token, err := svc.Issue("user-1", "test@example.com", models.TokenClassAccess, time.Hour)
	require.NoError(t, err)
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	headerLen, payloadLen := len(parts[0]), len(parts[1])
	positions := map[string]int{
		"header":    headerLen / 2,
		"payload":   headerLen + 1 + payloadLen/2,
		"signature": headerLen + 1 + payloadLen + 1 + len(parts[2])/2,
	}

	for name, pos := range positions {
		t.Run(name, func(t *testing.T) {
			tampered := flipChar(token, pos)
			require.NotEqual(t, token, tampered)

			_, err := svc.Verify(tampered)
			assert.Error(t, err)
			assert.False(t, svc.IsAccessToken(tampered))
		})
	}
}

func TestJWTService_WrongKey(t *testing.T) {
	clock := newFakeClock()
	svc := newTestJWTService(t, clock)

	other, err := NewJWTService(&config.JWTConfig{
		Secret:        "a-completely-different-secret-of-enough-length",
		AccessExpiry:  time.Hour,
		RefreshExpiry: time.Hour,
	}, testLogger(), WithClock(clock.Now))
	require.NoError(t, err)

	token, err := other.Issue("user-1", "test@example.com", models.TokenClassAccess, time.Hour)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestJWTService_RejectsUnsignedAndMalformed(t *testing.T) {
	clock := newFakeClock()
	svc := newTestJWTService(t, clock)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Type: models.TokenClassAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	noneToken, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, token := range []string{"", "not.a.jwt", "invalid.token.here", noneToken} {
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid, "token %q", token)
	}
}

func TestJWTService_RejectsUnknownClass(t *testing.T) {
	clock := newFakeClock()
	svc := newTestJWTService(t, clock)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Type: models.TokenClass("admin"),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	token, err := forged.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
