package apns

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// DefaultTokenTTL is how long a signed provider token is reused. APNs
	// rejects tokens older than an hour, and refreshing more often than every
	// 20 minutes results in TooManyProviderTokenUpdates.
	DefaultTokenTTL = 55 * time.Minute

	MinTokenTTL = 20 * time.Minute
	MaxTokenTTL = 60 * time.Minute
)

// TokenSigner produces provider authentication tokens, reusing the cached
// token until it goes stale.
type TokenSigner struct {
	cred *SigningCredential
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	token    string
	issuedAt time.Time

	signings uint64
}

// NewTokenSigner returns a new TokenSigner. A zero ttl uses DefaultTokenTTL.
func NewTokenSigner(cred *SigningCredential, ttl time.Duration) (*TokenSigner, error) {
	if cred == nil || cred.Key == nil {
		return nil, errors.Wrap(ErrMalformedKey, "signing credential is required")
	}

	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	if ttl < MinTokenTTL || ttl > MaxTokenTTL {
		return nil, errors.Wrapf(ErrInvalidTokenTTL, "%v not within [%v, %v]", ttl, MinTokenTTL, MaxTokenTTL)
	}

	return &TokenSigner{
		cred: cred,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// Token returns a fresh provider token.
func (s *TokenSigner) Token() (string, error) {
	return s.TokenAt(s.now())
}

// TokenAt returns the cached token if it was issued less than the ttl before
// now, otherwise signs and caches a new one. Concurrent callers observing a
// stale token result in a single signing operation.
func (s *TokenSigner) TokenAt(now time.Time) (string, error) {
	s.mu.RLock()
	token, fresh := s.cachedLocked(now)
	s.mu.RUnlock()
	if fresh {
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited on the lock
	if token, fresh := s.cachedLocked(now); fresh {
		return token, nil
	}

	token, err := s.sign(now)
	if err != nil {
		return "", err
	}

	s.token = token
	s.issuedAt = now
	return token, nil
}

// Authorization returns the authorization header value for a request.
func (s *TokenSigner) Authorization() (string, error) {
	token, err := s.Token()
	if err != nil {
		return "", err
	}
	return "bearer " + token, nil
}

// Invalidate drops the cached token so the next request signs a new one.
func (s *TokenSigner) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.issuedAt = time.Time{}
	s.mu.Unlock()
}

// IssuedAt returns the issue time of the cached token, if any.
func (s *TokenSigner) IssuedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.issuedAt, len(s.token) > 0
}

func (s *TokenSigner) cachedLocked(now time.Time) (string, bool) {
	if len(s.token) == 0 {
		return "", false
	}

	age := now.Sub(s.issuedAt)
	return s.token, age >= 0 && age < s.ttl
}

func (s *TokenSigner) sign(now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": s.cred.TeamID,
		"iat": now.Unix(),
	})
	token.Header = map[string]interface{}{
		"alg": jwt.SigningMethodES256.Alg(),
		"kid": s.cred.KeyID,
	}

	signed, err := token.SignedString(s.cred.Key)
	if err != nil {
		return "", errors.Wrap(ErrSigningFailed, err.Error())
	}

	s.signings++
	return signed, nil
}
