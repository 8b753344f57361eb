package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Session is an explicit per-session credential holder for server-side
// consumers making outbound calls on behalf of one principal. It replaces
// any process-wide token singleton: each session owns its pair, and
// proactive refresh is serialized and throttled per session so concurrent
// requests cannot trigger a refresh storm.
type Session struct {
	mu          sync.Mutex
	manager     *Manager
	pair        TokenPair
	principal   Principal
	now         func() time.Time
	throttle    time.Duration
	lastRefresh time.Time
}

// SessionOption configures Session behavior.
type SessionOption func(*Session)

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(s *Session) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSessionThrottle overrides the minimum interval between refresh
// attempts.
func WithSessionThrottle(window time.Duration) SessionOption {
	return func(s *Session) {
		if window > 0 {
			s.throttle = window
		}
	}
}

// NewSession wraps an issued pair in a credential holder.
func NewSession(manager *Manager, pair TokenPair, principal Principal, opts ...SessionOption) (*Session, error) {
	if manager == nil {
		return nil, errors.New("auth: manager is required")
	}
	s := &Session{
		manager:   manager,
		pair:      pair,
		principal: principal,
		now:       time.Now,
		throttle:  RefreshThrottleWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessToken returns a valid access token, refreshing proactively when
// fewer than the expiry-soon threshold remains. Refresh attempts are capped
// at one per throttle window; within the window the current token is
// returned as is.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pair.AccessExpiresAt.Sub(s.now()) >= ExpirySoonThreshold {
		return s.pair.AccessToken, nil
	}
	if s.now().Sub(s.lastRefresh) < s.throttle {
		return s.pair.AccessToken, nil
	}
	s.lastRefresh = s.now()

	pair, principal, err := s.manager.Refresh(ctx, s.pair.RefreshToken)
	if err != nil {
		return "", err
	}
	s.pair = pair
	s.principal = principal
	return s.pair.AccessToken, nil
}

// Principal returns the identity the session was established for.
func (s *Session) Principal() Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// Close revokes the session's refresh token.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	token := s.pair.RefreshToken
	s.pair = TokenPair{}
	s.mu.Unlock()
	if token == "" {
		return nil
	}
	return s.manager.Revoke(ctx, token)
}
