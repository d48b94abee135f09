package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/pkg/cryptox"
	"github.com/flightdesk/flightdesk/pkg/idx"
	"github.com/flightdesk/flightdesk/pkg/jwtx"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// maxChainWalk bounds the replaced_by walk during reuse detection.
const maxChainWalk = 1024

// TokenService issues, verifies, rotates and revokes tokens. Refresh token
// values never reach storage or logs; only their fingerprints do.
type TokenService struct {
	Signer   jwtx.Signer
	Verifier jwtx.Verifier

	// Users supplies the current role set on rotation.
	Users  store.Users
	Tokens store.RefreshTokens

	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ReuseDetection revokes every descendant of a rotated token when that
	// token is presented again. Off by default: only the presented token is
	// rejected.
	ReuseDetection bool

	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Issue starts a new session for an already authenticated user and returns
// the access/refresh pair. The refresh row is persisted unrevoked.
func (s *TokenService) Issue(ctx context.Context, u domain.User) (domain.TokenPair, error) {
	if u.ID == "" {
		return domain.TokenPair{}, ErrInvalidCredentials
	}

	now := s.now()
	pair, rt, err := s.mint(u, idx.NewAt(now).String(), now)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if err := s.Tokens.CreateRefreshToken(ctx, rt); err != nil {
		return domain.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	if s.Metrics != nil {
		s.Metrics.TokensIssued.Inc()
	}
	slogx.FromContext(ctx).Info("session issued",
		slog.String("user_id", u.ID),
		slog.String("session_id", rt.SessionID),
	)
	return pair, nil
}

// Verify validates an access token. It never touches storage.
func (s *TokenService) Verify(token string) (jwtx.Claims, error) {
	claims, err := s.Verifier.Verify(token)
	if err == nil {
		return claims, nil
	}

	kind, out := "invalid", ErrInvalidToken
	if errors.Is(err, jwtx.ErrExpired) {
		kind, out = "expired", ErrExpiredToken
	}
	if s.Metrics != nil {
		s.Metrics.VerifyFailures.WithLabelValues(kind).Inc()
	}
	return jwtx.Claims{}, fmt.Errorf("%w: %v", out, err)
}

// Rotate exchanges a refresh token for a new pair in the same session. The
// store revokes the presented token and inserts its successor atomically, so
// of two concurrent rotations of one token exactly one succeeds and the other
// gets ErrTokenRevoked.
func (s *TokenService) Rotate(ctx context.Context, refreshValue, userID string) (domain.TokenPair, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	rt, err := s.lookup(ctx, refreshValue)
	if errors.Is(err, store.ErrNotFound) || (err == nil && rt.UserID != userID) {
		s.countRotation(metrics.RotationNotFound)
		return domain.TokenPair{}, ErrTokenNotFound
	}
	if err != nil {
		s.countRotation(metrics.RotationError)
		return domain.TokenPair{}, err
	}

	if rt.Revoked {
		s.countRotation(metrics.RotationRevoked)
		if rt.RevocationReason == domain.ReasonRotated {
			s.onReuse(ctx, rt, now)
		}
		return domain.TokenPair{}, ErrTokenRevoked
	}
	if rt.IsExpired(now) {
		s.countRotation(metrics.RotationExpired)
		return domain.TokenPair{}, ErrTokenExpired
	}

	u, err := s.Users.GetUserByID(ctx, rt.UserID)
	if errors.Is(err, store.ErrNotFound) {
		s.countRotation(metrics.RotationNotFound)
		return domain.TokenPair{}, ErrTokenNotFound
	}
	if err != nil {
		s.countRotation(metrics.RotationError)
		return domain.TokenPair{}, err
	}

	pair, next, err := s.mint(u, rt.SessionID, now)
	if err != nil {
		s.countRotation(metrics.RotationError)
		return domain.TokenPair{}, err
	}

	err = s.Tokens.RotateRefreshToken(ctx, rt.TokenHash, next, now)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		s.countRotation(metrics.RotationRevoked)
		l.Info("refresh rotation lost race", slog.String("session_id", rt.SessionID))
		return domain.TokenPair{}, ErrTokenRevoked
	case errors.Is(err, store.ErrNotFound):
		s.countRotation(metrics.RotationNotFound)
		return domain.TokenPair{}, ErrTokenNotFound
	default:
		s.countRotation(metrics.RotationError)
		return domain.TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.countRotation(metrics.RotationOK)
	s.countRevocations(domain.ReasonRotated, 1)
	l.Debug("refresh token rotated",
		slog.String("user_id", u.ID),
		slog.String("session_id", rt.SessionID),
	)
	return pair, nil
}

// onReuse handles an already-rotated token being presented again. With
// reuse detection on, every descendant reachable through replaced_by is
// revoked, which ends the session for whoever holds the live token.
func (s *TokenService) onReuse(ctx context.Context, rt domain.RefreshToken, now time.Time) {
	l := slogx.FromContext(ctx).With(
		slog.String("user_id", rt.UserID),
		slog.String("session_id", rt.SessionID),
	)
	if s.Metrics != nil {
		s.Metrics.ReuseDetected.Inc()
	}
	if !s.ReuseDetection {
		l.Warn("rotated refresh token presented again")
		return
	}

	revoked := 0
	seen := map[string]struct{}{rt.ID: {}}
	for id := rt.ReplacedBy; id != "" && len(seen) < maxChainWalk; {
		if _, ok := seen[id]; ok {
			break
		}
		seen[id] = struct{}{}

		next, err := s.Tokens.GetRefreshTokenByID(ctx, id)
		if err != nil {
			l.Error("reuse detection: load descendant", slog.String("token_id", id), slog.Any("error", err))
			break
		}
		if !next.Revoked {
			ok, err := s.Tokens.RevokeRefreshToken(ctx, next.ID, domain.ReasonReuseDetected, now)
			if err != nil {
				l.Error("reuse detection: revoke descendant", slog.String("token_id", id), slog.Any("error", err))
				break
			}
			if ok {
				revoked++
			}
		}
		id = next.ReplacedBy
	}

	s.countRevocations(domain.ReasonReuseDetected, revoked)
	l.Warn("rotated refresh token presented again, chain revoked", slog.Int("revoked", revoked))
}

// Revoke marks the token permanently unusable. It reports false when the
// value is unknown or was already revoked.
func (s *TokenService) Revoke(ctx context.Context, refreshValue string, reason domain.RevocationReason) (bool, error) {
	if err := validateReason(reason); err != nil {
		return false, err
	}

	rt, err := s.lookup(ctx, refreshValue)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ok, err := s.Tokens.RevokeRefreshToken(ctx, rt.ID, reason, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	if ok {
		s.countRevocations(reason, 1)
	}
	return ok, nil
}

// IsRevoked reports whether the value can no longer be used. Unknown values
// count as revoked.
func (s *TokenService) IsRevoked(ctx context.Context, refreshValue string) (bool, error) {
	rt, err := s.lookup(ctx, refreshValue)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return rt.Revoked, nil
}

// FindActive returns the stored record when the value is known, unrevoked
// and unexpired, and nil otherwise.
func (s *TokenService) FindActive(ctx context.Context, refreshValue string) (*domain.RefreshToken, error) {
	rt, err := s.lookup(ctx, refreshValue)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rt.IsActive(s.now()) {
		return nil, nil
	}
	return &rt, nil
}

// RevokeAllForUser ends every session of userID.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string, reason domain.RevocationReason) (int, error) {
	if err := validateReason(reason); err != nil {
		return 0, err
	}
	n, err := s.Tokens.RevokeAllUserRefreshTokens(ctx, userID, reason, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	s.countRevocations(reason, n)
	slogx.FromContext(ctx).Info("user sessions revoked",
		slog.String("user_id", userID),
		slog.String("reason", string(reason)),
		slog.Int("revoked", n),
	)
	return n, nil
}

// ListSessions returns the user's refresh token history, newest first.
func (s *TokenService) ListSessions(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	return s.Tokens.ListUserRefreshTokens(ctx, userID)
}

func (s *TokenService) lookup(ctx context.Context, refreshValue string) (domain.RefreshToken, error) {
	refreshValue = strings.TrimSpace(refreshValue)
	if refreshValue == "" {
		return domain.RefreshToken{}, store.ErrNotFound
	}
	return s.Tokens.GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(refreshValue))
}

// mint signs an access token and prepares the matching refresh record.
func (s *TokenService) mint(u domain.User, sessionID string, now time.Time) (domain.TokenPair, domain.RefreshToken, error) {
	claims := jwtx.NewAccessClaims(u.ID, sessionID, u.Username, u.Roles, s.Issuer, s.AccessTTL, now)
	access, err := s.Signer.Sign(claims)
	if err != nil {
		return domain.TokenPair{}, domain.RefreshToken{}, err
	}

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, domain.RefreshToken{}, err
	}

	rt := domain.RefreshToken{
		ID:        idx.NewAt(now).String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(opaque),
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.RefreshTTL),
	}
	pair := domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     opaque,
		TokenType:        "Bearer",
		IssuedAt:         now,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: rt.ExpiresAt,
		UserID:           u.ID,
		SessionID:        sessionID,
		Roles:            claims.Roles,
	}
	return pair, rt, nil
}

func (s *TokenService) countRotation(result string) {
	if s.Metrics != nil {
		s.Metrics.Rotations.WithLabelValues(result).Inc()
	}
}

func (s *TokenService) countRevocations(reason domain.RevocationReason, n int) {
	if s.Metrics != nil && n > 0 {
		s.Metrics.Revocations.WithLabelValues(string(reason)).Add(float64(n))
	}
}

func validateReason(reason domain.RevocationReason) error {
	if reason == "" || len(reason) > domain.MaxReasonLength {
		return fmt.Errorf("%w: revocation reason must be 1-%d characters", ErrInvalidRequest, domain.MaxReasonLength)
	}
	return nil
}
