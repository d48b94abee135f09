package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpPeriod = 30

var (
	ErrInvalidTOTPCode   = errors.New("invalid TOTP code")
	ErrMFANotEnrolled    = errors.New("MFA not enrolled")
	ErrMFAAlreadyEnabled = errors.New("MFA already enabled for this user")
)

// TOTPEnrollment is handed to the user once so an authenticator app can be
// set up.
type TOTPEnrollment struct {
	Secret string
	URL    string
}

type MFAService struct {
	Users  store.Users
	Issuer string // shown in authenticator apps, e.g. "FlightDesk"
	Now    func() time.Time
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// EnrollTOTP generates and stores a pending secret. MFA is not enforced
// until ConfirmTOTP succeeds.
func (s *MFAService) EnrollTOTP(ctx context.Context, userID string) (TOTPEnrollment, error) {
	u, err := s.Users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return TOTPEnrollment{}, ErrUserNotFound
	}
	if err != nil {
		return TOTPEnrollment{}, err
	}
	if u.TOTPEnabled() {
		return TOTPEnrollment{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: u.Username,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TOTPEnrollment{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	if err := s.Users.SetTOTPSecret(ctx, userID, key.Secret()); err != nil {
		return TOTPEnrollment{}, fmt.Errorf("failed to store TOTP secret: %w", err)
	}
	return TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmTOTP enables MFA once the user proves they hold the pending secret.
func (s *MFAService) ConfirmTOTP(ctx context.Context, userID, code string) error {
	u, err := s.Users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if u.TOTPSecret == "" {
		return ErrMFANotEnrolled
	}
	if u.TOTPEnabled() {
		return ErrMFAAlreadyEnabled
	}

	now := s.now()
	if !validateTOTP(code, u.TOTPSecret, now) {
		return ErrInvalidTOTPCode
	}
	return s.Users.EnableTOTP(ctx, userID, now)
}

// ResetTOTP clears MFA for a user who lost their device. Admin only.
func (s *MFAService) ResetTOTP(ctx context.Context, userID string) error {
	err := s.Users.DisableTOTP(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func validateTOTP(code, secret string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
