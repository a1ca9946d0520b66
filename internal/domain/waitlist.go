package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/yagsothebrand/waitlist-api/internal/utils"
)

// Status is the verification state of a waitlist entry. The only legal
// transition is StatusPending -> StatusVerified; verified is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
)

// WaitlistRecord is one waitlist entry, unique per normalized email. Its ID
// doubles as the bearer token embedded in the magic link.
type WaitlistRecord struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Passcode        string     `json:"-"`
	Status          Status     `json:"status"`
	LoginAttempt    int        `json:"login_attempt"`
	EmailSendCount  int        `json:"email_send_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at,omitempty"`
}

// Verified reports whether this record has completed the magic-link step at
// least once, which flips all future access requests to the grant-forever
// path.
func (r *WaitlistRecord) Verified() bool {
	return r.Status == StatusVerified || r.LoginAttempt >= 1
}

// AccessResult is the outcome of an access request. When GrantForever is
// true no email is dispatched; otherwise the caller is expected to deliver a
// verification email carrying TokenID and Passcode.
type AccessResult struct {
	IsExisting   bool   `json:"is_existing"`
	GrantForever bool   `json:"grant_forever"`
	TokenID      string `json:"token_id"`
	Passcode     string `json:"-"`
	Email        string `json:"email"`
}

type AccessRequest struct {
	Email string `json:"email"`
}

type PasscodeVerify struct {
	Email    string `json:"email"`
	Passcode string `json:"passcode"`
}

var (
	ErrEmailRequired   = errors.New("email is required")
	ErrEmailInvalid    = errors.New("invalid email format")
	ErrPasscodeInvalid = errors.New("passcode must be 6 digits")
)

func (a *AccessRequest) Normalize() {
	a.Email = utils.NormalizeEmail(a.Email)
}

func (a *AccessRequest) Validate() error {
	if a.Email == "" {
		return ErrEmailRequired
	}
	if !utils.IsValidEmail(a.Email) {
		return ErrEmailInvalid
	}
	return nil
}

func (p *PasscodeVerify) Normalize() {
	p.Email = utils.NormalizeEmail(p.Email)
	p.Passcode = strings.TrimSpace(p.Passcode)
}

func (p *PasscodeVerify) Validate() error {
	if p.Email == "" || p.Passcode == "" {
		return ErrEmailRequired
	}
	if !utils.IsValidEmail(p.Email) {
		return ErrEmailInvalid
	}
	if len(p.Passcode) != 6 || !utils.IsDigits(p.Passcode) {
		return ErrPasscodeInvalid
	}
	return nil
}
