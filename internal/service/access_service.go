package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/yagsothebrand/waitlist-api/internal/domain"
	"github.com/yagsothebrand/waitlist-api/internal/mailer"
	"github.com/yagsothebrand/waitlist-api/internal/repo/postgres"
	"github.com/yagsothebrand/waitlist-api/pkg/events"
	"github.com/yagsothebrand/waitlist-api/pkg/logger"
)

// AccessService is the waitlist access protocol. A record moves pending ->
// verified exactly once, via a magic-link visit; once verified, every future
// access request for that email grants immediately with no email dispatch.
type AccessService interface {
	RequestAccess(ctx context.Context, rawEmail string) (*domain.AccessResult, error)
	DeliverVerification(ctx context.Context, in DeliverInput) error
	ResolveToken(ctx context.Context, tokenID string) (*domain.WaitlistRecord, error)
	ConfirmLogin(ctx context.Context, tokenID string) error
	VerifyPasscode(ctx context.Context, email, passcode string) (*domain.WaitlistRecord, error)
}

// DeliverInput carries everything DeliverVerification needs to compose and
// dispatch one verification email.
type DeliverInput struct {
	Email    string
	Passcode string
	TokenID  string
	IsResend bool
}

type accessService struct {
	repo     postgres.WaitlistRepo
	mailer   mailer.Service
	eventBus events.Publisher
	baseURL  string
}

func NewAccessService(repo postgres.WaitlistRepo, m mailer.Service, bus events.Publisher, publicBaseURL string) AccessService {
	return &accessService{
		repo:     repo,
		mailer:   m,
		eventBus: bus,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *accessService) RequestAccess(ctx context.Context, rawEmail string) (*domain.AccessResult, error) {
	req := domain.AccessRequest{Email: rawEmail}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rec, created, err := s.repo.CreateIfAbsent(ctx, req.Email, generatePasscode())
	if err != nil {
		return nil, fmt.Errorf("failed to create waitlist entry: %w", err)
	}

	result := &domain.AccessResult{
		IsExisting: !created,
		TokenID:    rec.ID,
		Passcode:   rec.Passcode,
		Email:      rec.Email,
	}

	if rec.Verified() {
		// Returning verified user: grant without touching email delivery.
		result.GrantForever = true
		s.publish(ctx, events.AccessRequested, events.AccessRequestedEvent{
			TokenID: rec.ID, Email: rec.Email, IsExisting: true, GrantForever: true, RequestedAt: time.Now(),
		})
		return result, nil
	}

	// A record must never be left without a passcode; backfill lazily.
	if rec.Passcode == "" {
		pc, err := s.repo.EnsurePasscode(ctx, rec.ID, generatePasscode())
		if err != nil {
			return nil, fmt.Errorf("failed to backfill passcode: %w", err)
		}
		result.Passcode = pc
	}

	s.publish(ctx, events.AccessRequested, events.AccessRequestedEvent{
		TokenID: rec.ID, Email: rec.Email, IsExisting: result.IsExisting, RequestedAt: time.Now(),
	})
	return result, nil
}

func (s *accessService) DeliverVerification(ctx context.Context, in DeliverInput) error {
	link := s.MagicLink(in.TokenID)

	if err := s.mailer.SendAccessEmail(in.Email, in.Passcode, link, in.IsResend); err != nil {
		return fmt.Errorf("failed to send access email: %w", err)
	}

	// Send bookkeeping is applied on both first sends and resends. Failure
	// here does not undo the dispatch.
	if err := s.repo.RecordEmailSent(ctx, in.TokenID); err != nil {
		logger.ErrorContext(ctx, "Failed to record email send", "error", err, "token_id", in.TokenID)
	}

	s.publish(ctx, events.EmailSent, events.EmailSentEvent{
		TokenID: in.TokenID, Email: in.Email, IsResend: in.IsResend, SentAt: time.Now(),
	})
	return nil
}

func (s *accessService) ResolveToken(ctx context.Context, tokenID string) (*domain.WaitlistRecord, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, nil
	}
	return s.repo.GetByID(ctx, tokenID)
}

func (s *accessService) ConfirmLogin(ctx context.Context, tokenID string) error {
	if err := s.repo.MarkVerified(ctx, tokenID); err != nil {
		return fmt.Errorf("failed to mark entry verified: %w", err)
	}
	s.publish(ctx, events.AccessGranted, events.AccessGrantedEvent{
		TokenID: tokenID, GrantedAt: time.Now(),
	})
	return nil
}

func (s *accessService) VerifyPasscode(ctx context.Context, email, passcode string) (*domain.WaitlistRecord, error) {
	in := domain.PasscodeVerify{Email: email, Passcode: passcode}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	rec, err := s.repo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up waitlist entry: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	if subtle.ConstantTimeCompare([]byte(rec.Passcode), []byte(in.Passcode)) != 1 {
		return nil, nil
	}
	if err := s.ConfirmLogin(ctx, rec.ID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, rec.ID)
}

// MagicLink builds the verification URL; the token id is the sole path
// segment and the sole credential.
func (s *accessService) MagicLink(tokenID string) string {
	return fmt.Sprintf("%s/%s", s.baseURL, tokenID)
}

func (s *accessService) publish(ctx context.Context, subject string, data interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, data); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "error", err, "subject", subject)
	}
}

func generatePasscode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// crypto/rand only fails on a broken host; fall back to the clock.
		return fmt.Sprintf("%06d", time.Now().UnixNano()%900000+100000)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}
