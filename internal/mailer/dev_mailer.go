package mailer

import (
	"fmt"

	"github.com/yagsothebrand/waitlist-api/pkg/logger"
)

type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendAccessEmail(email, passcode, magicLink string, resend bool) error {
	logger.Info("📧 [DEV MAIL] Waitlist Access Email",
		"to", email,
		"passcode", passcode,
		"magic_link", magicLink,
		"resend", resend,
	)

	fmt.Printf("\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"📧 WAITLIST ACCESS EMAIL (DEV MODE)\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"To: %s\n"+
		"Subject: Your Yagso early access link\n"+
		"\n"+
		"Access Code: %s\n"+
		"Magic Link: %s\n"+
		"Resend: %t\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n",
		email, passcode, magicLink, resend)

	return nil
}
