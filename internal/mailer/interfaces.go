package mailer

// Service delivers waitlist verification emails. Implementations report
// failure by error; there is no partial success.
type Service interface {
	SendAccessEmail(email, passcode, magicLink string, resend bool) error
}
