package mailproto

import "errors"

var (
	ErrBadGreeting = errors.New("unexpected server greeting")

	ErrBadEhloAnswer         = errors.New("EHLO not accepted")
	ErrSenderRejected        = errors.New("sender rejected")
	ErrNoRecipientAccepted   = errors.New("no recipient accepted")
	ErrDataRejected          = errors.New("DATA rejected")
	ErrReceptionNotConfirmed = errors.New("message reception not confirmed")

	ErrInvalidPort      = errors.New("invalid port")
	ErrUserRejected     = errors.New("USER rejected")
	ErrPasswordRejected = errors.New("PASS rejected")
	ErrStat             = errors.New("malformed STAT answer")
)
