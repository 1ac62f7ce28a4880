package risk

import (
	"errors"
	"fmt"
)

// Code identifies why a trade decision was rejected. Codes are comparable
// errors, so callers can test for them with errors.Is.
type Code string

func (c Code) Error() string { return string(c) }

const (
	ErrInvalidStopDistance    Code = "INVALID_STOP_DISTANCE"
	ErrInsufficientMargin     Code = "INSUFFICIENT_MARGIN"
	ErrLotBelowMinimum        Code = "LOT_BELOW_MINIMUM"
	ErrExposureLimitReached   Code = "EXPOSURE_LIMIT"
	ErrPositionCountLimit     Code = "TOO_MANY_POSITIONS"
	ErrDailyLossLimitHalted   Code = "DAILY_LOSS_LIMIT"
	ErrDailyTradeLimitReached Code = "DAILY_TRADE_LIMIT"
	ErrSessionNotAllowed      Code = "SESSION_NOT_ALLOWED"
	ErrValidationFailed       Code = "VALIDATION_FAILED"
	ErrConfidenceTooLow       Code = "CONFIDENCE_TOO_LOW"
	ErrRewardRiskTooLow       Code = "RR_TOO_LOW"
	ErrConfluenceRejected     Code = "CONFLUENCE_REJECTED"
)

// Violation is a rejection together with the values that caused it.
type Violation struct {
	Code Code
	Msg  string
}

func (v *Violation) Error() string {
	if v.Msg == "" {
		return string(v.Code)
	}
	return string(v.Code) + ": " + v.Msg
}

func (v *Violation) Unwrap() error { return v.Code }

// Reject builds a Violation with a formatted message.
func Reject(code Code, format string, args ...any) *Violation {
	return &Violation{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a decision rejection rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	var c Code
	return errors.As(err, &c)
}

// CodeOf returns the rejection code carried by err, or "" when err is not a
// rejection.
func CodeOf(err error) Code {
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ""
}
