package exception

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectivity is a feed or broker transport failure.
	ErrConnectivity = errors.New("connectivity error")
	// ErrAuth means a token or approval key could not be obtained.
	ErrAuth = errors.New("auth error")
	// ErrOrderRejected is returned when the broker answers with a non-zero rt_cd.
	ErrOrderRejected = errors.New("order rejected")
	// ErrRateLimited is the rate-limit sub-kind of ErrOrderRejected.
	ErrRateLimited = errors.New("order rejected: rate limited")
	// ErrLockTimeout means the per-instrument exit lock was not acquired in time.
	ErrLockTimeout = errors.New("exit lock timeout")
	// ErrUnsettled means an order was accepted but its fill could not be confirmed.
	ErrUnsettled = errors.New("order accepted, fill unconfirmed")

	ErrNotFound = errors.New("not found")
	ErrHalted   = errors.New("instrument halted")
)

// RateLimitMessage is the msg1 the broker sends when the per-second order quota is exceeded.
const RateLimitMessage = "초당 거래건수를 초과하였습니다."

// OrderRejectedError carries the broker's rt_cd/msg_cd/msg1.
type OrderRejectedError struct {
	Code        string
	MsgCode     string
	Message     string
	RateLimited bool
}

func NewOrderRejected(code, msgCode, message string) *OrderRejectedError {
	return &OrderRejectedError{
		Code:        code,
		MsgCode:     msgCode,
		Message:     message,
		RateLimited: message == RateLimitMessage,
	}
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected: rt_cd=%s msg_cd=%s msg=%s", e.Code, e.MsgCode, e.Message)
}

func (e *OrderRejectedError) Is(target error) bool {
	if target == ErrOrderRejected {
		return true
	}
	return target == ErrRateLimited && e.RateLimited
}

// Connectivity wraps err so that errors.Is(err, ErrConnectivity) holds.
func Connectivity(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConnectivity, err)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Unsettled wraps err so that errors.Is(err, ErrUnsettled) holds.
func Unsettled(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnsettled, err)
}
