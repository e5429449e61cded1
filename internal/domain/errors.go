package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGiftCardExpired     = errors.New("gift card expired")
	ErrGiftCardInactive    = errors.New("gift card inactive")
	ErrGiftCardDepleted    = errors.New("gift card depleted")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrUpstreamGateway     = errors.New("payment gateway error")
)

// Kind returns the machine-readable name of the first sentinel err wraps.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrGiftCardExpired):
		return "expired"
	case errors.Is(err, ErrGiftCardInactive):
		return "inactive"
	case errors.Is(err, ErrGiftCardDepleted):
		return "depleted"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrUpstreamGateway):
		return "upstream_gateway_error"
	default:
		return "internal"
	}
}
