package notification

import "courtbook/internal/domain"

var (
	ErrUnknownJob     = domain.NewError(domain.KindValidation, "unknown job type")
	ErrInvalidPayload = domain.NewError(domain.KindValidation, "invalid confirmation payload")
)
