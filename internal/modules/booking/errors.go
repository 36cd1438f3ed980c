package booking

import "courtbook/internal/domain"

var (
	ErrValidation      = domain.NewError(domain.KindValidation, "validation error")
	ErrSlotUnavailable = domain.NewError(domain.KindConflict, "slot not available")
	ErrNoAvailability  = domain.NewError(domain.KindNotFound, "no availability for the requested court and date")
	ErrNotHolding      = domain.NewError(domain.KindConflict, "booking is no longer on hold")
	ErrPaymentSettled  = domain.NewError(domain.KindConflict, "booking payment already settled")
	ErrPaymentPending  = domain.NewError(domain.KindContention, "payment for this booking is being created")
	ErrMissingMetadata = domain.NewError(domain.KindValidation, "payment carries neither booking id nor reference")
)
