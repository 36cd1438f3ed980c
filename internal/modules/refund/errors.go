package refund

import "courtbook/internal/domain"

var (
	ErrNoPayment       = domain.NewError(domain.KindInconsistent, "booking has no payment reference")
	ErrInvalidAmount   = domain.NewError(domain.KindValidation, "refund amount must be positive")
	ErrExceedsCharge   = domain.NewError(domain.KindValidation, "refund amount exceeds the refundable balance")
	ErrNothingToRefund = domain.NewError(domain.KindConflict, "charge has been fully refunded")
)
