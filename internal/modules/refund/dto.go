package refund

type RefundRequest struct {
	BookingID string `json:"bookingId" validate:"required"`
	// Amount in minor units; nil refunds the remaining balance.
	Amount *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type RefundResponse struct {
	BookingID        string `json:"booking_id"`
	PaymentReference string `json:"payment_reference"`
	RefundReference  string `json:"refund_reference"`
	Amount           int64  `json:"amount"`
	RefundStatus     string `json:"refund_status"`
}
