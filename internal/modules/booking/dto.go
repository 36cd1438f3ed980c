package booking

import "time"

type CreateBookingRequest struct {
	ID        string    `json:"id" validate:"omitempty,max=64"`
	VenueID   string    `json:"venue_id" binding:"required" validate:"required,max=64"`
	CourtID   string    `json:"court_id" binding:"required" validate:"required,max=64"`
	UserID    string    `json:"user_id" validate:"omitempty,max=64"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
	// Price is the quote shown to the customer, in minor units. When absent
	// the configured per-slot price applies.
	Price    *int64 `json:"price" validate:"omitempty,gt=0"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

type PaymentRequest struct {
	Card      string `json:"card"`
	Source    string `json:"source"`
	ReturnURI string `json:"return_uri" validate:"omitempty,url"`
}

type PaymentResponse struct {
	BookingID    string `json:"booking_id"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	AuthorizeURI string `json:"authorize_uri,omitempty"`
}

type AvailabilityQuery struct {
	Date string `form:"date" binding:"required" validate:"required,isodate"`
}
