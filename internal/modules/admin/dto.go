package admin

import "courtbook/internal/domain"

type StatisticsResponse struct {
	Bookings          map[domain.PaymentStatus]int64 `json:"bookings"`
	TotalBookings     int64                          `json:"total_bookings"`
	NeedingAttention  int                            `json:"needing_attention"`
	UnprocessedEvents int64                          `json:"unprocessed_events"`
	Archived          int64                          `json:"archived"`
}

type AttentionListResponse struct {
	Bookings []domain.Booking `json:"bookings"`
	Limit    int              `json:"limit"`
}

type BookingLedgerResponse struct {
	Booking      *domain.Booking                `json:"booking"`
	Transactions []domain.PaymentTransactionLog `json:"transactions"`
}

type EventDetailResponse struct {
	Event *domain.WebhookEvent `json:"event"`
	Audit []domain.AuditEntry  `json:"audit"`
}
