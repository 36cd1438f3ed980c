package domain

import (
	"strings"
	"time"
)

// Metadata keys the engine attaches to gateway payments.
const (
	MetaBookingID = "bookingId"
	MetaVenueID   = "venueId"
	MetaCourtID   = "courtId"
	MetaDate      = "date"
	MetaUserID    = "userId"
	MetaStartTime = "startTime"
	MetaEndTime   = "endTime"
)

// Metadata is the partial key/value bag echoed back by the gateway. Keys
// may be missing or blank; use Lookup rather than indexing.
type Metadata map[string]string

// Lookup returns the trimmed value for key and whether it is present and
// non-blank.
func (m Metadata) Lookup(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Time parses an RFC 3339 value under key.
func (m Metadata) Time(key string) (time.Time, bool) {
	v, ok := m.Lookup(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// BookingMetadata is what the engine sends along with a charge so that an
// event can rebuild the booking if the local row is lost.
func BookingMetadata(b *Booking) Metadata {
	m := Metadata{
		MetaBookingID: b.ID,
		MetaVenueID:   b.VenueID,
		MetaCourtID:   b.CourtID,
		MetaDate:      b.Date,
		MetaStartTime: b.StartTime.UTC().Format(time.RFC3339),
		MetaEndTime:   b.EndTime.UTC().Format(time.RFC3339),
	}
	if b.UserID != "" {
		m[MetaUserID] = b.UserID
	}
	return m
}
