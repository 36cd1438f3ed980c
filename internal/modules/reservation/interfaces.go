package reservation

import (
	"context"

	"courtbook/internal/domain"
)

type availabilityStore interface {
	Mutate(ctx context.Context, venueID, month string, fn func(grid domain.SlotIndex) (bool, error)) error
}
