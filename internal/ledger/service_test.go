package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRateBookRejectsOutOfRangeValues(t *testing.T) {
	// Validation happens before the database is touched, so a nil handle
	// is safe here.
	s := NewService(nil)

	for _, value := range []int{0, -1, 6, 100} {
		_, err := s.RateBook(context.Background(), uuid.New(), uuid.New(), value)
		require.ErrorIs(t, err, ErrInvalidRating, "value %d", value)
	}
}
