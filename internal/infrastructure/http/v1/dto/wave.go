package dto

import (
	"time"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/types"
	"wavepick/internal/domain/wave"
)

// GenerateWavesRequest triggers wave generation for a shipping date. Reset
// discards existing wave data for the date first.
type GenerateWavesRequest struct {
	ShippingDate string `json:"shippingDate" binding:"required"`
	Reset        bool   `json:"reset"`
}

// ResetWavesRequest discards all wave data for a shipping date.
type ResetWavesRequest struct {
	ShippingDate string `json:"shippingDate" binding:"required"`
}

// ListWavesQuery filters the wave list by shipping date.
type ListWavesQuery struct {
	ShippingDate string `form:"shippingDate" binding:"required"`
}

// ParseShippingDate parses a YYYY-MM-DD shipping date string.
func ParseShippingDate(raw string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, apperror.NewValidation("malformed shipping date, expected YYYY-MM-DD").
			WithDetail("value", raw)
	}
	return parsed, nil
}

// CompleteItemRequest records the picked quantity for an item result.
// The quantity is in eaches; zero means a complete shortage.
type CompleteItemRequest struct {
	PickedQtyEach types.Quantity `json:"pickedQtyEach"`
}

// WaveListResponse wraps the waves of one shipping date.
type WaveListResponse struct {
	Waves []wave.Wave `json:"waves"`
}

// TaskDetailResponse is a picking task with its item results in walking order.
type TaskDetailResponse struct {
	Task  wave.PickingTask         `json:"task"`
	Items []wave.PickingItemResult `json:"items"`
}
