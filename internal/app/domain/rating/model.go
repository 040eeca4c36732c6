// Package rating holds product ratings.
package rating

import "time"

const (
	MinStars = 1
	MaxStars = 5
)

// Rating is one star rating left by a rater for a product.
type Rating struct {
	ProductID   int64     `json:"product_id"`
	Rater       string    `json:"rater"`
	Stars       int       `json:"stars"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary aggregates every rating recorded for a product.
type Summary struct {
	ProductID int64 `json:"product_id"`
	Count     int64 `json:"count"`
	Sum       int64 `json:"sum"`
	Average   int64 `json:"average"`
}

// Average returns sum/count truncated toward zero, or 0 without ratings.
func Average(sum, count int64) int64 {
	if count == 0 {
		return 0
	}
	return sum / count
}
