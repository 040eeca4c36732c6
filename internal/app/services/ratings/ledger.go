// Package ratings records star ratings per product and rater.
package ratings

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/R3E-Network/supplychain/internal/app/domain/rating"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Ledger records ratings. A rater who rates again replaces their latest
// entry, but every submission stays in the log the average is computed
// from, so repeated ratings count more than once.
type Ledger struct {
	store    storage.RatingStore
	products storage.ProductStore
	events   notify.Recorder
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a ledger. products is consulted for existence.
func New(store storage.RatingStore, products storage.ProductStore, events notify.Recorder, log *logger.Logger) *Ledger {
	if events == nil {
		events = notify.Discard
	}
	if log == nil {
		log = logger.NewDefault("ratings")
	}
	return &Ledger{
		store:    store,
		products: products,
		events:   events,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// Fingerprint returns the 0x-prefixed Keccak-256 digest of a comment.
func Fingerprint(comment string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(comment))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func (l *Ledger) requireProduct(ctx context.Context, productID int64) error {
	if _, err := l.products.GetProduct(ctx, productID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("product %d not found", productID)
		}
		return err
	}
	return nil
}

// Rate records stars in [1,5] from rater.
func (l *Ledger) Rate(ctx context.Context, productID int64, rater string, stars int, fingerprint string) (rating.Rating, error) {
	rater = strings.TrimSpace(rater)
	if rater == "" {
		return rating.Rating{}, apperrors.InvalidInput("rater is required")
	}
	if stars < rating.MinStars || stars > rating.MaxStars {
		return rating.Rating{}, apperrors.InvalidInput("stars must be between %d and %d", rating.MinStars, rating.MaxStars)
	}
	if err := l.requireProduct(ctx, productID); err != nil {
		return rating.Rating{}, err
	}
	r := rating.Rating{
		ProductID:   productID,
		Rater:       rater,
		Stars:       stars,
		Fingerprint: strings.TrimSpace(fingerprint),
		CreatedAt:   l.now(),
	}
	if err := l.store.AddRating(ctx, r); err != nil {
		return rating.Rating{}, err
	}
	l.events.Record(notify.New(notify.ProductRated, rater, productID).With("stars", stars))
	l.log.WithField("product_id", productID).WithField("rater", rater).WithField("stars", stars).Info("product rated")
	return r, nil
}

// Average returns the rating summary; Average is 0 without ratings.
func (l *Ledger) Average(ctx context.Context, productID int64) (rating.Summary, error) {
	if err := l.requireProduct(ctx, productID); err != nil {
		return rating.Summary{}, err
	}
	return l.store.RatingSummary(ctx, productID)
}

// Rating returns rater's latest rating for productID.
func (l *Ledger) Rating(ctx context.Context, productID int64, rater string) (rating.Rating, error) {
	if err := l.requireProduct(ctx, productID); err != nil {
		return rating.Rating{}, err
	}
	r, err := l.store.GetRating(ctx, productID, rater)
	if errors.Is(err, storage.ErrNotFound) {
		return rating.Rating{}, apperrors.NotFound("no rating by %s for product %d", rater, productID)
	}
	return r, err
}
