// Package audit appends and reads the transaction record log.
package audit

import (
	"context"
	"time"

	domain "github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Log is the append-only audit log.
type Log struct {
	store storage.AuditStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a log over store.
func New(store storage.AuditStore, log *logger.Logger) *Log {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Log{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source.
func (l *Log) WithClock(now func() time.Time) *Log {
	if now != nil {
		l.now = now
	}
	return l
}

// Record appends one entry.
func (l *Log) Record(ctx context.Context, productID int64, actor, action, status, from, to string) (domain.Record, error) {
	rec, err := l.store.AppendRecord(ctx, domain.Record{
		ProductID: productID,
		Actor:     actor,
		Action:    action,
		Status:    status,
		Timestamp: l.now(),
		From:      from,
		To:        to,
	})
	if err != nil {
		return domain.Record{}, err
	}
	l.log.WithField("seq", rec.Seq).
		WithField("product_id", productID).
		WithField("action", action).
		Debug("audit record appended")
	return rec, nil
}

// FullHistory returns every record in insertion order.
func (l *Log) FullHistory(ctx context.Context) ([]domain.Record, error) {
	return l.store.ListRecords(ctx)
}

// ProductHistory returns the records referencing productID, including
// records of a deleted product.
func (l *Log) ProductHistory(ctx context.Context, productID int64) ([]domain.Record, error) {
	return l.store.ListProductRecords(ctx, productID)
}
