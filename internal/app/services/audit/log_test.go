package audit

import (
	"context"
	"testing"
	"time"

	domain "github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	"github.com/R3E-Network/supplychain/internal/app/storage/memory"
)

func TestRecordAndHistory(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := store.Update(ctx, func(tx storage.Tx) error {
		l := New(tx.Audit(), nil).WithClock(func() time.Time { return fixed })
		if _, err := l.Record(ctx, 1, "alice", domain.ActionCreation, "Created", "", "alice"); err != nil {
			return err
		}
		if _, err := l.Record(ctx, 2, "alice", domain.ActionCreation, "Created", "", "alice"); err != nil {
			return err
		}
		rec, err := l.Record(ctx, 1, "alice", domain.ActionTransfer, "Packed", "alice", "bob")
		if err != nil {
			return err
		}
		if rec.Seq != 3 || !rec.Timestamp.Equal(fixed) {
			t.Fatalf("record = %+v", rec)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = store.View(ctx, func(tx storage.Tx) error {
		l := New(tx.Audit(), nil)
		all, _ := l.FullHistory(ctx)
		if len(all) != 3 {
			t.Fatalf("full history = %d", len(all))
		}
		for i, rec := range all {
			if rec.Seq != int64(i+1) {
				t.Fatalf("out of order: %+v", all)
			}
		}
		mine, _ := l.ProductHistory(ctx, 1)
		if len(mine) != 2 || mine[1].To != "bob" {
			t.Fatalf("product history = %+v", mine)
		}
		return nil
	})
}
