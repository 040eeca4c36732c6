package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/rating"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/storage"
)

func TestUpdateRollsBackEveryWrite(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		id, err := tx.Products().NextProductID(ctx)
		if err != nil {
			return err
		}
		p := product.Product{ID: id, Name: "widget", Owner: "a", OriginalOwner: "a"}
		p.SetState(product.StateCreated)
		if err := tx.Products().CreateProduct(ctx, p); err != nil {
			return err
		}
		return tx.Products().IndexAppend(ctx, "a", id)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err = store.Update(ctx, func(tx storage.Tx) error {
		p, err := tx.Products().GetProduct(ctx, 1)
		if err != nil {
			return err
		}
		p.Owner = "b"
		if err := tx.Products().UpdateProduct(ctx, p); err != nil {
			return err
		}
		if err := tx.Products().IndexRemove(ctx, "a", 1); err != nil {
			return err
		}
		if err := tx.Products().IndexAppend(ctx, "b", 1); err != nil {
			return err
		}
		if err := tx.Balances().SetBalance(ctx, "b", 50); err != nil {
			return err
		}
		if _, err := tx.Audit().AppendRecord(ctx, audit.Record{ProductID: 1, Action: audit.ActionTransfer}); err != nil {
			return err
		}
		if err := tx.Roles().PutAssignment(ctx, role.Assignment{Account: "b", Flags: role.Set(0).With(role.Customer), Selected: true}); err != nil {
			return err
		}
		if _, err := tx.Products().NextProductID(ctx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		p, err := tx.Products().GetProduct(ctx, 1)
		if err != nil {
			return err
		}
		if p.Owner != "a" {
			t.Fatalf("owner not restored: %q", p.Owner)
		}
		if ids, _ := tx.Products().OwnerIndex(ctx, "a"); len(ids) != 1 || ids[0] != 1 {
			t.Fatalf("index for a = %v", ids)
		}
		if ids, _ := tx.Products().OwnerIndex(ctx, "b"); len(ids) != 0 {
			t.Fatalf("index for b = %v", ids)
		}
		if bal, _ := tx.Balances().GetBalance(ctx, "b"); bal != 0 {
			t.Fatalf("balance = %d", bal)
		}
		if recs, _ := tx.Audit().ListRecords(ctx); len(recs) != 0 {
			t.Fatalf("audit records = %v", recs)
		}
		if a, _ := tx.Roles().GetAssignment(ctx, "b"); !a.Flags.Empty() || a.Selected {
			t.Fatalf("assignment = %+v", a)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	err = store.Update(ctx, func(tx storage.Tx) error {
		id, err := tx.Products().NextProductID(ctx)
		if err != nil {
			return err
		}
		if id != 2 {
			t.Fatalf("next id = %d, want 2", id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.View(ctx, func(tx storage.Tx) error {
		return tx.Balances().SetBalance(ctx, "a", 1)
	})
	if !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestIndexRemoveSwapsWithLast(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		for _, id := range []int64{1, 2, 3, 4} {
			if err := tx.Products().IndexAppend(ctx, "a", id); err != nil {
				return err
			}
		}
		if err := tx.Products().IndexRemove(ctx, "a", 2); err != nil {
			return err
		}
		return tx.Products().IndexRemove(ctx, "a", 99)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = store.View(ctx, func(tx storage.Tx) error {
		ids, _ := tx.Products().OwnerIndex(ctx, "a")
		want := []int64{1, 4, 3}
		if len(ids) != len(want) {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("ids = %v, want %v", ids, want)
			}
		}
		return nil
	})
}

func TestDeleteProductDropsHistory(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.Update(ctx, func(tx storage.Tx) error {
		p := product.Product{ID: 1, Name: "widget", Owner: "a", OriginalOwner: "a"}
		p.SetState(product.StateCreated)
		if err := tx.Products().CreateProduct(ctx, p); err != nil {
			return err
		}
		if err := tx.Products().AppendHistory(ctx, product.StatusRecord{ProductID: 1, State: product.StateCreated, Status: "Created", Timestamp: now, UpdatedBy: "a"}); err != nil {
			return err
		}
		return tx.Products().DeleteProduct(ctx, 1)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = store.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.Products().GetProduct(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if hist, _ := tx.Products().ListHistory(ctx, 1); len(hist) != 0 {
			t.Fatalf("history = %v", hist)
		}
		return nil
	})
}

func TestRatingsKeepLatestAndLog(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		for _, stars := range []int{5, 2} {
			if err := tx.Ratings().AddRating(ctx, rating.Rating{ProductID: 7, Rater: "r", Stars: stars}); err != nil {
				return err
			}
		}
		return tx.Ratings().AddRating(ctx, rating.Rating{ProductID: 7, Rater: "s", Stars: 4})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = store.View(ctx, func(tx storage.Tx) error {
		latest, err := tx.Ratings().GetRating(ctx, 7, "r")
		if err != nil || latest.Stars != 2 {
			t.Fatalf("latest = %+v, err %v", latest, err)
		}
		summary, _ := tx.Ratings().RatingSummary(ctx, 7)
		if summary.Count != 3 || summary.Sum != 11 || summary.Average != 3 {
			t.Fatalf("summary = %+v", summary)
		}
		return nil
	})
}

func TestAuditSequenceIsOneBased(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.Update(ctx, func(tx storage.Tx) error {
		first, _ := tx.Audit().AppendRecord(ctx, audit.Record{ProductID: 1})
		second, _ := tx.Audit().AppendRecord(ctx, audit.Record{ProductID: 2})
		if first.Seq != 1 || second.Seq != 2 {
			t.Fatalf("seq = %d, %d", first.Seq, second.Seq)
		}
		return nil
	})

	_ = store.View(ctx, func(tx storage.Tx) error {
		recs, _ := tx.Audit().ListProductRecords(ctx, 2)
		if len(recs) != 1 || recs[0].Seq != 2 {
			t.Fatalf("records = %+v", recs)
		}
		return nil
	})
}
