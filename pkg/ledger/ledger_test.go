package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pario-ai/aigate/pkg/models"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "ledger_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func grant(t *testing.T, l *SQLiteLedger, userID string, bucket models.CreditBucket, amount int64) {
	t.Helper()
	if _, err := l.Grant(context.Background(), userID, bucket, amount, "test grant"); err != nil {
		t.Fatal(err)
	}
}

func TestGetBalanceUnknownUser(t *testing.T) {
	l := newTestLedger(t)
	bal, err := l.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 0 {
		t.Errorf("expected 0, got %d", bal)
	}
	if _, err := l.Account(context.Background(), "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGrantAccumulates(t *testing.T) {
	l := newTestLedger(t)
	grant(t, l, "u1", models.BucketMonthly, 10)
	grant(t, l, "u1", models.BucketPurchased, 5)
	grant(t, l, "u1", models.BucketMonthly, 2)

	acct, err := l.Account(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.MonthlyCredits != 12 || acct.PurchasedCredits != 5 || acct.BonusCredits != 0 {
		t.Errorf("unexpected buckets: %+v", acct)
	}
	if acct.TotalCredits != 17 {
		t.Errorf("expected total 17, got %d", acct.TotalCredits)
	}
}

func TestGrantRejectsBadInput(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Grant(ctx, "u1", models.BucketMonthly, 0, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := l.Grant(ctx, "u1", "gift", 5, ""); err == nil {
		t.Error("expected error for unknown bucket")
	}
}

func TestDebitSuccess(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	grant(t, l, "u1", models.BucketMonthly, 10)

	ok, err := l.Debit(ctx, "u1", 2, "captions", "caption generation")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected debit to succeed")
	}
	bal, err := l.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 8 {
		t.Errorf("expected 8, got %d", bal)
	}

	txs, err := l.Transactions(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected grant and debit rows, got %d", len(txs))
	}
	if txs[0].Amount != -2 || txs[0].Feature != "captions" || txs[0].BalanceAfter != 8 {
		t.Errorf("unexpected debit row: %+v", txs[0])
	}
}

func TestDebitInsufficient(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	grant(t, l, "u1", models.BucketMonthly, 1)

	ok, err := l.Debit(ctx, "u1", 2, "captions", "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected debit to fail")
	}
	if bal, _ := l.GetBalance(ctx, "u1"); bal != 1 {
		t.Errorf("balance must be untouched, got %d", bal)
	}
	if ok, _ := l.Debit(ctx, "ghost", 1, "captions", ""); ok {
		t.Error("unknown user cannot be debited")
	}
	if _, err := l.Debit(ctx, "u1", 0, "captions", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDebitDrainOrder(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	grant(t, l, "u1", models.BucketMonthly, 3)
	grant(t, l, "u1", models.BucketBonus, 2)
	grant(t, l, "u1", models.BucketPurchased, 10)

	if ok, err := l.Debit(ctx, "u1", 4, "trends", ""); err != nil || !ok {
		t.Fatalf("debit: ok=%v err=%v", ok, err)
	}
	acct, err := l.Account(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.MonthlyCredits != 0 || acct.BonusCredits != 1 || acct.PurchasedCredits != 10 {
		t.Errorf("expected monthly then bonus drained, got %+v", acct)
	}

	if ok, err := l.Debit(ctx, "u1", 5, "viral_script", ""); err != nil || !ok {
		t.Fatalf("debit: ok=%v err=%v", ok, err)
	}
	acct, _ = l.Account(ctx, "u1")
	if acct.MonthlyCredits != 0 || acct.BonusCredits != 0 || acct.PurchasedCredits != 6 {
		t.Errorf("expected purchased drained last, got %+v", acct)
	}
}

func TestConcurrentDebitNoDoubleSpend(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	grant(t, l, "u1", models.BucketMonthly, 10)

	const workers = 20
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Debit(ctx, "u1", 3, "trends", "")
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != 3 {
		t.Errorf("expected 3 successful debits, got %d", got)
	}
	if bal, _ := l.GetBalance(ctx, "u1"); bal != 1 {
		t.Errorf("expected balance 1, got %d", bal)
	}
}

func TestCosts(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, ok, err := l.Lookup(ctx, "captions"); err != nil || ok {
		t.Fatalf("expected no entry: ok=%v err=%v", ok, err)
	}
	if err := l.SetCost(ctx, "captions", 2); err != nil {
		t.Fatal(err)
	}
	if err := l.SetCost(ctx, "captions", 4); err != nil {
		t.Fatal(err)
	}
	if err := l.SetCost(ctx, "trends", 3); err != nil {
		t.Fatal(err)
	}
	cost, ok, err := l.Lookup(ctx, "captions")
	if err != nil || !ok || cost != 4 {
		t.Errorf("expected cost 4, got %d ok=%v err=%v", cost, ok, err)
	}

	costs, err := l.Costs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(costs) != 2 || costs[0].FeatureSlug != "captions" || costs[1].FeatureSlug != "trends" {
		t.Errorf("unexpected costs: %+v", costs)
	}
	if err := l.SetCost(ctx, "", 1); err == nil {
		t.Error("expected error for empty feature")
	}
}
