package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cash-drawer/internal/cache"
	"github.com/mmeshcher/cash-drawer/internal/discount"
	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
	"github.com/mmeshcher/cash-drawer/internal/validation"
)

type fixture struct {
	svc      *Service
	repo     *repository.MemoryRepository
	instance string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := repository.NewMemoryRepository()
	svc := NewService(repo, opts...)
	inst, err := svc.CreateInstance(context.Background())
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, instance: inst.ID}
}

func (f *fixture) product(t *testing.T, name string, price int64, seller string) model.Product {
	t.Helper()
	in := repository.ProductInput{Name: name, Price: price}
	if seller != "" {
		in.SellerName = &seller
	}
	p, err := f.svc.CreateProduct(context.Background(), f.instance, in)
	require.NoError(t, err)
	return p
}

func (f *fixture) deposit(t *testing.T, person string, amount model.DenominationCount) model.LedgerEntry {
	t.Helper()
	e, err := f.svc.RecordDeposit(context.Background(), f.instance, person, amount)
	require.NoError(t, err)
	return e
}

func (f *fixture) balance(t *testing.T) model.DenominationCount {
	t.Helper()
	b, err := f.svc.DrawerBalance(context.Background(), f.instance)
	require.NoError(t, err)
	assert.Equal(t, b.Counts.Total(), b.Total)
	return b.Counts.Normalize()
}

func (f *fixture) ledgerLen(t *testing.T) int {
	t.Helper()
	entries, err := f.svc.ListLedger(context.Background(), f.instance)
	require.NoError(t, err)
	return len(entries)
}

func TestFinalizeSale_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "Ann", model.DenominationCount{1000: 5})
	cake := f.product(t, "Cake", 3000, "")

	res, err := f.svc.FinalizeSale(ctx, f.instance, []int64{cake.ID}, model.DenominationCount{1000: 4})
	require.NoError(t, err)

	assert.Equal(t, model.DenominationCount{1000: 1}, res.ChangeGiven)
	assert.Equal(t, int64(3000), res.TotalPrice)
	assert.True(t, res.Balance.Equal(model.DenominationCount{1000: 8}))
	assert.Equal(t, model.DenominationCount{1000: 8}, f.balance(t))

	sale, ok := res.Entry.Payload.(model.SalePayload)
	require.True(t, ok)
	assert.Equal(t, []int64{cake.ID}, sale.ProductIDs)
	assert.Equal(t, model.DenominationCount{1000: 4}, sale.PaidAmount)
}

func TestFinalizeSale_RepeatedProductsAreCharged(t *testing.T) {
	f := newFixture(t)
	tea := f.product(t, "Tea", 500, "")

	res, err := f.svc.FinalizeSale(context.Background(), f.instance, []int64{tea.ID, tea.ID}, model.DenominationCount{500: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.TotalPrice)
	assert.Empty(t, res.ChangeGiven)
}

func TestFinalizeSale_Failures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tea := f.product(t, "Tea", 300, "")
	gone := f.product(t, "Gone", 100, "")
	require.NoError(t, f.svc.DeleteProduct(ctx, f.instance, gone.ID))

	tests := []struct {
		name     string
		products []int64
		tendered model.DenominationCount
		wantErr  error
	}{
		{"empty cart", nil, model.DenominationCount{1000: 1}, ErrEmptyCart},
		{"underpaid", []int64{tea.ID}, model.DenominationCount{100: 2}, ErrInsufficientPayment},
		{"no change in drawer", []int64{tea.ID}, model.DenominationCount{1000: 1}, ErrInsufficientChange},
		{"unknown product", []int64{999}, model.DenominationCount{1000: 1}, ErrNotFound},
		{"deleted product", []int64{gone.ID}, model.DenominationCount{100: 1}, ErrNotFound},
		{"unknown denomination", []int64{tea.ID}, model.DenominationCount{300: 1}, validation.ErrUnknownDenomination},
		{"negative count", []int64{tea.ID}, model.DenominationCount{100: -3}, validation.ErrInvalidCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.FinalizeSale(ctx, f.instance, tt.products, tt.tendered)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.ledgerLen(t), "failed sale must not append")
		})
	}

	t.Run("insufficient change is not reported as insufficient funds", func(t *testing.T) {
		_, err := f.svc.FinalizeSale(ctx, f.instance, []int64{tea.ID}, model.DenominationCount{1000: 1})
		assert.NotErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("unknown instance", func(t *testing.T) {
		_, err := f.svc.FinalizeSale(ctx, "missing", []int64{tea.ID}, model.DenominationCount{100: 3})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFinalizeSale_UsesTenderedCashForChange(t *testing.T) {
	f := newFixture(t)
	tea := f.product(t, "Tea", 500, "")

	res, err := f.svc.FinalizeSale(context.Background(), f.instance, []int64{tea.ID}, model.DenominationCount{500: 1, 100: 5})
	require.NoError(t, err)
	assert.Equal(t, model.DenominationCount{500: 1}, res.ChangeGiven)
	assert.Equal(t, model.DenominationCount{100: 5}, f.balance(t))
}

func TestFinalizeSale_RemoteCatalog(t *testing.T) {
	remote := &stubCatalog{products: []model.Product{{ID: 7, Name: "Remote", Price: 200}}}
	f := newFixture(t, WithCatalog(remote))

	res, err := f.svc.FinalizeSale(context.Background(), f.instance, []int64{7}, model.DenominationCount{100: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.TotalPrice)
	assert.Equal(t, []int64{7}, remote.requested)
}

func TestFinalizeSale_Discounts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc := NewService(repo, WithDiscounts(discount.NewEngine(repo)))
	inst, err := svc.CreateInstance(ctx)
	require.NoError(t, err)
	_, err = svc.RecordDeposit(ctx, inst.ID, "Ann", model.DenominationCount{100: 5})
	require.NoError(t, err)

	cake, err := svc.CreateProduct(ctx, inst.ID, repository.ProductInput{Name: "Cake", Price: 500})
	require.NoError(t, err)
	tea, err := svc.CreateProduct(ctx, inst.ID, repository.ProductInput{Name: "Tea", Price: 300})
	require.NoError(t, err)
	_, err = svc.CreateDiscount(ctx, inst.ID, repository.DiscountInput{
		Type:    model.DiscountTypeValue,
		Details: model.DiscountDetails{ProductIDs: []int64{cake.ID}, RequiredQuantity: 3, DiscountValue: 200},
	})
	require.NoError(t, err)

	res, err := svc.FinalizeSale(ctx, inst.ID, []int64{cake.ID, tea.ID, cake.ID, cake.ID}, model.DenominationCount{1000: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1800), res.Subtotal)
	assert.Equal(t, int64(1600), res.TotalPrice)
	assert.Equal(t, model.DenominationCount{100: 4}, res.ChangeGiven)

	sale, ok := res.Entry.Payload.(model.SalePayload)
	require.True(t, ok)
	assert.Equal(t, int64(1600), sale.TotalPrice)

	// Без полного набора скидка не действует.
	res, err = svc.FinalizeSale(ctx, inst.ID, []int64{cake.ID, cake.ID}, model.DenominationCount{1000: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.TotalPrice)
	assert.Empty(t, res.ChangeGiven)

	t.Run("payment checked against discounted price", func(t *testing.T) {
		_, err := svc.FinalizeSale(ctx, inst.ID, []int64{cake.ID, cake.ID, cake.ID}, model.DenominationCount{1000: 1, 100: 3})
		assert.NoError(t, err)
	})
}

func TestFinalizeSale_DiscountEngineFailures(t *testing.T) {
	tests := []struct {
		name   string
		engine *stubEngine
	}{
		{"engine error", &stubEngine{err: errors.New("rules unavailable")}},
		{"negative price", &stubEngine{price: -1}},
		{"price above subtotal", &stubEngine{price: 10_000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithDiscounts(tt.engine))
			f.deposit(t, "Ann", model.DenominationCount{1000: 1})
			tea := f.product(t, "Tea", 300, "")

			_, err := f.svc.FinalizeSale(context.Background(), f.instance, []int64{tea.ID}, model.DenominationCount{1000: 1})
			require.Error(t, err)
			assert.Equal(t, 1, f.ledgerLen(t))
		})
	}
}

func TestDiscounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	valid := model.DiscountDetails{ProductIDs: []int64{1}, RequiredQuantity: 2, DiscountRate: 10, DiscountValue: 50}
	first, err := f.svc.CreateDiscount(ctx, f.instance, repository.DiscountInput{Type: model.DiscountTypeQuantity, Details: valid})
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Details.DiscountValue)

	second, err := f.svc.CreateDiscount(ctx, f.instance, repository.DiscountInput{Type: model.DiscountTypeValue, Details: valid})
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Details.DiscountRate)

	list, err := f.svc.ListDiscounts(ctx, f.instance)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	require.NoError(t, f.svc.DeleteDiscount(ctx, first.ID))
	assert.ErrorIs(t, f.svc.DeleteDiscount(ctx, first.ID), ErrNotFound)
	list, err = f.svc.ListDiscounts(ctx, f.instance)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListDiscounts(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.CreateDiscount(ctx, "missing", repository.DiscountInput{Type: model.DiscountTypeValue, Details: valid})
	assert.ErrorIs(t, err, ErrNotFound)

	invalid := []struct {
		name string
		in   repository.DiscountInput
	}{
		{"unknown type", repository.DiscountInput{Type: "bogo", Details: valid}},
		{"no products", repository.DiscountInput{Type: model.DiscountTypeValue, Details: model.DiscountDetails{RequiredQuantity: 1, DiscountValue: 10}}},
		{"bad product id", repository.DiscountInput{Type: model.DiscountTypeValue, Details: model.DiscountDetails{ProductIDs: []int64{0}, RequiredQuantity: 1, DiscountValue: 10}}},
		{"zero quantity", repository.DiscountInput{Type: model.DiscountTypeValue, Details: model.DiscountDetails{ProductIDs: []int64{1}, DiscountValue: 10}}},
		{"rate above 100", repository.DiscountInput{Type: model.DiscountTypeQuantity, Details: model.DiscountDetails{ProductIDs: []int64{1}, RequiredQuantity: 1, DiscountRate: 101}}},
		{"zero value", repository.DiscountInput{Type: model.DiscountTypeValue, Details: model.DiscountDetails{ProductIDs: []int64{1}, RequiredQuantity: 1}}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateDiscount(ctx, f.instance, tt.in)
			assert.ErrorIs(t, err, ErrInvalidDiscount)
		})
	}
}

func TestSuggestPayout_Seller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "Ann", model.DenominationCount{1000: 2, 100: 10})
	tea := f.product(t, "Tea", 500, "Alice")
	cake := f.product(t, "Cake", 700, "Alice")
	bread := f.product(t, "Bread", 300, "Bob")

	_, err := f.svc.FinalizeSale(ctx, f.instance, []int64{tea.ID, cake.ID}, model.DenominationCount{1000: 1, 100: 2})
	require.NoError(t, err)
	reverted, err := f.svc.FinalizeSale(ctx, f.instance, []int64{tea.ID, bread.ID}, model.DenominationCount{500: 1, 100: 3})
	require.NoError(t, err)
	_, err = f.svc.Revert(ctx, reverted.Entry.ID)
	require.NoError(t, err)

	// Deleted products still count for their seller.
	require.NoError(t, f.svc.DeleteProduct(ctx, f.instance, cake.ID))

	payout, err := f.svc.SuggestPayout(ctx, f.instance, model.PartySeller, "Alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), payout.TotalAmount)
	assert.Equal(t, model.DenominationCount{1000: 1, 100: 2}, payout.SuggestedPayout)
	assert.Equal(t, int64(1200), payout.SuggestedPayout.Total())

	before := f.ledgerLen(t)
	_, err = f.svc.SuggestPayout(ctx, f.instance, model.PartySeller, "Alice")
	require.NoError(t, err)
	assert.Equal(t, before, f.ledgerLen(t), "payout suggestion must not write")
}

func TestSuggestPayout_Depositor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "Ann", model.DenominationCount{1000: 2})
	f.deposit(t, "Bob", model.DenominationCount{500: 1})
	undone := f.deposit(t, "Ann", model.DenominationCount{100: 3})
	_, err := f.svc.Revert(ctx, undone.ID)
	require.NoError(t, err)

	payout, err := f.svc.SuggestPayout(ctx, f.instance, model.PartyDepositor, "Ann")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), payout.TotalAmount)
	assert.Equal(t, model.DenominationCount{1000: 2}, payout.SuggestedPayout)
}

func TestSuggestPayout_IgnoresSurroundingSpaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "  Ann ", model.DenominationCount{1000: 1})
	tea := f.product(t, "Tea", 500, " Carol ")
	_, err := f.svc.FinalizeSale(ctx, f.instance, []int64{tea.ID}, model.DenominationCount{500: 1})
	require.NoError(t, err)

	payout, err := f.svc.SuggestPayout(ctx, f.instance, model.PartyDepositor, " Ann")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), payout.TotalAmount)

	payout, err = f.svc.SuggestPayout(ctx, f.instance, model.PartySeller, "Carol  ")
	require.NoError(t, err)
	assert.Equal(t, int64(500), payout.TotalAmount)
	assert.Equal(t, model.DenominationCount{500: 1}, payout.SuggestedPayout)
}

func TestSuggestPayout_Edges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("nothing owed", func(t *testing.T) {
		payout, err := f.svc.SuggestPayout(ctx, f.instance, model.PartyDepositor, "Nobody")
		require.NoError(t, err)
		assert.Equal(t, int64(0), payout.TotalAmount)
		assert.Empty(t, payout.SuggestedPayout)
	})

	t.Run("drawer emptied", func(t *testing.T) {
		f.deposit(t, "Ann", model.DenominationCount{1000: 2})
		_, err := f.svc.RecordWithdrawal(ctx, f.instance, "Ann", model.DenominationCount{1000: 2})
		require.NoError(t, err)

		_, err = f.svc.SuggestPayout(ctx, f.instance, model.PartyDepositor, "Ann")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("decomposes from current drawer", func(t *testing.T) {
		g := newFixture(t)
		g.deposit(t, "Ann", model.DenominationCount{500: 3})
		_, err := g.svc.RecordWithdrawal(ctx, g.instance, "Bob", model.DenominationCount{500: 1})
		require.NoError(t, err)
		g.deposit(t, "Bob", model.DenominationCount{1000: 1})

		// Drawer holds {1000:1, 500:2}; 1500 for Ann is 1000+500.
		payout, err := g.svc.SuggestPayout(ctx, g.instance, model.PartyDepositor, "Ann")
		require.NoError(t, err)
		assert.Equal(t, model.DenominationCount{1000: 1, 500: 1}, payout.SuggestedPayout)

		// Bob is owed 1000 and the drawer has it.
		payout, err = g.svc.SuggestPayout(ctx, g.instance, model.PartyDepositor, "Bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), payout.TotalAmount)
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := f.svc.SuggestPayout(ctx, f.instance, model.PartyKind("cashier"), "Ann")
		assert.ErrorIs(t, err, ErrUnknownParty)

		_, err = f.svc.SuggestPayout(ctx, f.instance, model.PartySeller, "  ")
		assert.ErrorIs(t, err, validation.ErrEmptyName)

		_, err = f.svc.SuggestPayout(ctx, "missing", model.PartyDepositor, "Ann")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "Ann", model.DenominationCount{1000: 3})
	dep := f.deposit(t, "Bob", model.DenominationCount{500: 2, 100: 1})

	rev, err := f.svc.Revert(ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EntryTypeReversal, rev.Type())
	assert.Equal(t, model.ReversalPayload{OriginalEntryID: dep.ID}, rev.Payload)
	assert.Equal(t, model.DenominationCount{1000: 3}, f.balance(t))

	_, err = f.svc.Revert(ctx, dep.ID)
	assert.ErrorIs(t, err, ErrAlreadyReverted)
	assert.Equal(t, model.DenominationCount{1000: 3}, f.balance(t), "second revert must not change balance")

	_, err = f.svc.Revert(ctx, rev.ID)
	assert.ErrorIs(t, err, ErrNotRevertible)

	_, err = f.svc.Revert(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 3, f.ledgerLen(t))
}

func TestRevert_SaleCancelsExactly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "Ann", model.DenominationCount{1000: 5, 100: 4})
	before := f.balance(t)

	tea := f.product(t, "Tea", 2600, "")
	sale, err := f.svc.FinalizeSale(ctx, f.instance, []int64{tea.ID}, model.DenominationCount{5000: 1})
	require.NoError(t, err)
	require.NotEmpty(t, sale.ChangeGiven)

	_, err = f.svc.Revert(ctx, sale.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, before, f.balance(t))
}

func TestRevert_ConcurrentCallsRevertOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.deposit(t, "Ann", model.DenominationCount{1000: 1})

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dupe int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Revert(ctx, dep.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyReverted):
				dupe++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dupe)
	assert.Empty(t, f.balance(t))
}

func TestRecordWithdrawal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "Ann", model.DenominationCount{1000: 1})

	_, err := f.svc.RecordWithdrawal(ctx, f.instance, "Ann", model.DenominationCount{500: 1})
	assert.ErrorIs(t, err, ErrInsufficientFunds, "no 500 notes in the drawer")

	e, err := f.svc.RecordWithdrawal(ctx, f.instance, "Ann", model.DenominationCount{1000: 1, 500: 0})
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPayload{Person: "Ann", Amount: model.DenominationCount{1000: 1}}, e.Payload)
	assert.Empty(t, f.balance(t))
}

func TestRecordWithdrawal_ConcurrentNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "Ann", model.DenominationCount{1000: 5})

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordWithdrawal(ctx, f.instance, "Bob", model.DenominationCount{1000: 1})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Empty(t, f.balance(t))
}

func TestFinalizeSale_ConcurrentSalesShareChangeOnce(t *testing.T) {
	sqliteRepo, err := repository.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqliteRepo.Close() })

	stores := map[string]Repository{
		"memory": repository.NewMemoryRepository(),
		"sqlite": sqliteRepo,
	}

	for name, repo := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(repo)
			inst, err := svc.CreateInstance(ctx)
			require.NoError(t, err)

			// Одна монета 100 на сдачу: её хватает только на одну продажу.
			_, err = svc.RecordDeposit(ctx, inst.ID, "Ann", model.DenominationCount{100: 1})
			require.NoError(t, err)
			bread, err := svc.CreateProduct(ctx, inst.ID, repository.ProductInput{Name: "Bread", Price: 900})
			require.NoError(t, err)

			const workers = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.FinalizeSale(ctx, inst.ID, []int64{bread.ID}, model.DenominationCount{1000: 1})
					if err == nil {
						mu.Lock()
						succeeded++
						mu.Unlock()
						return
					}
					if !errors.Is(err, ErrInsufficientChange) {
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, succeeded)

			balance, err := svc.DrawerBalance(ctx, inst.ID)
			require.NoError(t, err)
			assert.False(t, balance.Counts.HasNegative())
			assert.Equal(t, model.DenominationCount{1000: 1}, balance.Counts.Normalize())

			entries, err := svc.ListLedger(ctx, inst.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 2)
		})
	}
}

func TestRecordDeposit_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		person  string
		amount  model.DenominationCount
		wantErr error
	}{
		{"empty amount", "Ann", model.DenominationCount{}, ErrInvalidAmount},
		{"zero counts", "Ann", model.DenominationCount{1000: 0}, ErrInvalidAmount},
		{"no person", " ", model.DenominationCount{1000: 1}, validation.ErrEmptyName},
		{"negative", "Ann", model.DenominationCount{1000: -1}, validation.ErrInvalidCount},
		{"too many", "Ann", model.DenominationCount{1: validation.MaxCount + 1}, validation.ErrInvalidCount},
		{"unknown denomination", "Ann", model.DenominationCount{3: 1}, validation.ErrUnknownDenomination},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordDeposit(ctx, f.instance, tt.person, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, f.ledgerLen(t))

	_, err := f.svc.RecordDeposit(ctx, "missing", "Ann", model.DenominationCount{1000: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLedger_NewestFirst(t *testing.T) {
	f := newFixture(t)
	first := f.deposit(t, "Ann", model.DenominationCount{1000: 1})
	second := f.deposit(t, "Ann", model.DenominationCount{100: 1})

	entries, err := f.svc.ListLedger(context.Background(), f.instance)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].ID)
	assert.Equal(t, first.ID, entries[1].ID)

	_, err = f.svc.ListLedger(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateProduct(ctx, f.instance, repository.ProductInput{Name: " ", Price: 1})
	assert.ErrorIs(t, err, ErrInvalidProduct)
	_, err = f.svc.CreateProduct(ctx, f.instance, repository.ProductInput{Name: "Tea", Price: -1})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	blank := "  "
	p, err := f.svc.CreateProduct(ctx, f.instance, repository.ProductInput{Name: " Tea ", Price: 100, SellerName: &blank})
	require.NoError(t, err)
	assert.Equal(t, "Tea", p.Name)
	assert.Nil(t, p.SellerName)

	p, err = f.svc.UpdateProduct(ctx, f.instance, p.ID, repository.ProductInput{Name: "Green tea", Price: 150})
	require.NoError(t, err)
	assert.Equal(t, int64(150), p.Price)

	list, err := f.svc.ListProducts(ctx, f.instance)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListProducts(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBalanceCache_MatchesFullReplay(t *testing.T) {
	ctx := context.Background()
	snaps := newMemCache()
	cached := newFixture(t, WithBalanceCache(snaps))

	tea := cached.product(t, "Tea", 700, "")
	dep := cached.deposit(t, "Ann", model.DenominationCount{1000: 2, 100: 5})
	assert.Equal(t, model.DenominationCount{1000: 2, 100: 5}, cached.balance(t))

	snap, ok := snaps.data[cached.instance]
	require.True(t, ok)
	assert.Equal(t, dep.ID, snap.ThroughID)

	// The reversal lands after the snapshot, its referent before it.
	_, err := cached.svc.Revert(ctx, dep.ID)
	require.NoError(t, err)
	assert.Empty(t, cached.balance(t))

	cached.deposit(t, "Bob", model.DenominationCount{100: 5})
	sale, err := cached.svc.FinalizeSale(ctx, cached.instance, []int64{tea.ID}, model.DenominationCount{1000: 1})
	require.NoError(t, err)
	assert.Equal(t, model.DenominationCount{100: 3}, sale.ChangeGiven)

	entries, err := cached.repo.ListEntries(ctx, cached.instance)
	require.NoError(t, err)
	full := NewService(cached.repo)
	want, err := full.DrawerBalance(ctx, cached.instance)
	require.NoError(t, err)
	assert.True(t, want.Counts.Equal(cached.balance(t)))
	assert.Equal(t, entries[len(entries)-1].ID, snaps.data[cached.instance].ThroughID)
}

func TestBalanceCache_FailuresFallBackToReplay(t *testing.T) {
	snaps := newMemCache()
	snaps.err = errors.New("redis down")
	f := newFixture(t, WithBalanceCache(snaps))
	f.deposit(t, "Ann", model.DenominationCount{1000: 1})

	assert.Equal(t, model.DenominationCount{1000: 1}, f.balance(t))
}

func TestBalanceCache_SnapshotPastLedgerEndIsDropped(t *testing.T) {
	snaps := newMemCache()
	f := newFixture(t, WithBalanceCache(snaps))
	snaps.data[f.instance] = cache.Snapshot{ThroughID: 999, Counts: model.DenominationCount{1000: 50}}

	dep := f.deposit(t, "Ann", model.DenominationCount{100: 1})
	assert.Equal(t, model.DenominationCount{100: 1}, f.balance(t))
	assert.Equal(t, 1, snaps.dropped)
	assert.Equal(t, dep.ID, snaps.data[f.instance].ThroughID)
}

type stubEngine struct {
	price int64
	err   error
}

func (e *stubEngine) Price(context.Context, string, []model.Product) (int64, error) {
	return e.price, e.err
}

type stubCatalog struct {
	products  []model.Product
	requested []int64
}

func (c *stubCatalog) GetProducts(_ context.Context, _ string, ids []int64) ([]model.Product, error) {
	c.requested = append(c.requested, ids...)
	return c.products, nil
}

func (c *stubCatalog) FindProductsBySeller(_ context.Context, _ string, seller string) ([]model.Product, error) {
	var res []model.Product
	for _, p := range c.products {
		if p.BelongsTo(seller) {
			res = append(res, p)
		}
	}
	return res, nil
}

type memCache struct {
	mu      sync.Mutex
	data    map[string]cache.Snapshot
	err     error
	dropped int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]cache.Snapshot)}
}

func (c *memCache) Get(_ context.Context, id string) (cache.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return cache.Snapshot{}, false, c.err
	}
	snap, ok := c.data[id]
	return snap, ok, nil
}

func (c *memCache) Put(_ context.Context, id string, snap cache.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[id] = cache.Snapshot{ThroughID: snap.ThroughID, Counts: snap.Counts.Clone()}
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	delete(c.data, id)
	c.dropped++
	return nil
}
