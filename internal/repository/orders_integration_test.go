//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// Тесты в этом файле требуют живой PostgreSQL:
//
//	TEST_DATABASE_URI=postgres://... go test -tags integration ./internal/repository/
func newTestRepo(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func createTestProfile(t *testing.T, repo *PostgresRepository, balance decimal.Decimal) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	email := fmt.Sprintf("cliente-%s@test.local", uuid.NewString())
	userID, err := repo.CreateProfile(ctx, "Cliente Test", email, []byte("hash"))
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	if balance.IsPositive() {
		if _, err := repo.CreditBalance(ctx, userID, balance, model.TransactionDeposit, nil, "Recarga de saldo - test"); err != nil {
			t.Fatalf("credit balance: %v", err)
		}
	}

	return userID
}

func createTestService(t *testing.T, repo *PostgresRepository) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	apiID := uuid.NewString()
	apiPrice := decimal.RequireFromString("10.00")
	err := repo.UpsertProviderService(ctx, model.Service{
		Name:         "Seguidores Test " + apiID,
		Type:         "Default",
		PricePer1000: decimal.RequireFromString("12.00"),
		APIServiceID: &apiID,
		APIPrice:     &apiPrice,
		MinQuantity:  1,
		MaxQuantity:  100000,
	})
	if err != nil {
		t.Fatalf("upsert service: %v", err)
	}

	services, err := repo.ListActiveServices(ctx)
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	for _, s := range services {
		if s.APIServiceID != nil && *s.APIServiceID == apiID {
			return s.ID
		}
	}

	t.Fatalf("service %s not found after upsert", apiID)
	return uuid.Nil
}

// Два одновременных заказа по 60 при балансе 100: ровно один проходит,
// второй получает отказ по балансу, итоговый баланс 40.
func TestCreateOrderWithDebit_ConcurrentDebits(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	userID := createTestProfile(t, repo, decimal.NewFromInt(100))
	serviceID := createTestService(t, repo)

	price := decimal.RequireFromString("60.00")

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		number := fmt.Sprintf("ORD-TEST-%s", uuid.NewString())
		go func(number string) {
			_, err := repo.CreateOrderWithDebit(ctx, OrderParams{
				OrderNumber: number,
				UserID:      userID,
				ServiceID:   serviceID,
				ServiceName: "Seguidores Test",
				Quantity:    5000,
				Price:       price,
				TargetURL:   "https://instagram.com/someuser",
			})
			results <- err
		}(number)
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientBalance):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 || rejected != 1 {
		t.Fatalf("succeeded=%d rejected=%d, want exactly one of each", succeeded, rejected)
	}

	balance, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Current.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("balance = %s, want 40", balance.Current)
	}
}

// Повтор вставки с тем же номером и теми же параметрами возвращает
// существующий заказ без второго списания.
func TestCreateOrderWithDebit_IdempotentResubmission(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	userID := createTestProfile(t, repo, decimal.NewFromInt(100))
	serviceID := createTestService(t, repo)

	params := OrderParams{
		OrderNumber: fmt.Sprintf("ORD-TEST-%s", uuid.NewString()),
		UserID:      userID,
		ServiceID:   serviceID,
		ServiceName: "Seguidores Test",
		Quantity:    2500,
		Price:       decimal.RequireFromString("30.00"),
		TargetURL:   "https://instagram.com/someuser",
	}

	first, err := repo.CreateOrderWithDebit(ctx, params)
	if err != nil {
		t.Fatalf("first submission: %v", err)
	}

	second, err := repo.CreateOrderWithDebit(ctx, params)
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resubmission created a new order: %s != %s", second.ID, first.ID)
	}

	balance, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Current.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("balance = %s, want 70 (single debit)", balance.Current)
	}
}
