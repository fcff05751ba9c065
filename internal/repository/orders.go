package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// OrderParams содержит данные для атомарного создания заказа со списанием.
type OrderParams struct {
	OrderNumber string
	UserID      uuid.UUID
	ServiceID   uuid.UUID
	ServiceName string
	Quantity    int
	Price       decimal.Decimal
	TargetURL   string
	Notes       string
}

// CreateOrderWithDebit атомарно проверяет баланс, списывает стоимость заказа,
// записывает операцию в журнал кошелька и создаёт заказ в статусе pending.
// Либо выполняется всё, либо ничего. Строка пользователя блокируется на время
// транзакции, поэтому два одновременных заказа не пройдут проверку баланса
// по устаревшему значению.
//
// Повторный вызов с тем же номером заказа и теми же параметрами возвращает
// уже созданный заказ без повторного списания. Чужой занятый номер даёт
// ErrOrderNumberTaken — вызывающий повторяет операцию с новым номером.
func (r *PostgresRepository) CreateOrderWithDebit(ctx context.Context, p OrderParams) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func() error {
		var err error
		order, err = r.createOrderWithDebit(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *PostgresRepository) createOrderWithDebit(ctx context.Context, p OrderParams) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем строку пользователя: проверка баланса и списание должны
	// быть сериализованы между конкурирующими заказами.
	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT balance FROM profiles WHERE id = $1 FOR UPDATE`,
		p.UserID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("lock profile: %w", err)
	}

	if balance.LessThan(p.Price) {
		return nil, &InsufficientBalanceError{Balance: balance, Required: p.Price}
	}

	orderID := uuid.New()
	createdAt := time.Now()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, order_number, user_id, service_id, service_name,
		                     quantity, price, target_url, status, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		orderID, p.OrderNumber, p.UserID, p.ServiceID, p.ServiceName,
		p.Quantity, p.Price, p.TargetURL, string(model.OrderStatusPending), p.Notes, createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return nil, fmt.Errorf("rollback after conflict: %w", rbErr)
			}
			return r.resolveOrderNumberConflict(ctx, p)
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE profiles SET balance = balance - $2, updated_at = now() WHERE id = $1`,
		p.UserID, p.Price,
	)
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, status, reference_id, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), p.UserID, string(model.TransactionWithdrawal), p.Price,
		string(model.TransactionStatusCompleted), p.OrderNumber,
		fmt.Sprintf("Pedido %s - %s", p.OrderNumber, p.ServiceName),
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.Order{
		ID:          orderID,
		OrderNumber: p.OrderNumber,
		UserID:      p.UserID,
		ServiceID:   p.ServiceID,
		ServiceName: p.ServiceName,
		Quantity:    p.Quantity,
		Price:       p.Price,
		TargetURL:   p.TargetURL,
		Status:      model.OrderStatusPending,
		Notes:       p.Notes,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// resolveOrderNumberConflict различает повторную отправку того же заказа
// и настоящую коллизию номеров. Повтор возвращает существующий заказ без
// второго списания.
func (r *PostgresRepository) resolveOrderNumberConflict(ctx context.Context, p OrderParams) (*model.Order, error) {
	existing, err := r.GetOrderByNumber(ctx, p.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("select conflicting order: %w", err)
	}

	if existing.UserID == p.UserID &&
		existing.ServiceID == p.ServiceID &&
		existing.Quantity == p.Quantity &&
		existing.Price.Equal(p.Price) {
		return existing, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrOrderNumberTaken, p.OrderNumber)
}

// CreditBalance пополняет баланс пользователя и записывает операцию в журнал.
func (r *PostgresRepository) CreditBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType model.TransactionType, referenceID *string, description string) (*model.Transaction, error) {
	var result *model.Transaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE profiles SET balance = balance + $2, updated_at = now() WHERE id = $1`,
			userID, amount,
		)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrProfileNotFound
		}

		txID := uuid.New()
		createdAt := time.Now()

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, user_id, type, amount, status, reference_id, description, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			txID, userID, string(txType), amount,
			string(model.TransactionStatusCompleted), referenceID, description, createdAt,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &model.Transaction{
			ID:          txID,
			UserID:      userID,
			Type:        txType,
			Amount:      amount,
			Status:      model.TransactionStatusCompleted,
			ReferenceID: referenceID,
			Description: description,
			CreatedAt:   createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RefundOrder возвращает стоимость заказа на баланс пользователя и переводит
// заказ в указанный статус (cancelled для компенсации неотправленного заказа,
// refunded для возврата завершённого). Возврат и смена статуса атомарны.
func (r *PostgresRepository) RefundOrder(ctx context.Context, orderNumber string, toStatus model.OrderStatus) (*model.Transaction, error) {
	if toStatus != model.OrderStatusCancelled && toStatus != model.OrderStatusRefunded {
		return nil, fmt.Errorf("%w: refund to %s", ErrInvalidStatusTransition, toStatus)
	}

	var result *model.Transaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var userID uuid.UUID
		var price decimal.Decimal
		var status string
		err = tx.QueryRow(ctx,
			`SELECT user_id, price, status FROM orders WHERE order_number = $1 FOR UPDATE`,
			orderNumber,
		).Scan(&userID, &price, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if !model.CanTransition(model.OrderStatus(status), toStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, status, toStatus)
		}

		_, err = tx.Exec(ctx,
			`UPDATE profiles SET balance = balance + $2, updated_at = now() WHERE id = $1`,
			userID, price,
		)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE order_number = $1`,
			orderNumber, string(toStatus),
		)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		txID := uuid.New()
		createdAt := time.Now()

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, user_id, type, amount, status, reference_id, description, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			txID, userID, string(model.TransactionRefund), price,
			string(model.TransactionStatusCompleted), orderNumber,
			fmt.Sprintf("Reembolso pedido %s", orderNumber), createdAt,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &model.Transaction{
			ID:          txID,
			UserID:      userID,
			Type:        model.TransactionRefund,
			Amount:      price,
			Status:      model.TransactionStatusCompleted,
			ReferenceID: &orderNumber,
			CreatedAt:   createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateOrderStatus переводит заказ в новый статус с проверкой графа
// переходов. Повторное применение текущего статуса не является ошибкой:
// процесс синхронизации может увидеть один и тот же ответ поставщика дважды.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderNumber string, toStatus model.OrderStatus, startedCount *int, remains *int) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var current string
		err = tx.QueryRow(ctx,
			`SELECT status FROM orders WHERE order_number = $1 FOR UPDATE`,
			orderNumber,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if model.OrderStatus(current) != toStatus {
			if !model.CanTransition(model.OrderStatus(current), toStatus) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current, toStatus)
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2,
			        started_count = COALESCE($3, started_count),
			        remains = COALESCE($4, remains),
			        completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
			        updated_at = now()
			 WHERE order_number = $1`,
			orderNumber, string(toStatus), startedCount, remains,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// SetProviderOrder сохраняет идентификатор заказа в API поставщика.
func (r *PostgresRepository) SetProviderOrder(ctx context.Context, orderNumber, providerRef string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET provider_ref = $2, updated_at = now() WHERE order_number = $1`,
		orderNumber, providerRef,
	)
	if err != nil {
		return fmt.Errorf("set provider ref: %w", err)
	}

	return nil
}

// OrderForSync описывает заказ, ожидающий обновления статуса от поставщика.
type OrderForSync struct {
	Number      string
	Status      model.OrderStatus
	ProviderRef string
}

// GetOrdersForSync возвращает отправленные поставщику заказы в нетерминальных статусах.
func (r *PostgresRepository) GetOrdersForSync(ctx context.Context, limit int) ([]OrderForSync, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_number, status, provider_ref
		 FROM orders
		 WHERE provider_ref IS NOT NULL AND status IN ($1, $2)
		 ORDER BY created_at
		 LIMIT $3`,
		string(model.OrderStatusPending),
		string(model.OrderStatusProcessing),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders for sync: %w", err)
	}
	defer rows.Close()

	var res []OrderForSync
	for rows.Next() {
		var o OrderForSync
		var status string
		if err := rows.Scan(&o.Number, &status, &o.ProviderRef); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const orderColumns = `id, order_number, user_id, service_id, service_name, quantity, price,
	target_url, status, provider_ref, started_count, remains, notes,
	created_at, updated_at, completed_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.ServiceID, &o.ServiceName, &o.Quantity,
		&o.Price, &o.TargetURL, &status, &o.ProviderRef, &o.StartedCount, &o.Remains,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)

	return &o, nil
}

// GetOrderByNumber возвращает заказ по его номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = $1`,
		orderNumber,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return o, nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetOrdersByStatus возвращает заказы в указанном статусе.
func (r *PostgresRepository) GetOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetBalance возвращает текущий баланс пользователя и итоги по типам операций.
// Баланс читается из профиля, итоги — из журнала завершённых операций.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	var balance model.Balance

	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM profiles WHERE id = $1`,
		userID,
	).Scan(&balance.Current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("select balance: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT type, COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = $1 AND status = $2
		 GROUP BY type`,
		userID, string(model.TransactionStatusCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var txType string
		var sum decimal.Decimal
		if err := rows.Scan(&txType, &sum); err != nil {
			return nil, fmt.Errorf("scan sum: %w", err)
		}

		switch model.TransactionType(txType) {
		case model.TransactionDeposit:
			balance.Deposited = sum
		case model.TransactionWithdrawal:
			balance.Withdrawn = sum
		case model.TransactionRefund:
			balance.Refunded = sum
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &balance, nil
}

// GetTransactionsByUser возвращает журнал операций пользователя.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, amount, status, reference_id, description, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var txType, status string
		if err := rows.Scan(&t.ID, &t.UserID, &txType, &t.Amount, &status, &t.ReferenceID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(txType)
		t.Status = model.TransactionStatus(status)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
