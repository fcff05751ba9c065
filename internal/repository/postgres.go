// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrProfileExists возвращается при попытке зарегистрировать уже занятый email.
var (
	ErrProfileExists = errors.New("profile already exists")
	// ErrProfileNotFound возвращается, если пользователь не найден.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrServiceNotFound возвращается, если услуга не найдена или неактивна.
	ErrServiceNotFound = errors.New("service not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNumberTaken возвращается при коллизии номера заказа; операцию
	// следует повторить с новым номером.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrInvalidStatusTransition возвращается при запрещённом переходе статуса заказа.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrConcurrencyConflict возвращается, когда транзакция проиграла гонку
	// и ретраи на уровне хранилища исчерпаны.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)

// InsufficientBalanceError содержит баланс и требуемую сумму на момент отказа.
type InsufficientBalanceError struct {
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s", e.Balance, e.Required)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInsufficientBalance).
func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall возвращает недостающую сумму.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Balance)
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сериализационных сбоях и дедлоках.
// Исчерпание ретраев по конфликту сериализации превращается в ErrConcurrencyConflict.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
				return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateProfile создаёт нового пользователя с ролью cliente и нулевым балансом.
func (r *PostgresRepository) CreateProfile(ctx context.Context, fullName, email string, passwordHash []byte) (uuid.UUID, error) {
	id := uuid.New()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (id, full_name, email, password_hash, role) VALUES ($1, $2, $3, $4, $5)`,
		id, fullName, email, passwordHash, string(model.RoleCliente),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrProfileExists, email)
		}
		return uuid.Nil, fmt.Errorf("create profile: %w", err)
	}

	return id, nil
}

// GetProfileByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, full_name, email, password_hash, role, balance, created_at, updated_at
		 FROM profiles WHERE email = $1`,
		email,
	)
	return scanProfile(row)
}

// GetProfileByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetProfileByID(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, full_name, email, password_hash, role, balance, created_at, updated_at
		 FROM profiles WHERE id = $1`,
		id,
	)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	var role string
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.PasswordHash, &role, &p.Balance, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.Role = model.Role(role)

	return &p, nil
}

// ListActiveServices возвращает активные услуги каталога.
func (r *PostgresRepository) ListActiveServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, category_id, name, type, price_per_1000, api_service_id, api_price,
		        markup_percentage, min_quantity, max_quantity, is_active, last_sync_at,
		        created_at, updated_at
		 FROM services
		 WHERE is_active
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(
			&s.ID, &s.CategoryID, &s.Name, &s.Type, &s.PricePer1000, &s.APIServiceID,
			&s.APIPrice, &s.MarkupPercentage, &s.MinQuantity, &s.MaxQuantity,
			&s.IsActive, &s.LastSyncAt, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return services, nil
}

// ListServices возвращает все услуги каталога, включая неактивные.
// Используется в сводках: завершённые заказы могут ссылаться на услуги,
// уже выключенные из каталога.
func (r *PostgresRepository) ListServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, category_id, name, type, price_per_1000, api_service_id, api_price,
		        markup_percentage, min_quantity, max_quantity, is_active, last_sync_at,
		        created_at, updated_at
		 FROM services
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(
			&s.ID, &s.CategoryID, &s.Name, &s.Type, &s.PricePer1000, &s.APIServiceID,
			&s.APIPrice, &s.MarkupPercentage, &s.MinQuantity, &s.MaxQuantity,
			&s.IsActive, &s.LastSyncAt, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return services, nil
}

// GetServiceByID возвращает активную услугу по идентификатору.
func (r *PostgresRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, category_id, name, type, price_per_1000, api_service_id, api_price,
		        markup_percentage, min_quantity, max_quantity, is_active, last_sync_at,
		        created_at, updated_at
		 FROM services
		 WHERE id = $1 AND is_active`,
		id,
	)

	var s model.Service
	err := row.Scan(
		&s.ID, &s.CategoryID, &s.Name, &s.Type, &s.PricePer1000, &s.APIServiceID,
		&s.APIPrice, &s.MarkupPercentage, &s.MinQuantity, &s.MaxQuantity,
		&s.IsActive, &s.LastSyncAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}

	return &s, nil
}

// UpsertProviderService создаёт или обновляет услугу каталога по данным
// синхронизации с API поставщика. Сопоставление идёт по api_service_id,
// клиентская цена и наценки при обновлении не трогаются.
func (r *PostgresRepository) UpsertProviderService(ctx context.Context, svc model.Service) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO services (id, name, type, price_per_1000, api_service_id, api_price,
		                       min_quantity, max_quantity, is_active, last_sync_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, now())
		 ON CONFLICT (api_service_id) DO UPDATE SET
		     api_price = EXCLUDED.api_price,
		     min_quantity = EXCLUDED.min_quantity,
		     max_quantity = EXCLUDED.max_quantity,
		     last_sync_at = now(),
		     updated_at = now()`,
		uuid.New(), svc.Name, svc.Type, svc.PricePer1000, svc.APIServiceID, svc.APIPrice,
		svc.MinQuantity, svc.MaxQuantity,
	)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}

	return nil
}

// ListActiveMarkupSettings возвращает активные правила наценки.
func (r *PostgresRepository) ListActiveMarkupSettings(ctx context.Context) ([]model.MarkupSetting, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, category_id, markup_percentage, is_active
		 FROM markup_settings
		 WHERE is_active`,
	)
	if err != nil {
		return nil, fmt.Errorf("select markup settings: %w", err)
	}
	defer rows.Close()

	var rules []model.MarkupSetting
	for rows.Next() {
		var m model.MarkupSetting
		if err := rows.Scan(&m.ID, &m.CategoryID, &m.MarkupPercentage, &m.IsActive); err != nil {
			return nil, fmt.Errorf("scan markup setting: %w", err)
		}
		rules = append(rules, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rules, nil
}
