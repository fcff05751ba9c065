// Package model содержит доменные сущности SMM-панели.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя панели.
type Role string

const (
	RoleCliente       Role = "cliente"
	RoleDistribuidor  Role = "distribuidor"
	RoleSoporte       Role = "soporte"
	RoleAdministrador Role = "administrador"
)

// Profile представляет зарегистрированного пользователя и его кошелёк.
// Баланс изменяется только операциями кошелька в хранилище, никогда напрямую.
type Profile struct {
	ID           uuid.UUID
	FullName     string
	Email        string
	PasswordHash []byte
	Role         Role
	Balance      decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ServiceCategory описывает категорию услуг (соцсеть).
type ServiceCategory struct {
	ID       uuid.UUID
	Name     string
	Slug     string
	IsActive bool
}

// Service описывает услугу каталога. PricePer1000 — клиентская цена за 1000
// единиц, APIPrice — оптовая цена поставщика, MarkupPercentage — наценка,
// заданная для конкретной услуги (переопределяет правила категорий).
type Service struct {
	ID               uuid.UUID
	CategoryID       *uuid.UUID
	Name             string
	Type             string
	PricePer1000     decimal.Decimal
	APIServiceID     *string
	APIPrice         *decimal.Decimal
	MarkupPercentage *decimal.Decimal
	MinQuantity      int
	MaxQuantity      int
	IsActive         bool
	LastSyncAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MarkupSetting описывает правило наценки. CategoryID == nil означает
// глобальное правило по умолчанию.
type MarkupSetting struct {
	ID               uuid.UUID
	CategoryID       *uuid.UUID
	MarkupPercentage decimal.Decimal
	IsActive         bool
}

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// CanTransition сообщает, допустим ли переход статуса заказа.
// Разрешённый граф: pending → processing → completed,
// pending → cancelled, completed → refunded.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderStatusPending:
		return to == OrderStatusProcessing || to == OrderStatusCancelled
	case OrderStatusProcessing:
		return to == OrderStatusCompleted
	case OrderStatusCompleted:
		return to == OrderStatusRefunded
	default:
		return false
	}
}

// IsTerminal сообщает, является ли статус терминальным. Из completed
// остаётся единственный разрешённый переход — в refunded.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Order описывает заказ пользователя. Price — итоговая списанная сумма.
// ProviderRef — идентификатор заказа в API поставщика после отправки.
type Order struct {
	ID           uuid.UUID
	OrderNumber  string
	UserID       uuid.UUID
	ServiceID    uuid.UUID
	ServiceName  string
	Quantity     int
	Price        decimal.Decimal
	TargetURL    string
	Status       OrderStatus
	ProviderRef  *string
	StartedCount int
	Remains      *int
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// TransactionType описывает тип операции по кошельку.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionRefund     TransactionType = "refund"
)

// TransactionStatus описывает статус операции по кошельку.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction описывает запись журнала кошелька. Amount всегда хранится
// положительным, знак определяется типом операции. ReferenceID связывает
// списание или возврат с номером заказа.
type Transaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Type        TransactionType
	Amount      decimal.Decimal
	Status      TransactionStatus
	ReferenceID *string
	Description string
	CreatedAt   time.Time
}

// Balance содержит текущий баланс пользователя и итоги по типам операций.
type Balance struct {
	Current   decimal.Decimal `json:"current"`
	Deposited decimal.Decimal `json:"deposited"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	Refunded  decimal.Decimal `json:"refunded"`
}
