// Package service реализует бизнес-логику SMM-панели.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/pricing"
	"github.com/mmeshcher/smmpanel-system/internal/provider"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidAmount возвращается при неположительной сумме пополнения.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateProfile(ctx context.Context, fullName, email string, passwordHash []byte) (uuid.UUID, error)
	GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error)
	GetProfileByID(ctx context.Context, id uuid.UUID) (*model.Profile, error)
	ListActiveServices(ctx context.Context) ([]model.Service, error)
	ListServices(ctx context.Context) ([]model.Service, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*model.Service, error)
	UpsertProviderService(ctx context.Context, svc model.Service) error
	ListActiveMarkupSettings(ctx context.Context) ([]model.MarkupSetting, error)
	CreateOrderWithDebit(ctx context.Context, p repository.OrderParams) (*model.Order, error)
	CreditBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType model.TransactionType, referenceID *string, description string) (*model.Transaction, error)
	RefundOrder(ctx context.Context, orderNumber string, toStatus model.OrderStatus) (*model.Transaction, error)
	UpdateOrderStatus(ctx context.Context, orderNumber string, toStatus model.OrderStatus, startedCount *int, remains *int) error
	SetProviderOrder(ctx context.Context, orderNumber, providerRef string) error
	GetOrdersForSync(ctx context.Context, limit int) ([]repository.OrderForSync, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	GetOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error)
	GetTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]model.Transaction, error)
}

// ProviderClient описывает контракт клиента API поставщика.
type ProviderClient interface {
	Services(ctx context.Context) ([]provider.Service, error)
	Balance(ctx context.Context) (*provider.BalanceInfo, error)
	AddOrder(ctx context.Context, p provider.AddOrderParams) (*provider.OrderInfo, error)
	StatusBatch(ctx context.Context, orderRefs []string) (map[string]provider.OrderStatus, error)
}

// Service содержит бизнес-логику SMM-панели.
type Service struct {
	repo         Repository
	provider     ProviderClient
	resolver     *pricing.Resolver
	logger       *zap.Logger
	syncInterval time.Duration
}

// NewService создаёт новый сервис. providerClient может быть nil, тогда заказы
// не отправляются поставщику и остаются в pending до ручной обработки.
func NewService(repo Repository, providerClient ProviderClient, logger *zap.Logger, syncInterval time.Duration) *Service {
	if syncInterval <= 0 {
		syncInterval = 5 * time.Second
	}

	return &Service{
		repo:         repo,
		provider:     providerClient,
		resolver:     pricing.NewResolver(logger),
		logger:       logger,
		syncInterval: syncInterval,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterProfile регистрирует нового пользователя с ролью cliente.
func (s *Service) RegisterProfile(ctx context.Context, fullName, email, password string) (uuid.UUID, error) {
	hashed := hashPassword(email, password)

	id, err := s.repo.CreateProfile(ctx, fullName, email, hashed)
	if err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

// AuthenticateProfile проверяет email и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateProfile(ctx context.Context, email, password string) (uuid.UUID, error) {
	p, err := s.repo.GetProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return uuid.Nil, ErrInvalidCredentials
		}
		return uuid.Nil, err
	}

	hashed := hashPassword(email, password)
	if subtle.ConstantTimeCompare(hashed, p.PasswordHash) != 1 {
		return uuid.Nil, ErrInvalidCredentials
	}

	return p.ID, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// GetProfile возвращает профиль пользователя.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	return s.repo.GetProfileByID(ctx, userID)
}

// CatalogItem описывает услугу каталога вместе с клиентской ценой,
// рассчитанной по актуальным правилам наценки.
type CatalogItem struct {
	Service           model.Service
	FinalPricePer1000 decimal.Decimal
}

// Catalog возвращает активные услуги с рассчитанными клиентскими ценами.
func (s *Service) Catalog(ctx context.Context) ([]CatalogItem, error) {
	services, err := s.repo.ListActiveServices(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := s.repo.ListActiveMarkupSettings(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]CatalogItem, 0, len(services))
	for _, svc := range services {
		finalPrice, err := s.resolver.ServiceFinalPrice(svc, rules)
		if err != nil {
			return nil, err
		}
		items = append(items, CatalogItem{Service: svc, FinalPricePer1000: finalPrice})
	}

	return items, nil
}

// GetBalance возвращает актуальный баланс пользователя. Баланс читается из
// хранилища при каждом запросе: клиент не должен принимать решения по
// закэшированному значению.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// Deposit пополняет баланс пользователя.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method string) (*model.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	description := "Recarga de saldo"
	if method != "" {
		description += " - " + method
	}

	return s.repo.CreditBalance(ctx, userID, amount, model.TransactionDeposit, nil, description)
}

// GetOrdersByUser возвращает список заказов пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetOrderForUser возвращает заказ по номеру, если он принадлежит пользователю.
// Чужой заказ неотличим от несуществующего.
func (s *Service) GetOrderForUser(ctx context.Context, userID uuid.UUID, orderNumber string) (*model.Order, error) {
	order, err := s.repo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}

	return order, nil
}

// GetTransactionsByUser возвращает журнал операций кошелька пользователя.
func (s *Service) GetTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]model.Transaction, error) {
	return s.repo.GetTransactionsByUser(ctx, userID)
}

// ProfitStats возвращает сводку прибыли по завершённым заказам. В расчёт
// входят и заказы услуг, уже выключенных из каталога.
func (s *Service) ProfitStats(ctx context.Context) (pricing.Stats, error) {
	orders, err := s.repo.GetOrdersByStatus(ctx, model.OrderStatusCompleted)
	if err != nil {
		return pricing.Stats{}, err
	}

	services, err := s.repo.ListServices(ctx)
	if err != nil {
		return pricing.Stats{}, err
	}

	return pricing.ProfitStats(orders, services), nil
}
