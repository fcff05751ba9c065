// Package handler содержит HTTP-обработчики API SMM-панели.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/middleware"
	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/pricing"
	"github.com/mmeshcher/smmpanel-system/internal/provider"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
	"github.com/mmeshcher/smmpanel-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterProfile(ctx context.Context, fullName, email, password string) (uuid.UUID, error)
	AuthenticateProfile(ctx context.Context, email, password string) (uuid.UUID, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error)
	Catalog(ctx context.Context) ([]service.CatalogItem, error)
	PlaceOrder(ctx context.Context, userID, serviceID uuid.UUID, quantity int, targetURL, notes string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	GetOrderForUser(ctx context.Context, userID uuid.UUID, orderNumber string) (*model.Order, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error)
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method string) (*model.Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]model.Transaction, error)
	RefundCompletedOrder(ctx context.Context, orderNumber string) (*model.Transaction, error)
	SyncServices(ctx context.Context) (synced, failed int, err error)
	ProviderBalance(ctx context.Context) (*provider.BalanceInfo, error)
	ProfitStats(ctx context.Context) (pricing.Stats, error)
}

// Handler реализует HTTP-обработчики API SMM-панели.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.FullName == "" || req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterProfile(r.Context(), req.FullName, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrProfileExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register profile error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateProfile(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type catalogResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type,omitempty"`
	PricePer1000 decimal.Decimal `json:"price_per_1000"`
	MinQuantity  int             `json:"min_quantity"`
	MaxQuantity  int             `json:"max_quantity"`
}

// GetServices возвращает каталог активных услуг с клиентскими ценами.
func (h *Handler) GetServices(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Catalog(r.Context())
	if err != nil {
		h.logger.Error("get catalog error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]catalogResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, catalogResponse{
			ID:           item.Service.ID.String(),
			Name:         item.Service.Name,
			Type:         item.Service.Type,
			PricePer1000: item.FinalPricePer1000,
			MinQuantity:  item.Service.MinQuantity,
			MaxQuantity:  item.Service.MaxQuantity,
		})
	}

	writeJSON(w, h.logger, resp)
}

type placeOrderRequest struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
	Link      string `json:"link"`
	Notes     string `json:"notes,omitempty"`
}

type orderResponse struct {
	Number       string          `json:"number"`
	Service      string          `json:"service"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Link         string          `json:"link"`
	Status       string          `json:"status"`
	StartedCount int             `json:"started_count"`
	Remains      *int            `json:"remains,omitempty"`
	CreatedAt    string          `json:"created_at"`
	CompletedAt  string          `json:"completed_at,omitempty"`
}

func toOrderResponse(o model.Order) orderResponse {
	resp := orderResponse{
		Number:       o.OrderNumber,
		Service:      o.ServiceName,
		Quantity:     o.Quantity,
		Price:        o.Price,
		Link:         o.TargetURL,
		Status:       string(o.Status),
		StartedCount: o.StartedCount,
		Remains:      o.Remains,
		CreatedAt:    o.CreatedAt.Format(time.RFC3339),
	}
	if o.CompletedAt != nil {
		resp.CompletedAt = o.CompletedAt.Format(time.RFC3339)
	}

	return resp
}

// PlaceOrder размещает заказ от имени текущего пользователя.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), userID, serviceID, req.Quantity, req.Link, req.Notes)
	if err != nil {
		h.writePlaceOrderError(w, err, userID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toOrderResponse(*order)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writePlaceOrderError(w http.ResponseWriter, err error, userID uuid.UUID) {
	var rangeErr *service.QuantityRangeError

	switch {
	case errors.Is(err, repository.ErrServiceNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.As(err, &rangeErr),
		errors.Is(err, service.ErrInvalidTarget),
		errors.Is(err, service.ErrNotesTooLong),
		errors.Is(err, service.ErrOrderTotalZero):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrOrderNumberTaken),
		errors.Is(err, repository.ErrConcurrencyConflict):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrOrderSubmissionFailed):
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error("place order error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}

	writeJSON(w, h.logger, resp)
}

// GetOrder возвращает один заказ текущего пользователя по номеру.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	number := orderNumberParam(r)
	if number == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	order, err := h.service.GetOrderForUser(r.Context(), userID, number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, toOrderResponse(*order))
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, balance)
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method,omitempty"`
}

type transactionResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	ReferenceID *string         `json:"reference_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

func toTransactionResponse(t model.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID.String(),
		Type:        string(t.Type),
		Amount:      t.Amount,
		Status:      string(t.Status),
		ReferenceID: t.ReferenceID,
		Description: t.Description,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
}

// Deposit пополняет баланс текущего пользователя.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tx, err := h.service.Deposit(r.Context(), userID, req.Amount, req.Method)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("deposit error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, toTransactionResponse(*tx))
}

// GetTransactions возвращает журнал операций кошелька текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	txs, err := h.service.GetTransactionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, toTransactionResponse(t))
	}

	writeJSON(w, h.logger, resp)
}

// RefundOrder возвращает стоимость завершённого заказа на баланс клиента.
// Доступно только персоналу.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	number := orderNumberParam(r)
	if number == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	tx, err := h.service.RefundCompletedOrder(r.Context(), number)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInvalidStatusTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("refund order error", zap.Error(err), zap.String("order", number))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, toTransactionResponse(*tx))
}

type syncResponse struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// SyncServices запускает синхронизацию каталога с API поставщика.
func (h *Handler) SyncServices(w http.ResponseWriter, r *http.Request) {
	synced, failed, err := h.service.SyncServices(r.Context())
	if err != nil {
		if errors.Is(err, provider.ErrNotConfigured) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("sync services error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	writeJSON(w, h.logger, syncResponse{Synced: synced, Failed: failed})
}

type providerBalanceResponse struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// GetProviderBalance возвращает остаток средств на аккаунте поставщика.
func (h *Handler) GetProviderBalance(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.ProviderBalance(r.Context())
	if err != nil {
		if errors.Is(err, provider.ErrNotConfigured) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("provider balance error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	writeJSON(w, h.logger, providerBalanceResponse{Balance: info.Balance, Currency: info.Currency})
}

type profitStatsResponse struct {
	Revenue decimal.Decimal `json:"revenue"`
	Cost    decimal.Decimal `json:"cost"`
	Profit  decimal.Decimal `json:"profit"`
	Margin  decimal.Decimal `json:"margin"`
}

// GetProfitStats возвращает сводку прибыли по завершённым заказам.
func (h *Handler) GetProfitStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ProfitStats(r.Context())
	if err != nil {
		h.logger.Error("profit stats error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, profitStatsResponse{
		Revenue: stats.Revenue,
		Cost:    stats.Cost,
		Profit:  stats.Profit,
		Margin:  stats.Margin,
	})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
