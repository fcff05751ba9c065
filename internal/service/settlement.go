package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/pricing"
	"github.com/mmeshcher/smmpanel-system/internal/provider"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
	"github.com/mmeshcher/smmpanel-system/internal/validation"
)

// ErrInvalidTarget возвращается для ссылок вне списка поддерживаемых платформ.
var (
	ErrInvalidTarget = errors.New("target url not allowed")
	// ErrNotesTooLong возвращается, если комментарий к заказу превышает лимит.
	ErrNotesTooLong = errors.New("notes too long")
	// ErrOrderSubmissionFailed возвращается, когда заказ не удалось отправить
	// поставщику; списание к этому моменту уже компенсировано.
	ErrOrderSubmissionFailed = errors.New("order submission failed")
	// ErrOrderTotalZero возвращается, если итоговая сумма заказа округлилась
	// до нуля. Журнал кошелька принимает только положительные суммы, поэтому
	// такой заказ отклоняется до списания.
	ErrOrderTotalZero = errors.New("order total rounds to zero")
)

// QuantityRangeError возвращается, если количество вне границ услуги.
type QuantityRangeError struct {
	Quantity int
	Min      int
	Max      int
}

func (e *QuantityRangeError) Error() string {
	return fmt.Sprintf("quantity %d out of range [%d, %d]", e.Quantity, e.Min, e.Max)
}

const (
	orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	orderNumberSuffix   = 9
	placeOrderRetries   = 3
)

// newOrderNumber генерирует номер заказа вида ORD-<unix ms>-<9 символов base36>.
// Уникальность гарантирует не генератор, а ограничение в БД: коллизия приводит
// к повтору с новым номером.
func newOrderNumber() string {
	suffix := make([]byte, orderNumberSuffix)
	for i := range suffix {
		suffix[i] = orderNumberAlphabet[rand.IntN(len(orderNumberAlphabet))]
	}

	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), suffix)
}

// PlaceOrder размещает заказ: проверяет параметры, считает клиентскую цену,
// атомарно списывает её с баланса и отправляет заказ поставщику. Если
// поставщик заказ не принял, списание компенсируется возвратом, а заказ
// переводится в cancelled.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, serviceID uuid.UUID, quantity int, targetURL, notes string) (*model.Order, error) {
	svc, err := s.repo.GetServiceByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	if quantity < svc.MinQuantity || quantity > svc.MaxQuantity {
		return nil, &QuantityRangeError{Quantity: quantity, Min: svc.MinQuantity, Max: svc.MaxQuantity}
	}
	if !validation.IsValidTargetURL(targetURL) {
		return nil, ErrInvalidTarget
	}
	if !validation.IsValidNotes(notes) {
		return nil, ErrNotesTooLong
	}

	rules, err := s.repo.ListActiveMarkupSettings(ctx)
	if err != nil {
		return nil, err
	}

	finalPer1000, err := s.resolver.ServiceFinalPrice(*svc, rules)
	if err != nil {
		return nil, err
	}

	price, err := pricing.ClientTotal(quantity, finalPer1000)
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, ErrOrderTotalZero
	}

	number := newOrderNumber()
	var order *model.Order

	backoff := retry.WithMaxRetries(placeOrderRetries, retry.NewConstant(50*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		o, err := s.repo.CreateOrderWithDebit(ctx, repository.OrderParams{
			OrderNumber: number,
			UserID:      userID,
			ServiceID:   svc.ID,
			ServiceName: svc.Name,
			Quantity:    quantity,
			Price:       price,
			TargetURL:   targetURL,
			Notes:       notes,
		})
		switch {
		case errors.Is(err, repository.ErrOrderNumberTaken):
			// Настоящая коллизия номера, пробуем с новым.
			number = newOrderNumber()
			return retry.RetryableError(err)
		case errors.Is(err, repository.ErrConcurrencyConflict):
			// Повтор с тем же номером: дедупликация в хранилище не даст
			// списать дважды.
			return retry.RetryableError(err)
		case err != nil:
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.submitToProvider(ctx, order, svc); err != nil {
		return nil, err
	}

	return order, nil
}

// submitToProvider отправляет заказ поставщику. Отказ или недоступность API
// после ретраев компенсируется возвратом списанной суммы.
func (s *Service) submitToProvider(ctx context.Context, order *model.Order, svc *model.Service) error {
	if s.provider == nil || svc.APIServiceID == nil {
		return nil
	}

	info, err := s.provider.AddOrder(ctx, provider.AddOrderParams{
		ServiceRef: *svc.APIServiceID,
		Link:       order.TargetURL,
		Quantity:   order.Quantity,
	})
	if err != nil {
		s.logger.Error("provider rejected order, refunding",
			zap.String("order", order.OrderNumber),
			zap.Error(err),
		)

		if _, rErr := s.repo.RefundOrder(ctx, order.OrderNumber, model.OrderStatusCancelled); rErr != nil {
			// Возврат не прошёл: заказ остаётся pending без provider_ref,
			// деньги за него вернёт ручная операция возврата.
			s.logger.Error("compensating refund failed",
				zap.String("order", order.OrderNumber),
				zap.Error(rErr),
			)
			return fmt.Errorf("%w: %s (refund failed: %s)", ErrOrderSubmissionFailed, err, rErr)
		}

		return fmt.Errorf("%w: %s", ErrOrderSubmissionFailed, err)
	}

	if err := s.repo.SetProviderOrder(ctx, order.OrderNumber, info.OrderRef); err != nil {
		s.logger.Error("save provider ref failed",
			zap.String("order", order.OrderNumber),
			zap.String("provider_ref", info.OrderRef),
			zap.Error(err),
		)
		return nil
	}

	order.ProviderRef = &info.OrderRef
	order.StartedCount = info.StartCount

	return nil
}

// RefundCompletedOrder возвращает стоимость завершённого заказа на баланс
// пользователя и переводит заказ в refunded. Операция доступна персоналу.
func (s *Service) RefundCompletedOrder(ctx context.Context, orderNumber string) (*model.Transaction, error) {
	return s.repo.RefundOrder(ctx, orderNumber, model.OrderStatusRefunded)
}
