package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/provider"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
)

// syncBatchSize ограничивает число заказов, опрашиваемых за один тик.
const syncBatchSize = 100

// StartStatusSync запускает фоновую синхронизацию статусов заказов с API
// поставщика. Горутина завершается при отмене контекста.
func (s *Service) StartStatusSync(ctx context.Context) {
	if s.provider == nil {
		s.logger.Info("provider API not configured, status sync disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(s.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.syncOrderStatuses(ctx)
			}
		}
	}()
}

// syncOrderStatuses опрашивает поставщика по пачке незавершённых заказов и
// применяет изменения статусов.
func (s *Service) syncOrderStatuses(ctx context.Context) {
	orders, err := s.repo.GetOrdersForSync(ctx, syncBatchSize)
	if err != nil {
		s.logger.Error("select orders for sync failed", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	refs := make([]string, 0, len(orders))
	byRef := make(map[string]repository.OrderForSync, len(orders))
	for _, o := range orders {
		refs = append(refs, o.ProviderRef)
		byRef[o.ProviderRef] = o
	}

	statuses, err := s.provider.StatusBatch(ctx, refs)
	if err != nil {
		s.logger.Warn("provider status batch failed", zap.Error(err))
		return
	}

	for ref, st := range statuses {
		order, ok := byRef[ref]
		if !ok {
			continue
		}
		if err := s.applyProviderStatus(ctx, order, st); err != nil {
			s.logger.Error("apply provider status failed",
				zap.String("order", order.Number),
				zap.String("provider_status", st.Status),
				zap.Error(err),
			)
		}
	}
}

// mapProviderStatus переводит статус поставщика во внутренний. Второй
// результат false означает, что статус не требует изменений с нашей стороны.
func mapProviderStatus(providerStatus string) (model.OrderStatus, bool) {
	switch providerStatus {
	case "In progress", "Processing":
		return model.OrderStatusProcessing, true
	case "Completed", "Partial":
		return model.OrderStatusCompleted, true
	case "Canceled", "Cancelled":
		return model.OrderStatusCancelled, true
	default:
		// Pending и неизвестные статусы оставляем как есть до следующего тика.
		return "", false
	}
}

// applyProviderStatus переводит заказ в статус, о котором сообщил поставщик,
// соблюдая граф переходов: завершение заказа из pending проходит через
// processing, отмена ещё не начатого заказа сопровождается возвратом средств.
func (s *Service) applyProviderStatus(ctx context.Context, order repository.OrderForSync, st provider.OrderStatus) error {
	target, ok := mapProviderStatus(st.Status)
	if !ok {
		return nil
	}

	startedCount := st.StartCount
	remains := st.Remains

	switch target {
	case model.OrderStatusProcessing:
		return s.repo.UpdateOrderStatus(ctx, order.Number, model.OrderStatusProcessing, &startedCount, &remains)

	case model.OrderStatusCompleted:
		if order.Status == model.OrderStatusPending {
			if err := s.repo.UpdateOrderStatus(ctx, order.Number, model.OrderStatusProcessing, &startedCount, &remains); err != nil {
				return err
			}
		}
		return s.repo.UpdateOrderStatus(ctx, order.Number, model.OrderStatusCompleted, &startedCount, &remains)

	case model.OrderStatusCancelled:
		if order.Status != model.OrderStatusPending {
			// Из processing отмена запрещена графом переходов; такой заказ
			// разбирает поддержка вручную.
			s.logger.Warn("provider cancelled order in progress, manual review required",
				zap.String("order", order.Number),
				zap.String("status", string(order.Status)),
			)
			return nil
		}
		_, err := s.repo.RefundOrder(ctx, order.Number, model.OrderStatusCancelled)
		if errors.Is(err, repository.ErrInvalidStatusTransition) {
			return nil
		}
		return err
	}

	return nil
}

// SyncServices загружает каталог поставщика и обновляет локальные услуги.
// Возвращает количество обработанных и пропущенных из-за ошибок позиций.
func (s *Service) SyncServices(ctx context.Context) (synced, failed int, err error) {
	if s.provider == nil {
		return 0, 0, provider.ErrNotConfigured
	}

	services, err := s.provider.Services(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, ps := range services {
		svc := model.Service{
			Name:         ps.Name,
			Type:         ps.Type,
			PricePer1000: ps.Rate,
			APIServiceID: &ps.ServiceID,
			APIPrice:     &ps.Rate,
			MinQuantity:  ps.Min,
			MaxQuantity:  ps.Max,
		}

		if err := s.repo.UpsertProviderService(ctx, svc); err != nil {
			s.logger.Warn("upsert provider service failed",
				zap.String("api_service_id", ps.ServiceID),
				zap.String("name", ps.Name),
				zap.Error(err),
			)
			failed++
			continue
		}
		synced++
	}

	s.logger.Info("provider services synced",
		zap.Int("synced", synced),
		zap.Int("failed", failed),
	)

	return synced, failed, nil
}

// ProviderBalance возвращает остаток средств на аккаунте поставщика.
func (s *Service) ProviderBalance(ctx context.Context) (*provider.BalanceInfo, error) {
	if s.provider == nil {
		return nil, provider.ErrNotConfigured
	}

	return s.provider.Balance(ctx)
}
