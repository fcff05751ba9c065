package pricing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// DefaultMarkupPercent применяется, когда ни одно правило наценки не подошло.
const DefaultMarkupPercent = 20

// IsValidMarkup проверяет, что наценка лежит в допустимых границах [0, 100].
func IsValidMarkup(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}

// Resolver определяет применимую наценку для услуги по правилам.
// Правила вне диапазона [0, 100] пропускаются с предупреждением в лог,
// молчаливого ограничения значений нет.
type Resolver struct {
	logger   *zap.Logger
	fallback decimal.Decimal
}

// NewResolver создаёт резолвер наценок с фолбэком по умолчанию.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{
		logger:   logger,
		fallback: decimal.NewFromInt(DefaultMarkupPercent),
	}
}

// Resolve возвращает наценку для услуги. Приоритет: наценка самой услуги,
// затем активное правило её категории, затем активное глобальное правило,
// затем фолбэк по умолчанию.
func (r *Resolver) Resolve(svc model.Service, rules []model.MarkupSetting) decimal.Decimal {
	if svc.MarkupPercentage != nil {
		if IsValidMarkup(*svc.MarkupPercentage) {
			return *svc.MarkupPercentage
		}
		r.logger.Warn("service markup out of range, ignored",
			zap.String("service", svc.Name),
			zap.String("markup", svc.MarkupPercentage.String()),
		)
	}

	if svc.CategoryID != nil {
		for _, rule := range rules {
			if !rule.IsActive || rule.CategoryID == nil || *rule.CategoryID != *svc.CategoryID {
				continue
			}
			if !IsValidMarkup(rule.MarkupPercentage) {
				r.logger.Warn("category markup rule out of range, ignored",
					zap.String("rule", rule.ID.String()),
					zap.String("markup", rule.MarkupPercentage.String()),
				)
				continue
			}
			return rule.MarkupPercentage
		}
	}

	for _, rule := range rules {
		if !rule.IsActive || rule.CategoryID != nil {
			continue
		}
		if !IsValidMarkup(rule.MarkupPercentage) {
			r.logger.Warn("global markup rule out of range, ignored",
				zap.String("rule", rule.ID.String()),
				zap.String("markup", rule.MarkupPercentage.String()),
			)
			continue
		}
		return rule.MarkupPercentage
	}

	r.logger.Warn("no markup rule matched, using default",
		zap.String("service", svc.Name),
		zap.Int("default", DefaultMarkupPercent),
	)

	return r.fallback
}

// ServiceFinalPrice возвращает клиентскую цену услуги за 1000 единиц с учётом
// применимой наценки. Оптовой ценой считается APIPrice, при её отсутствии —
// текущая клиентская цена услуги.
func (r *Resolver) ServiceFinalPrice(svc model.Service, rules []model.MarkupSetting) (decimal.Decimal, error) {
	wholesale := svc.PricePer1000
	if svc.APIPrice != nil {
		wholesale = *svc.APIPrice
	}

	return FinalPrice(wholesale, r.Resolve(svc, rules))
}
