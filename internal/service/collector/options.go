package collector

import (
	"errors"
)

type Option func(*Service) error

// WithMetrics метрики приема отчетов
func WithMetrics(m *Metrics) Option {
	return func(s *Service) error {
		if m == nil {
			return errors.New("nil metrics")
		}
		s.metrics = m
		return nil
	}
}
