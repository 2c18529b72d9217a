package gateway

import (
	"github.com/logiflow/delivery-gateway/internal/cache"
	"github.com/logiflow/delivery-gateway/internal/config"
)

// CacheMetrics reports the statistics of every cache family.
type CacheMetrics struct {
	Fleet  cache.Metrics `json:"flotaCache"`
	KPIs   cache.Metrics `json:"kpiCache"`
	Orders cache.Metrics `json:"pedidoCache"`
}

func (s *Service) CacheMetrics() CacheMetrics {
	snapshot := s.registry.Snapshot()

	return CacheMetrics{
		Fleet:  snapshot[config.CacheFleet],
		KPIs:   snapshot[config.CacheKPIs],
		Orders: snapshot[config.CacheOrders],
	}
}
