package perfcore

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quantflow/perfcore/config"
	"github.com/quantflow/perfcore/models"
)

// ClientManager owns one pooled client per named outbound destination.
// Destinations are created lazily on first request and shared process-wide.
type ClientManager struct {
	mu           sync.RWMutex
	destinations map[string]*Destination
	logger       *zap.Logger
	closed       bool
}

// NewClientManager builds an empty manager. A nil logger defaults to no-op.
func NewClientManager(logger *zap.Logger) *ClientManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientManager{
		destinations: make(map[string]*Destination),
		logger:       logger,
	}
}

// Client returns the destination registered under name, creating it with cfg
// when absent. The configuration of an existing destination is not changed.
func (m *ClientManager) Client(name string, cfg config.DestinationConfig) (*Destination, error) {
	m.mu.RLock()
	d, ok := m.destinations[name]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if ok {
		return d, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid destination config for %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if d, ok := m.destinations[name]; ok {
		return d, nil
	}
	d = newDestination(name, cfg, m.logger)
	m.destinations[name] = d
	m.logger.Info("destination registered",
		zap.String("name", name),
		zap.String("baseURL", cfg.BaseURL),
		zap.Int64("maxConcurrent", cfg.MaxConcurrent))
	return d, nil
}

// GetStats aggregates destination stats across the manager.
func (m *ClientManager) GetStats() models.ClientStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.ClientStats{}
	for _, d := range m.destinations {
		ds := d.Stats()
		stats.Destinations = append(stats.Destinations, ds)
		stats.Total += ds.Total
		stats.Succeeded += ds.Succeeded
		stats.Failed += ds.Failed
		stats.Retried += ds.Retried
	}
	return stats
}

// Dispose releases network resources for every destination. Requests still
// queued fail with ErrManagerClosed.
func (m *ClientManager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for name, d := range m.destinations {
		d.dispose()
		m.logger.Debug("destination disposed", zap.String("name", name))
	}
}
