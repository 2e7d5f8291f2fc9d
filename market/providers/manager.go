// Package providers 多数据源管理，按顺序自动切换
package providers

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"tayframe/logger"
	"tayframe/market"
)

// Provider 数据提供者接口
type Provider interface {
	Name() string
	FetchTick(ctx context.Context, symbol string) (*market.Tick, error)
	FetchHistory(ctx context.Context, symbol string, days int) (market.Series, error)
}

var (
	ErrProviderNotFound   = errors.New("data provider not found")
	ErrAllProvidersFailed = errors.New("all data providers failed")
	ErrNoProviders        = errors.New("no data providers configured")
)

// Manager 数据源管理器。先尝试主数据源，再尝试健康的备用数据源，最后是不健康的。
// 调用失败标记为不健康，成功后恢复。
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
	primary   Provider

	healthMu sync.RWMutex
	health   map[string]bool

	log logger.Interface
}

// NewManager 创建数据源管理器，第一个为主数据源
func NewManager(log logger.Interface, providers ...Provider) *Manager {
	m := &Manager{health: make(map[string]bool), log: log}
	for _, p := range providers {
		m.AddProvider(p)
	}
	return m
}

// AddProvider 添加数据提供者
func (m *Manager) AddProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers = append(m.providers, p)
	if m.primary == nil {
		m.primary = p
	}

	m.healthMu.Lock()
	m.health[p.Name()] = true
	m.healthMu.Unlock()
}

// SetPrimary 设置主要数据提供者
func (m *Manager) SetPrimary(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.providers {
		if p.Name() == name {
			m.primary = p
			return nil
		}
	}
	return errors.Wrapf(ErrProviderNotFound, "%q", name)
}

// Primary 获取当前主数据源
func (m *Manager) Primary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.primary == nil {
		return ""
	}
	return m.primary.Name()
}

// Status 获取所有数据源状态
func (m *Manager) Status() map[string]bool {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()

	status := make(map[string]bool, len(m.health))
	for name, healthy := range m.health {
		status[name] = healthy
	}
	return status
}

func (m *Manager) setHealth(name string, healthy bool) {
	m.healthMu.Lock()
	m.health[name] = healthy
	m.healthMu.Unlock()
}

// order 返回尝试顺序：主数据源、健康数据源、不健康数据源
func (m *Manager) order() []Provider {
	m.mu.RLock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	primary := m.primary
	m.mu.RUnlock()

	status := m.Status()
	ordered := make([]Provider, 0, len(providers))
	if primary != nil {
		ordered = append(ordered, primary)
	}
	var unhealthy []Provider
	for _, p := range providers {
		if p == primary {
			continue
		}
		if status[p.Name()] {
			ordered = append(ordered, p)
		} else {
			unhealthy = append(unhealthy, p)
		}
	}
	return append(ordered, unhealthy...)
}

func try[T any](ctx context.Context, m *Manager, symbol string, call func(Provider) (T, error)) (T, error) {
	var zero T
	providers := m.order()
	if len(providers) == 0 {
		return zero, ErrNoProviders
	}

	var lastErr error
	for i, p := range providers {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := call(p)
		if err == nil {
			m.setHealth(p.Name(), true)
			if i > 0 {
				m.log.InfoContext(ctx, "using fallback provider",
					logger.NewField("provider", p.Name()),
					logger.NewField("symbol", symbol))
			}
			return result, nil
		}
		m.setHealth(p.Name(), false)
		m.log.WarnContext(ctx, "provider failed",
			logger.NewField("provider", p.Name()),
			logger.NewField("symbol", symbol),
			logger.NewField("error", err.Error()))
		lastErr = err
	}
	return zero, errors.Wrapf(ErrAllProvidersFailed, "%s: last error: %v", symbol, lastErr)
}

// FetchTick 获取实时行情（自动切换数据源）
func (m *Manager) FetchTick(ctx context.Context, symbol string) (*market.Tick, error) {
	return try(ctx, m, symbol, func(p Provider) (*market.Tick, error) {
		return p.FetchTick(ctx, symbol)
	})
}

// FetchHistory 获取K线数据（自动切换数据源），空结果视为失败
func (m *Manager) FetchHistory(ctx context.Context, symbol string, days int) (market.Series, error) {
	return try(ctx, m, symbol, func(p Provider) (market.Series, error) {
		s, err := p.FetchHistory(ctx, symbol, days)
		if err == nil && len(s) == 0 {
			err = errors.New("empty history")
		}
		return s, err
	})
}
