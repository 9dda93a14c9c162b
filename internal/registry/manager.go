package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// Preferences tunes how profile checks are run
type Preferences struct {
	CheckTimeout     time.Duration `json:"checkTimeout"`
	ConcurrentChecks int           `json:"concurrentChecks"`
}

// Statistics aggregates the results of every check run by a Manager
type Statistics struct {
	TotalProfiles       int           `json:"totalProfiles"`
	ReadyProfiles       int           `json:"readyProfiles"`
	OfflineProfiles     int           `json:"offlineProfiles"`
	ErrorProfiles       int           `json:"errorProfiles"`
	TotalHealthChecks   int64         `json:"totalHealthChecks"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	LastUpdateTime      time.Time     `json:"lastUpdateTime"`
}

// Manager runs health checks across the profiles of a ConfigManager
type Manager struct {
	configManager interfaces.ConfigManager
	healthMonitor *HealthMonitor
	latest        map[string]ProfileHealth
	mutex         sync.RWMutex
	preferences   Preferences
	statistics    Statistics
	totalTime     time.Duration
	logger        *logging.Logger
}

// NewManager creates a registry over the configured profiles
func NewManager(configManager interfaces.ConfigManager, monitor *HealthMonitor) (*Manager, error) {
	if configManager == nil {
		return nil, fmt.Errorf("configManager cannot be nil")
	}
	if monitor == nil {
		monitor = NewHealthMonitor(nil, nil)
	}

	return &Manager{
		configManager: configManager,
		healthMonitor: monitor,
		latest:        make(map[string]ProfileHealth),
		preferences: Preferences{
			CheckTimeout:     5 * time.Second,
			ConcurrentChecks: 5,
		},
		logger: logging.GetRegistryLogger(),
	}, nil
}

// UpdatePreferences replaces the check preferences
func (m *Manager) UpdatePreferences(preferences Preferences) error {
	if preferences.CheckTimeout <= 0 {
		return fmt.Errorf("check timeout must be positive")
	}
	if preferences.ConcurrentChecks <= 0 {
		return fmt.Errorf("concurrent checks must be positive")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.preferences = preferences
	return nil
}

// CheckProfile loads and probes a single profile by name
func (m *Manager) CheckProfile(ctx context.Context, name string) (*ProfileHealth, error) {
	profile, err := m.configManager.LoadProfile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile '%s': %w", name, err)
	}

	m.mutex.RLock()
	timeout := m.preferences.CheckTimeout
	m.mutex.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	health := m.healthMonitor.CheckProfile(checkCtx, profile)
	m.record(health)
	return &health, nil
}

// CheckAll probes every profile concurrently and returns results in profile order.
// A profile that cannot be loaded is reported with status "error".
func (m *Manager) CheckAll(ctx context.Context) ([]ProfileHealth, error) {
	names, err := m.configManager.ListProfiles()
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	m.mutex.RLock()
	limit := m.preferences.ConcurrentChecks
	m.mutex.RUnlock()

	results := make([]ProfileHealth, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			health, err := m.CheckProfile(gctx, name)
			if err != nil {
				results[i] = ProfileHealth{
					Name:        name,
					Status:      StatusError,
					Error:       err.Error(),
					LastChecked: time.Now(),
				}
				return nil
			}
			results[i] = *health
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.logger.Info("Checked profiles", "count", len(results))
	return results, nil
}

// GetProfileHealth returns the latest recorded result for a profile
func (m *Manager) GetProfileHealth(name string) (*ProfileHealth, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	health, exists := m.latest[name]
	if !exists {
		return nil, fmt.Errorf("profile '%s' has not been checked", name)
	}
	return &health, nil
}

// GetStatistics returns a copy of the aggregate statistics
func (m *Manager) GetStatistics() Statistics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.statistics
}

// Monitor returns the underlying health monitor
func (m *Manager) Monitor() *HealthMonitor {
	return m.healthMonitor
}

func (m *Manager) record(health ProfileHealth) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.latest[health.Name] = health
	m.statistics.TotalHealthChecks++
	m.totalTime += health.ResponseTime
	m.statistics.AverageResponseTime = m.totalTime / time.Duration(m.statistics.TotalHealthChecks)
	m.statistics.LastUpdateTime = time.Now()
	m.recalculateStatusCounts()
}

func (m *Manager) recalculateStatusCounts() {
	m.statistics.TotalProfiles = len(m.latest)
	m.statistics.ReadyProfiles = 0
	m.statistics.OfflineProfiles = 0
	m.statistics.ErrorProfiles = 0

	for _, health := range m.latest {
		switch health.Status {
		case StatusReady:
			m.statistics.ReadyProfiles++
		case StatusOffline:
			m.statistics.OfflineProfiles++
		default:
			m.statistics.ErrorProfiles++
		}
	}
}
