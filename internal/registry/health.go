// Package registry checks the availability of every configured profile using the
// same HEAD probe the protocol client runs before opening a socket.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
	"github.com/universal-console/streamrpc/internal/protocol"
)

// Health status values
const (
	StatusReady   = "ready"
	StatusOffline = "offline"
	StatusError   = "error"
)

// ProfileHealth is the outcome of probing one profile
type ProfileHealth struct {
	Name         string        `json:"name"`
	Endpoint     string        `json:"endpoint"`
	ProbeURL     string        `json:"probeUrl,omitempty"`
	Status       string        `json:"status"`
	StatusCode   int           `json:"statusCode,omitempty"`
	ResponseTime time.Duration `json:"responseTime"`
	LastChecked  time.Time     `json:"lastChecked"`
	Error        string        `json:"error,omitempty"`
	Hint         string        `json:"hint,omitempty"`
}

// HealthSnapshot captures a point-in-time health assessment
type HealthSnapshot struct {
	Timestamp    time.Time     `json:"timestamp"`
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
}

// HealthMonitor probes profiles and keeps a bounded history per profile
type HealthMonitor struct {
	prober         protocol.Prober
	authManager    interfaces.AuthManager
	healthHistory  map[string][]HealthSnapshot
	mutex          sync.RWMutex
	maxHistorySize int
	logger         *logging.Logger
}

// NewHealthMonitor creates a monitor; a nil prober uses protocol.NewHTTPProber
func NewHealthMonitor(prober protocol.Prober, am interfaces.AuthManager) *HealthMonitor {
	if prober == nil {
		prober = protocol.NewHTTPProber(protocol.DefaultProbeTimeout)
	}
	return &HealthMonitor{
		prober:         prober,
		authManager:    am,
		healthHistory:  make(map[string][]HealthSnapshot),
		maxHistorySize: 100,
		logger:         logging.GetRegistryLogger(),
	}
}

// CheckProfile probes a single profile. Failures are reported in the result,
// never as an error.
func (hm *HealthMonitor) CheckProfile(ctx context.Context, profile *interfaces.Profile) ProfileHealth {
	start := time.Now()
	health := ProfileHealth{
		Name:     profile.Name,
		Endpoint: profile.Endpoint,
	}

	target, err := protocol.ProbeTarget(profile)
	if err != nil {
		return hm.finish(health, StatusError, err, start)
	}
	health.ProbeURL = target

	header, err := protocol.BuildHeader(&profile.Auth, hm.authManager)
	if err != nil {
		return hm.finish(health, StatusError, err, start)
	}

	if err := hm.prober.Probe(ctx, target, header); err != nil {
		status := StatusOffline
		var perr *protocol.ProtocolError
		if errors.As(err, &perr) {
			health.StatusCode = perr.StatusCode
			health.Hint = perr.Hint
			if perr.StatusCode > 0 && perr.StatusCode < 500 {
				status = StatusError
			}
		}
		return hm.finish(health, status, err, start)
	}
	return hm.finish(health, StatusReady, nil, start)
}

func (hm *HealthMonitor) finish(health ProfileHealth, status string, err error, start time.Time) ProfileHealth {
	health.Status = status
	health.ResponseTime = time.Since(start)
	health.LastChecked = time.Now()
	if err != nil {
		health.Error = err.Error()
		hm.logger.Debug("Profile check failed", "profile", health.Name, "status", status, "error", health.Error)
	}

	hm.recordHealthSnapshot(health.Name, HealthSnapshot{
		Timestamp:    health.LastChecked,
		Status:       status,
		ResponseTime: health.ResponseTime,
		Error:        health.Error,
	})
	return health
}

// GetHealthHistory returns up to limit of the most recent snapshots, oldest first
func (hm *HealthMonitor) GetHealthHistory(name string, limit int) ([]HealthSnapshot, error) {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	history, exists := hm.healthHistory[name]
	if !exists {
		return nil, fmt.Errorf("no health history for profile '%s'", name)
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]HealthSnapshot, len(history))
	copy(out, history)
	return out, nil
}

// Uptime is the share of recorded checks that found the profile ready
func (hm *HealthMonitor) Uptime(name string) float64 {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	history := hm.healthHistory[name]
	if len(history) == 0 {
		return 0
	}
	ready := 0
	for _, s := range history {
		if s.Status == StatusReady {
			ready++
		}
	}
	return float64(ready) / float64(len(history))
}

// ClearHealthHistory drops the history of one profile
func (hm *HealthMonitor) ClearHealthHistory(name string) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	delete(hm.healthHistory, name)
}

func (hm *HealthMonitor) recordHealthSnapshot(name string, snapshot HealthSnapshot) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	hm.healthHistory[name] = append(hm.healthHistory[name], snapshot)
	if len(hm.healthHistory[name]) > hm.maxHistorySize {
		hm.healthHistory[name] = hm.healthHistory[name][1:]
	}
}
