package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/universal-console/streamrpc/internal/interfaces"
)

type memoryConfig struct {
	mu       sync.Mutex
	profiles map[string]*interfaces.Profile
}

func (c *memoryConfig) LoadProfile(name string) (*interfaces.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	return p, nil
}

func (c *memoryConfig) SaveProfile(p *interfaces.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.Name] = p
	return nil
}

func (c *memoryConfig) ListProfiles() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *memoryConfig) LoadTheme(string) (*interfaces.Theme, error) { return nil, fmt.Errorf("none") }
func (c *memoryConfig) ValidateProfile(*interfaces.Profile) error   { return nil }
func (c *memoryConfig) GetConfigPath() string                       { return "" }

func statusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("probe used %s, want HEAD", r.Method)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsEndpoint(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newTestRegistry(t *testing.T, profiles ...*interfaces.Profile) *Manager {
	t.Helper()
	cfg := &memoryConfig{profiles: make(map[string]*interfaces.Profile)}
	for _, p := range profiles {
		cfg.profiles[p.Name] = p
	}
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCheckAll(t *testing.T) {
	up := statusServer(t, http.StatusOK)
	broken := statusServer(t, http.StatusServiceUnavailable)
	denied := statusServer(t, http.StatusUnauthorized)

	m := newTestRegistry(t,
		&interfaces.Profile{Name: "a-up", Endpoint: wsEndpoint(up)},
		&interfaces.Profile{Name: "b-broken", Endpoint: wsEndpoint(broken)},
		&interfaces.Profile{Name: "c-denied", Endpoint: wsEndpoint(denied)},
		&interfaces.Profile{Name: "d-bad", Endpoint: "ftp://nowhere"},
	)

	results, err := m.CheckAll(context.Background())
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	want := map[string]string{
		"a-up":     StatusReady,
		"b-broken": StatusOffline,
		"c-denied": StatusError,
		"d-bad":    StatusError,
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, r := range results {
		if i > 0 && results[i-1].Name > r.Name {
			t.Errorf("results out of order: %s before %s", results[i-1].Name, r.Name)
		}
		if r.Status != want[r.Name] {
			t.Errorf("%s: status = %s, want %s (%s)", r.Name, r.Status, want[r.Name], r.Error)
		}
	}
	if results[1].StatusCode != http.StatusServiceUnavailable || results[1].Hint == "" {
		t.Errorf("offline result = %+v", results[1])
	}

	stats := m.GetStatistics()
	if stats.TotalProfiles != 4 || stats.ReadyProfiles != 1 || stats.OfflineProfiles != 1 || stats.ErrorProfiles != 2 {
		t.Errorf("statistics = %+v", stats)
	}
}

func TestCheckProfileSendsAuth(t *testing.T) {
	headers := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case headers <- r.Header.Get("Authorization"):
		default:
		}
	}))
	t.Cleanup(srv.Close)

	m := newTestRegistry(t, &interfaces.Profile{
		Name:     "secure",
		Endpoint: wsEndpoint(srv),
		Auth:     interfaces.AuthConfig{Type: "bearer", Token: "a1b2c3d4e5f6"},
	})

	health, err := m.CheckProfile(context.Background(), "secure")
	if err != nil {
		t.Fatalf("CheckProfile: %v", err)
	}
	if health.Status != StatusReady {
		t.Errorf("status = %s (%s)", health.Status, health.Error)
	}
	if got := <-headers; got != "Bearer a1b2c3d4e5f6" {
		t.Errorf("Authorization = %q", got)
	}

	if _, err := m.CheckProfile(context.Background(), "missing"); err == nil {
		t.Error("CheckProfile(missing) succeeded")
	}
	if _, err := m.GetProfileHealth("secure"); err != nil {
		t.Errorf("GetProfileHealth: %v", err)
	}
}

func TestHealthHistory(t *testing.T) {
	up := statusServer(t, http.StatusNoContent)
	m := newTestRegistry(t, &interfaces.Profile{Name: "p", Endpoint: wsEndpoint(up)})
	m.healthMonitor.maxHistorySize = 2

	for i := 0; i < 3; i++ {
		if _, err := m.CheckProfile(context.Background(), "p"); err != nil {
			t.Fatalf("CheckProfile: %v", err)
		}
	}

	history, err := m.Monitor().GetHealthHistory("p", 0)
	if err != nil {
		t.Fatalf("GetHealthHistory: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
	if up := m.Monitor().Uptime("p"); up != 1 {
		t.Errorf("Uptime = %v, want 1", up)
	}

	m.Monitor().ClearHealthHistory("p")
	if _, err := m.Monitor().GetHealthHistory("p", 0); err == nil {
		t.Error("history survived ClearHealthHistory")
	}
}

func TestUpdatePreferences(t *testing.T) {
	m := newTestRegistry(t)
	if err := m.UpdatePreferences(Preferences{CheckTimeout: 0, ConcurrentChecks: 1}); err == nil {
		t.Error("accepted a zero timeout")
	}
	if err := m.UpdatePreferences(Preferences{CheckTimeout: 1, ConcurrentChecks: 0}); err == nil {
		t.Error("accepted zero concurrency")
	}
}
