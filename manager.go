package midas

import (
	"fmt"
	"os"
	"sync"

	"github.com/pohaoc/midas/ctrlplane"
)

// DefaultPoolName is created automatically by NewCacheManager, mirroring
// the always-present default namespace from spec §4.F.
const DefaultPoolName = "default"

var (
	globalMu      sync.RWMutex
	globalManager *CacheManager
)

// Global returns the process-wide CacheManager installed by SetGlobal, or
// nil if none has been set. Explicit *CacheManager injection remains the
// preferred way to use this package (spec §9); Global exists only so
// application code that reaches for the spec's singleton accessor has
// somewhere to land.
func Global() *CacheManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalManager
}

// SetGlobal installs m as the process-wide CacheManager returned by Global.
func SetGlobal(m *CacheManager) {
	globalMu.Lock()
	globalManager = m
	globalMu.Unlock()
}

// CacheManager owns every named CachePool sharing one coordinator
// connection (spec §4.F/§4.A).
type CacheManager struct {
	client *ctrlplane.Client

	mu     sync.RWMutex
	pools  map[string]*CachePool
	closed bool
}

// NewCacheManager connects to coord and creates the default pool.
func NewCacheManager(coord ctrlplane.Coordinator, opts PoolOptions) (*CacheManager, error) {
	client := ctrlplane.NewClient(coord, os.Getpid())
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("midas: connect: %w", err)
	}

	m := &CacheManager{client: client, pools: make(map[string]*CachePool)}
	if _, err := m.CreatePool(DefaultPoolName, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// CreatePool creates a new named pool. Creating a pool under a name that
// already exists is a usage error (spec §4.F: idempotent creation is not
// supported, callers must check GetPool first).
func (m *CacheManager) CreatePool(name string, opts PoolOptions) (*CachePool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrControlPlaneClosed
	}
	if _, exists := m.pools[name]; exists {
		return nil, fmt.Errorf("midas: create pool %q: %w", name, ErrPoolExists)
	}

	p := newCachePool(name, m.client, opts)
	m.pools[name] = p
	return p, nil
}

// GetPool returns the named pool, or ErrPoolNotFound.
func (m *CacheManager) GetPool(name string) (*CachePool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrControlPlaneClosed
	}
	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("midas: get pool %q: %w", name, ErrPoolNotFound)
	}
	return p, nil
}

// DefaultPool is a convenience wrapper over GetPool(DefaultPoolName).
func (m *CacheManager) DefaultPool() *CachePool {
	p, err := m.GetPool(DefaultPoolName)
	if err != nil {
		panic("midas: default pool missing: " + err.Error())
	}
	return p
}

// CreatePoolsFromConfig creates one pool per entry in sizes, where each
// value is that pool's byte limit (spec §4.F's config-driven pool layout).
// config.go's LoadConfig is the usual source of sizes: it reads a JSON file
// of size_mb values and converts them to bytes before returning.
func (m *CacheManager) CreatePoolsFromConfig(sizes map[string]int) error {
	for name, limit := range sizes {
		opts := PoolOptions{Limit: uint64(limit)}
		if _, err := m.CreatePool(name, opts); err != nil {
			return err
		}
	}
	return nil
}

// PoolNames returns a snapshot of every currently registered pool name.
func (m *CacheManager) PoolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// Shutdown stops every pool's evacuator and disconnects from the
// coordinator. Once Shutdown returns, CreatePool and GetPool report
// ErrControlPlaneClosed; Shutdown itself is idempotent.
func (m *CacheManager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pools := make([]*CachePool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		p.shutdown()
	}
	return m.client.Disconnect()
}
