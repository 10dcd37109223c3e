package client

import (
	"fmt"
	"sync"
)

type mapKey struct {
	name       string
	privileged bool
}

// Map resolves Cluster handles by (cluster name, privileged). Handles are
// connected lazily and memoized for the lifetime of the Map, which is one
// reconcile run.
type Map struct {
	mu           sync.Mutex
	fieldManager string
	connections  map[mapKey]Connection
	clusters     map[mapKey]Cluster
	connect      func(Connection, string) (Cluster, error)
}

func NewMap(fieldManager string) *Map {
	return &Map{
		fieldManager: fieldManager,
		connections:  map[mapKey]Connection{},
		clusters:     map[mapKey]Cluster{},
		connect:      Connect,
	}
}

// AddConnection registers connection details for a cluster. The privileged
// variant carries the admin token and is resolved separately.
func (m *Map) AddConnection(conn Connection, privileged bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[mapKey{conn.Name, privileged}] = conn
}

// Register installs a pre-built handle, bypassing connection setup.
func (m *Map) Register(name string, privileged bool, c Cluster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters[mapKey{name, privileged}] = c
}

// Get resolves the handle for (name, privileged). Resolution failure is an
// expected run-level condition: callers register a cluster error and skip
// rather than abort.
func (m *Map) Get(name string, privileged bool) (Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mapKey{name, privileged}
	if c, ok := m.clusters[key]; ok {
		return c, nil
	}
	conn, ok := m.connections[key]
	if !ok {
		return nil, fmt.Errorf("no connection configured for cluster %s (privileged=%t)", name, privileged)
	}
	c, err := m.connect(conn, m.fieldManager)
	if err != nil {
		return nil, fmt.Errorf("connecting to cluster %s: %w", name, err)
	}
	m.clusters[key] = c
	return c, nil
}
