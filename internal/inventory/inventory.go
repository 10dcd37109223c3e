package inventory

import (
	"fmt"
	"sync"

	"github.com/stategraph-sh/reconciler/internal/resource"
)

// Key identifies one inventory cell.
type Key struct {
	Cluster   string
	Namespace string
	Kind      string
}

// Cell holds the two-sided state for one (cluster, namespace, kind)
// combination. The current side is populated by the fetch phase, the
// desired side by configuration; both are read-only during realize.
type Cell struct {
	Current       map[string]*resource.Managed
	Desired       map[string]*resource.Managed
	UseAdminToken map[string]bool
	Overwrite     bool
}

func newCell() *Cell {
	return &Cell{
		Current:       map[string]*resource.Managed{},
		Desired:       map[string]*resource.Managed{},
		UseAdminToken: map[string]bool{},
	}
}

// Entry is one iteration unit handed to a realize worker.
type Entry struct {
	Cluster   string
	Namespace string
	Kind      string
	Cell      *Cell
}

// DuplicateKeyError reports two configuration sources declaring the same
// resource name in the same cell. It indicates a data problem, not an
// infrastructure one, and is surfaced distinctly from provider errors.
type DuplicateKeyError struct {
	Cluster   string
	Namespace string
	Kind      string
	Name      string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("desired item %s already exists in %s/%s/%s",
		e.Name, e.Cluster, e.Namespace, e.Kind)
}

// Inventory maps (cluster, namespace, kind) to cells and tracks per-cluster
// error flags. All registry and flag mutations happen under one coarse
// mutex; contention is low and this is not a hot path.
type Inventory struct {
	mu            sync.Mutex
	cells         map[Key]*Cell
	clusterErrors map[string]int
	errorCount    int
}

func New() *Inventory {
	return &Inventory{
		cells:         map[Key]*Cell{},
		clusterErrors: map[string]int{},
	}
}

// Initialize creates the cell for the given combination if it does not
// exist yet. Idempotent.
func (i *Inventory) Initialize(cluster, namespace, kind string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := Key{cluster, namespace, kind}
	if _, ok := i.cells[key]; !ok {
		i.cells[key] = newCell()
	}
}

// AddCurrent inserts a live resource into the cell's current side.
func (i *Inventory) AddCurrent(cluster, namespace, kind, name string, r *resource.Managed) {
	i.mu.Lock()
	defer i.mu.Unlock()
	cell := i.cell(Key{cluster, namespace, kind})
	cell.Current[name] = r
}

// AddDesired inserts a declared resource into the cell's desired side. A
// name already present yields a DuplicateKeyError unless allowDuplicate is
// set; the flag exists for callers that intentionally re-declare (e.g. a
// shared resource aggregated into multiple namespaces).
func (i *Inventory) AddDesired(cluster, namespace, kind, name string, r *resource.Managed, privileged, allowDuplicate bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	cell := i.cell(Key{cluster, namespace, kind})
	if _, exists := cell.Desired[name]; exists && !allowDuplicate {
		return &DuplicateKeyError{
			Cluster:   cluster,
			Namespace: namespace,
			Kind:      kind,
			Name:      name,
		}
	}
	cell.Desired[name] = r
	cell.UseAdminToken[name] = privileged
	return nil
}

// RegisterError records a failure. A non-empty cluster scopes the flag to
// that cluster; any registration also raises the global flag that gates
// the deletion phase for the whole run.
func (i *Inventory) RegisterError(cluster string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.errorCount++
	if cluster != "" {
		i.clusterErrors[cluster]++
	}
}

// HasErrors reports whether any error was registered during this run.
func (i *Inventory) HasErrors() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.errorCount > 0
}

// HasClusterErrors reports whether an error was registered for the given
// cluster. Once true, no apply or delete actions may target that cluster
// this run.
func (i *Inventory) HasClusterErrors(cluster string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.clusterErrors[cluster] > 0
}

// Snapshot returns the current set of entries. Iteration order is not
// significant; each entry is processed independently by a realize worker.
func (i *Inventory) Snapshot() []Entry {
	i.mu.Lock()
	defer i.mu.Unlock()
	entries := make([]Entry, 0, len(i.cells))
	for key, cell := range i.cells {
		entries = append(entries, Entry{
			Cluster:   key.Cluster,
			Namespace: key.Namespace,
			Kind:      key.Kind,
			Cell:      cell,
		})
	}
	return entries
}

// CellFor returns the cell for a key, or nil if the combination was never
// initialized.
func (i *Inventory) CellFor(cluster, namespace, kind string) *Cell {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cells[Key{cluster, namespace, kind}]
}

// cell must be called with the mutex held. Registering a cell on first use
// tolerates concurrent fetch workers racing to the same combination.
func (i *Inventory) cell(key Key) *Cell {
	c, ok := i.cells[key]
	if !ok {
		c = newCell()
		i.cells[key] = c
	}
	return c
}
