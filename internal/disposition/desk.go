package disposition

import (
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Desk hands out one Machine per transaction id, so that every caller
// working on the same transaction shares its single-flight guard.
type Desk struct {
	mu       sync.Mutex
	machines map[string]*Machine
	disposer Disposer
	opts     []Option
}

// NewDesk creates a desk whose machines share disposer and opts.
func NewDesk(disposer Disposer, opts ...Option) *Desk {
	return &Desk{
		machines: make(map[string]*Machine),
		disposer: disposer,
		opts:     opts,
	}
}

// Machine returns the machine for tx.ID, creating it on first use.
// An existing machine gets tx as its new snapshot.
func (d *Desk) Machine(tx domain.Transaction) *Machine {
	d.mu.Lock()
	defer d.mu.Unlock()

	if m, ok := d.machines[tx.ID]; ok {
		m.Update(tx)
		return m
	}
	m := NewMachine(tx, d.disposer, d.opts...)
	d.machines[tx.ID] = m
	return m
}

// Lookup returns the machine for id, if one exists.
func (d *Desk) Lookup(id string) (*Machine, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.machines[id]
	return m, ok
}

// Close stops pending reloads on every machine.
func (d *Desk) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.machines {
		m.Stop()
	}
}
