package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process AppointmentRepository for development
// (STORE_DRIVER=memory) and tests. The (date, slot) index is checked and
// written under one lock, which gives it the same reservation semantics as the
// unique constraint of the SQL stores. InTx holds a single store-wide lock, so
// reschedules and status changes run one at a time; the SQL stores lock only
// the affected row.
type MemoryRepository struct {
	mu           sync.RWMutex
	txMu         sync.Mutex
	nextID       int64
	appointments map[int64]*Appointment // appointment ID -> record
	slotBookings map[SlotInfo]int64     // (date, slot) -> appointment ID
	now          func() time.Time
}

// NewMemoryRepository creates an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[int64]*Appointment),
		slotBookings: make(map[SlotInfo]int64),
		now:          time.Now,
	}
}

func (m *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.SlotInfo()
	if _, taken := m.slotBookings[key]; taken {
		return ErrSlotTaken
	}

	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = m.now().UTC()

	stored := *a
	m.appointments[a.ID] = &stored
	m.slotBookings[key] = a.ID
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id int64) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetForUpdate relies on InTx serialising callers.
func (m *MemoryRepository) GetForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *MemoryRepository) ListByDate(_ context.Context, date string) ([]SlotOccupancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []SlotOccupancy
	for key, id := range m.slotBookings {
		if key.Date != date {
			continue
		}
		out = append(out, SlotOccupancy{Slot: key.Time, Status: m.appointments[id].Status})
	}
	return out, nil
}

func (m *MemoryRepository) sortedDesc(keep func(*Appointment) bool) []*Appointment {
	items := []*Appointment{}
	for _, a := range m.appointments {
		if keep(a) {
			cp := *a
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items
}

func (m *MemoryRepository) ListByCustomer(_ context.Context, customerID string) ([]*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedDesc(func(a *Appointment) bool { return a.CustomerID == customerID }), nil
}

func (m *MemoryRepository) List(_ context.Context, limit, offset int) ([]*Appointment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sortedDesc(func(*Appointment) bool { return true })
	total := len(all)
	if offset >= total {
		return []*Appointment{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryRepository) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.appointments[a.ID]
	if !ok {
		return ErrNotFound
	}

	oldKey, newKey := prev.SlotInfo(), a.SlotInfo()
	if holder, taken := m.slotBookings[newKey]; taken && holder != a.ID {
		return ErrSlotTaken
	}

	stored := *a
	stored.CustomerID = prev.CustomerID
	stored.CreatedAt = prev.CreatedAt
	m.appointments[a.ID] = &stored
	if oldKey != newKey {
		delete(m.slotBookings, oldKey)
		m.slotBookings[newKey] = a.ID
	}
	return nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id int64, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.StatusUpdatedAt = at
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.slotBookings, a.SlotInfo())
	delete(m.appointments, id)
	return nil
}

type memoryTxKey struct{}

// InTx serialises transactional blocks store-wide; a nested call joins the
// enclosing block. Individual
// operations outside a block are still atomic on their own. Writes made by fn
// are not undone when it fails.
func (m *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(context.WithValue(ctx, memoryTxKey{}, true))
}
