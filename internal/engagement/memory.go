package engagement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs the
// unit tests and dev mode; production runs the Postgres store.
type InMemory struct {
	mu          sync.RWMutex
	engagements map[string]*Engagement
	refs        map[string]string // referenceNo -> engagement id
	slots       map[string]*AvailabilitySlot
	seq         uint64            // insertion order tie-break for listings
	order       map[string]uint64 // engagement id -> seq
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		engagements: make(map[string]*Engagement),
		refs:        make(map[string]string),
		slots:       make(map[string]*AvailabilitySlot),
		order:       make(map[string]uint64),
	}
}

func (s *InMemory) CreateEngagement(ctx context.Context, e *Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.refs[e.ReferenceNo]; ok && owner != e.ID {
		return fmt.Errorf("%w: reference number %q already exists", ErrValidation, e.ReferenceNo)
	}
	cp := *e
	s.engagements[cp.ID] = &cp
	s.refs[cp.ReferenceNo] = cp.ID
	s.seq++
	s.order[cp.ID] = s.seq
	return nil
}

func (s *InMemory) GetEngagement(ctx context.Context, id string) (Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engagements[id]
	if !ok || e.DeletedAt != nil {
		return Engagement{}, ErrNotFound
	}
	return *e, nil
}

func (s *InMemory) ListEngagements(ctx context.Context, f ListFilter) ([]Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Engagement
	for _, e := range s.engagements {
		if e.DeletedAt != nil {
			continue
		}
		if f.CommissionerID != "" && e.CommissionerID != f.CommissionerID {
			continue
		}
		if f.CreatedBy != "" && e.CreatedBy != f.CreatedBy {
			continue
		}
		res = append(res, *e)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return s.order[res[i].ID] > s.order[res[j].ID]
	})
	return res, nil
}

func (s *InMemory) UpdateEngagement(ctx context.Context, e Engagement, expectedVersion int64) (Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.engagements[e.ID]
	if !ok || cur.DeletedAt != nil {
		return Engagement{}, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return Engagement{}, ErrVersionConflict
	}
	if cur.ReferenceNo != e.ReferenceNo {
		if owner, taken := s.refs[e.ReferenceNo]; taken && owner != e.ID {
			return Engagement{}, fmt.Errorf("%w: reference number %q already exists", ErrValidation, e.ReferenceNo)
		}
		delete(s.refs, cur.ReferenceNo)
		s.refs[e.ReferenceNo] = e.ID
	}
	cp := e
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	s.engagements[e.ID] = &cp
	return cp, nil
}

func (s *InMemory) SoftDeleteEngagement(ctx context.Context, id string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.engagements[id]
	if !ok || cur.DeletedAt != nil {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	now := time.Now().UTC()
	cur.DeletedAt = &now
	cur.Version = expectedVersion + 1
	cur.UpdatedAt = now
	return nil
}

func (s *InMemory) CreateSlot(ctx context.Context, slot *AvailabilitySlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *slot
	s.slots[cp.ID] = &cp
	return nil
}

func (s *InMemory) GetSlot(ctx context.Context, id string) (AvailabilitySlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[id]
	if !ok {
		return AvailabilitySlot{}, ErrNotFound
	}
	return *slot, nil
}

func (s *InMemory) ListSlots(ctx context.Context, commissionerID string) ([]AvailabilitySlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []AvailabilitySlot
	for _, slot := range s.slots {
		if commissionerID != "" && slot.CommissionerID != commissionerID {
			continue
		}
		res = append(res, *slot)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime.Before(res[j].StartTime) })
	return res, nil
}

func (s *InMemory) UpdateSlot(ctx context.Context, slot AvailabilitySlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[slot.ID]; !ok {
		return ErrNotFound
	}
	cp := slot
	s.slots[slot.ID] = &cp
	return nil
}

func (s *InMemory) DeleteSlot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; !ok {
		return ErrNotFound
	}
	delete(s.slots, id)
	return nil
}

func (s *InMemory) FindOverlap(ctx context.Context, commissionerID string, start, end time.Time, excludeID string) (AvailabilitySlot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range s.slots {
		if slot.CommissionerID != commissionerID || slot.ID == excludeID {
			continue
		}
		// Strict inequalities: touching endpoints do not conflict.
		if start.Before(slot.EndTime) && end.After(slot.StartTime) {
			return *slot, true, nil
		}
	}
	return AvailabilitySlot{}, false, nil
}

func (s *InMemory) IsAvailable(ctx context.Context, commissionerID string, at time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range s.slots {
		if slot.CommissionerID != commissionerID {
			continue
		}
		// Closed interval: the exact boundaries count as available.
		if !at.Before(slot.StartTime) && !at.After(slot.EndTime) {
			return true, nil
		}
	}
	return false, nil
}
