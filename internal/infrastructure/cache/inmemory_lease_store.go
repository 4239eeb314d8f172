package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopsync/backend/internal/domain/integration"
)

// InMemoryLeaseStore implements integration.LeaseStore with a map.
// It is suitable for single-instance deployments and testing.
type InMemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[uuid.UUID]integration.Lease
	now    func() time.Time
}

// NewInMemoryLeaseStore creates a new in-memory lease store
func NewInMemoryLeaseStore() *InMemoryLeaseStore {
	return &InMemoryLeaseStore{
		leases: make(map[uuid.UUID]integration.Lease),
		now:    time.Now,
	}
}

// Acquire takes the tenant's lease unless an unexpired one is held
func (s *InMemoryLeaseStore) Acquire(_ context.Context, tenantID uuid.UUID, ttl time.Duration) (*integration.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if held, ok := s.leases[tenantID]; ok && now.Before(held.ExpiresAt) {
		return nil, integration.ErrTenantLockContention
	}
	lease := integration.Lease{TenantID: tenantID, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	s.leases[tenantID] = lease
	return &lease, nil
}

// Release frees the lease if it is still held with the same token
func (s *InMemoryLeaseStore) Release(_ context.Context, lease *integration.Lease) error {
	if lease == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.leases[lease.TenantID]; ok && held.Token == lease.Token {
		delete(s.leases, lease.TenantID)
	}
	return nil
}

// Held reports whether tenantID currently holds a lease (for testing/monitoring)
func (s *InMemoryLeaseStore) Held(tenantID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.leases[tenantID]
	return ok && s.now().Before(held.ExpiresAt)
}

var _ integration.LeaseStore = (*InMemoryLeaseStore)(nil)
