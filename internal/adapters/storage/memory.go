package storage

import (
	"context"
	"sync"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

// Memory implementa ports.Storage en memoria. Útil para tests y para el modo
// efímero (sin DSN configurado): mismos contratos que SQLite, cero I/O.
type Memory struct {
	mu        sync.RWMutex
	vaults    map[string]*domain.Vault
	positions map[string]*domain.Position
	outcomes  map[string][]*domain.UpdateOutcome // positionID → audit trail
}

// NewMemory crea un storage vacío.
func NewMemory() *Memory {
	return &Memory{
		vaults:    make(map[string]*domain.Vault),
		positions: make(map[string]*domain.Position),
		outcomes:  make(map[string][]*domain.UpdateOutcome),
	}
}

func (m *Memory) SaveVault(_ context.Context, v *domain.Vault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vaults[v.ID] = v
	return nil
}

func (m *Memory) GetVault(_ context.Context, id string) (*domain.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vaults[id]
	if !ok {
		return nil, domain.ErrVaultNotFound
	}
	return v, nil
}

func (m *Memory) ListVaults(_ context.Context) ([]*domain.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Vault, 0, len(m.vaults))
	for _, v := range m.vaults {
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) SavePosition(_ context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

func (m *Memory) GetPosition(_ context.Context, id string) (*domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	return p, nil
}

func (m *Memory) ListOpenPositions(_ context.Context) ([]*domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Position
	for _, p := range m.positions {
		if !p.Status.Terminal() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ListVaultPositions(_ context.Context, vaultID string) ([]*domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Position
	for _, p := range m.positions {
		if p.VaultID == vaultID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) SaveOutcome(_ context.Context, o *domain.UpdateOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o.PositionID] = append(m.outcomes[o.PositionID], o)
	return nil
}

// Outcomes devuelve el audit trail de una posición (para tests y status).
func (m *Memory) Outcomes(positionID string) []*domain.UpdateOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.UpdateOutcome(nil), m.outcomes[positionID]...)
}

func (m *Memory) Close() error { return nil }
