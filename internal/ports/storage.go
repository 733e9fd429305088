package ports

import (
	"context"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

// VaultRepository persiste los vaults con sus balances.
type VaultRepository interface {
	// SaveVault inserta o actualiza el vault (upsert por ID).
	SaveVault(ctx context.Context, v *domain.Vault) error

	// GetVault devuelve el vault por ID, o domain.ErrVaultNotFound.
	GetVault(ctx context.Context, id string) (*domain.Vault, error)

	// ListVaults devuelve todos los vaults registrados.
	ListVaults(ctx context.Context) ([]*domain.Vault, error)
}

// PositionRepository persiste las posiciones y su audit trail de updates.
type PositionRepository interface {
	// SavePosition inserta o actualiza la posición (upsert por ID).
	SavePosition(ctx context.Context, p *domain.Position) error

	// GetPosition devuelve la posición por ID, o domain.ErrPositionNotFound.
	GetPosition(ctx context.Context, id string) (*domain.Position, error)

	// ListOpenPositions devuelve todas las posiciones no terminales.
	ListOpenPositions(ctx context.Context) ([]*domain.Position, error)

	// ListVaultPositions devuelve las posiciones del vault dado, abiertas o no.
	ListVaultPositions(ctx context.Context, vaultID string) ([]*domain.Position, error)

	// SaveOutcome añade un update procesado al audit trail de la posición.
	SaveOutcome(ctx context.Context, o *domain.UpdateOutcome) error
}

// Storage agrupa ambos repositorios con un cierre limpio de la conexión.
type Storage interface {
	VaultRepository
	PositionRepository

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
