package ports

import (
	"context"

	"github.com/alejandrodnm/vaultd/internal/domain"
	"github.com/shopspring/decimal"
)

// ClusterOracle entrega los niveles de clusters de liquidación para un símbolo.
// Los datos pueden llegar vacíos o desactualizados — best effort; el engine
// conserva el último set conocido si el oracle falla.
type ClusterOracle interface {
	// GetLevels devuelve los niveles crudos para el símbolo. refPrice se usa
	// para partir el set en above/below.
	GetLevels(ctx context.Context, symbol string, refPrice decimal.Decimal) (*domain.ClusterSet, error)
}
