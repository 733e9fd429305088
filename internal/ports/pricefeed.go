package ports

import (
	"context"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

// PriceFeed entrega ticks (symbol, price, timestamp) de una fuente externa.
// El engine no consulta precios por su cuenta: consume este stream.
type PriceFeed interface {
	// Subscribe devuelve el canal de ticks. El canal se cierra cuando el
	// contexto se cancela.
	Subscribe(ctx context.Context) (<-chan domain.PriceTick, error)
}
