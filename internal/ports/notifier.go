package ports

import (
	"context"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

// Notifier publica los outcomes de cada update procesado.
type Notifier interface {
	// Notify recibe el outcome de un update. Los errores se loguean en el
	// engine pero nunca interrumpen el procesamiento.
	Notify(ctx context.Context, outcome *domain.UpdateOutcome) error
}
