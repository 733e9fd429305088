package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/vaultd/internal/domain"
	"github.com/alejandrodnm/vaultd/internal/ports"
)

// Multi reparte cada outcome a varios notifiers. Los errores se acumulan;
// un notifier caído no bloquea a los demás.
type Multi struct {
	targets []ports.Notifier
}

// NewMulti crea el fan-out. Los targets nil se ignoran.
func NewMulti(targets ...ports.Notifier) *Multi {
	m := &Multi{}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

// Notify entrega el outcome a todos los targets.
func (m *Multi) Notify(ctx context.Context, o *domain.UpdateOutcome) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Notify(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
