package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

// Console implementa ports.Notifier escribiendo a stdout.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador de consola.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Notify imprime una línea por update con su audit trail.
func (c *Console) Notify(_ context.Context, o *domain.UpdateOutcome) error {
	now := o.ProcessedAt.Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] %s %s @ %s  pnl %s (%s%%)  stage %d  %s\n",
		now, shortID(o.PositionID), o.Symbol, o.Price,
		o.UnrealizedPnL.StringFixed(2), o.UnrealizedPnLPct.StringFixed(1),
		int(o.Stage), o.Status,
	)
	for _, action := range o.Actions {
		fmt.Fprintf(c.out, "         → %s\n", action)
	}
	return nil
}

// PrintVaultStatus imprime la tabla de balances y posiciones del vault.
func (c *Console) PrintVaultStatus(status *domain.VaultStatus) {
	fmt.Fprintf(c.out, "\n[%s] vault %q (%s)\n", time.Now().Format("15:04:05"),
		status.Name, shortID(status.VaultID))
	fmt.Fprintf(c.out, "  total: %s  available: %s  reserved: %s\n",
		status.TotalBalance.StringFixed(2),
		status.AvailableBalance.StringFixed(2),
		status.ReservedBalance.StringFixed(2),
	)

	if len(status.Positions) == 0 {
		fmt.Fprintln(c.out, "  no positions")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Symbol", "Stage", "Status", "Entry", "Size", "Margin", "Lev", "Max", "Trail", "Realized")

	for _, p := range status.Positions {
		table.Append(
			shortID(p.ID),
			p.Symbol,
			fmt.Sprintf("%d", int(p.Stage)),
			string(p.Status),
			p.EntryPrice.StringFixed(2),
			p.Size.StringFixed(2),
			p.MarginInvested.StringFixed(2),
			p.Leverage.String()+"x",
			p.MaxPriceReached.StringFixed(2),
			p.TrailingStop.StringFixed(2),
			p.RealizedPnL.StringFixed(2),
		)
	}

	table.Render()
}

// shortID recorta un UUID a su primer bloque para output legible.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
