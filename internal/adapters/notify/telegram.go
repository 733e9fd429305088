package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

// Telegram implementa ports.Notifier enviando los updates con acciones a un
// chat de Telegram. Los updates sin cambios no generan mensaje.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram crea el notificador con el token del bot y el chat destino.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Notify envía un mensaje por update con acciones.
func (t *Telegram) Notify(_ context.Context, o *domain.UpdateOutcome) error {
	if len(o.Actions) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s @ %s\n", icon(o.Status), o.Symbol, o.Price)
	fmt.Fprintf(&sb, "stage %d · pnl %s (%s%%)\n",
		int(o.Stage), o.UnrealizedPnL.StringFixed(2), o.UnrealizedPnLPct.StringFixed(1))
	for _, action := range o.Actions {
		fmt.Fprintf(&sb, "• %s\n", action)
	}

	msg := tgbotapi.NewMessage(t.chatID, sb.String())
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("notify.Telegram: send: %w", err)
	}
	return nil
}

func icon(s domain.PositionStatus) string {
	switch s {
	case domain.StatusClosed:
		return "✅"
	case domain.StatusLiquidated:
		return "💀"
	case domain.StatusPartialClosed:
		return "💰"
	default:
		return "📈"
	}
}
