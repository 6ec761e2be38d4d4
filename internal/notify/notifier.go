package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bot_engine/internal/models"
	"bot_engine/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Controller: команды управления ботами из чата.
type Controller interface {
	Bots() []models.BotInstance
	Pause(ctx context.Context, id string) (models.BotInstance, error)
	Resume(ctx context.Context, id string) (models.BotInstance, error)
	Stop(ctx context.Context, id string) (models.BotInstance, error)
	BotStatistics(id string) (models.BotStatistics, error)
}

const queueSize = 256

// Telegram: уведомления в чат и команды /bots /pause /resume /stop /stats.
// Отправка идёт из отдельной горутины, тик не ждёт Telegram.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	ctl    Controller
	queue  chan string
	done   chan struct{}
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:    b,
		chatID: chatID,
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
	}, nil
}

// SetController подключает команды. Без него бот только шлёт уведомления.
func (t *Telegram) SetController(ctl Controller) { t.ctl = ctl }

func (t *Telegram) Send(msg string) {
	if t == nil || t.chatID == 0 {
		return
	}
	select {
	case t.queue <- msg:
	default:
		logger.Warn("[TG] queue is full, message dropped: %s", msg)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Start: отправка очереди и long-polling команд.
func (t *Telegram) Start(ctx context.Context) {
	go t.sendLoop(ctx)

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case upd := <-updates:
				msg := upd.Message
				if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
					continue
				}
				reply := t.handleCommand(ctx, msg.Command(), msg.CommandArguments())
				if reply != "" {
					t.Send(reply)
				}
			}
		}
	}()
}

func (t *Telegram) Stop() {
	t.bot.StopReceivingUpdates()
	close(t.done)
}

func (t *Telegram) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case msg := <-t.queue:
			if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
				logger.Warn("[TG] send: %v", err)
			}
		}
	}
}

func (t *Telegram) handleCommand(ctx context.Context, cmd, args string) string {
	if t.ctl == nil {
		return ""
	}
	id := strings.TrimSpace(args)

	switch cmd {
	case "bots":
		return FormatBots(t.ctl.Bots())
	case "pause", "resume", "stop":
		if id == "" {
			return fmt.Sprintf("Использование: /%s <bot id>", cmd)
		}
		var (
			bot models.BotInstance
			err error
		)
		switch cmd {
		case "pause":
			bot, err = t.ctl.Pause(ctx, id)
		case "resume":
			bot, err = t.ctl.Resume(ctx, id)
		default:
			bot, err = t.ctl.Stop(ctx, id)
		}
		if err != nil {
			return fmt.Sprintf("❗️ %s %s: %v", cmd, id, err)
		}
		return fmt.Sprintf("Бот %s: %s", bot.Name, bot.Status)
	case "stats":
		if id == "" {
			return "Использование: /stats <bot id>"
		}
		st, err := t.ctl.BotStatistics(id)
		if err != nil {
			return fmt.Sprintf("❗️ stats %s: %v", id, err)
		}
		return FormatStatistics(st)
	}
	return ""
}

// FormatBots: список ботов для чата.
func FormatBots(bots []models.BotInstance) string {
	if len(bots) == 0 {
		return "📭 Ботов нет"
	}
	var b strings.Builder
	b.WriteString("🤖 Боты:\n")
	for _, bot := range bots {
		fmt.Fprintf(&b, "- %s [%s] %s %s trades=%d pnl=%.4f open=%d\n",
			bot.Name, bot.ID, bot.Status, bot.Mode,
			bot.Performance.TotalTrades, bot.Performance.TotalPnl, len(bot.Positions))
	}
	return b.String()
}

func FormatStatistics(st models.BotStatistics) string {
	return fmt.Sprintf("📊 trades=%d win=%d loss=%d winRate=%.1f%%\npnl=%.4f avg=%.4f (%.2f%%) best=%.4f worst=%.4f hold=%s\nopen=%d unrealized=%.4f",
		st.TotalTrades, st.WinningTrades, st.LosingTrades, st.WinRate,
		st.TotalPnl, st.AvgPnl, st.AvgPnlPercent, st.BestTrade, st.WorstTrade, st.AvgHoldTime.Round(time.Second),
		st.OpenPositions, st.UnrealizedPnl)
}

// Stdout: уведомления в лог, когда Telegram не настроен.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("[NOTIFY] %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }
