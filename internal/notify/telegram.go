package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"pillbox/internal/eventbus"
	"pillbox/internal/sched"
	logx "pillbox/pkg/logx"
)

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token       string
	ChatID      int64
	RatePerSec  int           // 0 = default
	PollTimeout time.Duration // 0 = default
}

// Telegram delivers dose reminders to a single chat and feeds "taken"
// acknowledgements back through the event bus.
type Telegram struct {
	cfg     TelegramConfig
	log     logx.Logger
	bus     eventbus.Bus
	bot     *tele.Bot
	limiter *rate.Limiter
	clock   sched.Clock

	runMu   sync.Mutex
	running bool
}

func NewTelegram(cfg TelegramConfig, bus eventbus.Bus, clock sched.Clock, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	if clock == nil {
		clock = sched.SystemClock{}
	}
	return &Telegram{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		clock:   clock,
	}, nil
}

// Start registers handlers and runs the long poller until ctx is done.
func (t *Telegram) Start(ctx context.Context) {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return
	}
	t.running = true
	t.runMu.Unlock()

	t.bot.Handle(&tele.Btn{Unique: "dose_taken"}, func(c tele.Context) error {
		id := strings.TrimSpace(c.Data())
		if id == "" {
			return c.Respond(&tele.CallbackResponse{Text: "Unknown reminder"})
		}
		t.bus.Publish(eventbus.Event{
			Type: EventDoseTaken,
			Data: DoseTaken{ReminderID: id, At: t.clock.Now()},
		})
		t.log.Debug("dose acknowledged", logx.String("reminder", id))
		return c.Respond(&tele.CallbackResponse{Text: "Marked as taken"})
	})

	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()
	go t.bot.Start()
	t.log.Info("telegram notifier started", logx.Int64("chat", t.cfg.ChatID))
}

// Deliver sends the reminder message with an inline "Taken" button.
func (t *Telegram) Deliver(ctx context.Context, a sched.Alarm) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	markup := &tele.ReplyMarkup{}
	btn := markup.Data("✅ Taken", "dose_taken", a.ReminderID)
	markup.Inline(markup.Row(btn))
	_, err := t.bot.Send(tele.ChatID(t.cfg.ChatID), Text(a), markup)
	return err
}
