// Package bot maps inbound chat commands onto engine operations, with the
// authorization gate in front of every mutating command.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	tele "gopkg.in/telebot.v4"

	"rotabot/internal/auth"
	"rotabot/internal/queue"
	"rotabot/internal/schedule"
	"rotabot/internal/storage"
	"rotabot/internal/telegram"
	logx "rotabot/pkg/logx"
)

const handlerTimeout = 30 * time.Second

type Bot struct {
	gw     *telegram.Gateway
	engine *queue.Engine
	gate   *auth.Gate
	sched  *schedule.Scheduler
	store  storage.Store
	log    logx.Logger
}

func New(gw *telegram.Gateway, engine *queue.Engine, gate *auth.Gate, sched *schedule.Scheduler, store storage.Store, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{gw: gw, engine: engine, gate: gate, sched: sched, store: store, log: log}
}

// Register installs all command handlers on the underlying telebot bot.
func (b *Bot) Register() {
	tb := b.gw.Bot()

	// Open to everyone.
	tb.Handle("/start", b.wrap("start", b.handleStart))
	tb.Handle("/help", b.wrap("help", b.handleHelp))
	tb.Handle("/queue", b.wrap("queue", b.handleQueue))
	tb.Handle("/skip", b.wrap("skip", b.handleSkip))

	// Admin-gated.
	tb.Handle("/setgroup", b.wrap("setgroup", b.admin(b.handleSetGroup)))
	tb.Handle("/adduser", b.wrap("adduser", b.admin(b.handleAddUser)))
	tb.Handle("/removeuser", b.wrap("removeuser", b.admin(b.handleRemoveUser)))
	tb.Handle("/initqueue", b.wrap("initqueue", b.admin(b.handleInitQueue)))
	tb.Handle("/clearqueue", b.wrap("clearqueue", b.admin(b.handleClearQueue)))
	tb.Handle("/setschedule", b.wrap("setschedule", b.admin(b.handleSetSchedule)))
	tb.Handle("/setautopop", b.wrap("setautopop", b.admin(b.handleSetAutoPop)))
	tb.Handle("/noreview", b.wrap("noreview", b.admin(b.handleNoReview)))
	tb.Handle("/nextreminder", b.wrap("nextreminder", b.admin(b.handleNextReminder)))
}

type handlerFunc func(ctx context.Context, c tele.Context) error

// wrap bounds every handler with a timeout, recovers panics and logs the
// request outcome.
func (b *Bot) wrap(name string, fn handlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic recovered",
					logx.String("cmd", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", r)
			}
			fields := []logx.Field{
				logx.String("cmd", name),
				logx.Int64("from_id", senderID(c)),
				logx.Int64("chat_id", chatID(c)),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				b.log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				b.log.Debug("command ok", fields...)
			}
		}()

		return fn(ctx, c)
	}
}

// admin rejects the command before it reaches the engine unless the sender
// passes the authorization gate.
func (b *Bot) admin(fn handlerFunc) handlerFunc {
	return func(ctx context.Context, c tele.Context) error {
		if !b.gate.Allowed(ctx, senderID(c), groupChatID(c)) {
			return c.Send("Only admins can use this command.")
		}
		return fn(ctx, c)
	}
}

func senderID(c tele.Context) int64 {
	if s := c.Sender(); s != nil {
		return s.ID
	}
	return 0
}

func chatID(c tele.Context) int64 {
	if ch := c.Chat(); ch != nil {
		return ch.ID
	}
	return 0
}

// groupChatID returns the chat id for group chats only: the live chat-admin
// check is meaningless in private chats.
func groupChatID(c tele.Context) int64 {
	ch := c.Chat()
	if ch == nil {
		return 0
	}
	if ch.Type != tele.ChatGroup && ch.Type != tele.ChatSuperGroup {
		return 0
	}
	return ch.ID
}
