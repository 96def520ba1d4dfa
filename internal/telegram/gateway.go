// Package telegram adapts telebot to the narrow messaging surface the rest
// of the bot consumes.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "rotabot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration // long-poll timeout; 0 means 10s
	SendTimeout time.Duration // per-send bound; 0 means 8s
	RatePerSec  int           // outbound send budget; 0 means 20
}

// Gateway wraps a telebot bot: outbound sends are rate-limited and bounded,
// and the single group chat target is held atomically.
type Gateway struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	limiter *rate.Limiter
	group   atomic.Int64

	runMu   sync.Mutex
	running bool
}

func New(cfg Config, log logx.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 8 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: poll},
	})
	if err != nil {
		return nil, err
	}
	return &Gateway{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// Bot exposes the underlying telebot instance for handler registration.
func (g *Gateway) Bot() *tele.Bot { return g.bot }

// SetGroup sets the group chat reminders are delivered to.
func (g *Gateway) SetGroup(chatID int64) { g.group.Store(chatID) }

func (g *Gateway) GroupChatID() int64 { return g.group.Load() }

func (g *Gateway) HasGroup() bool { return g.group.Load() != 0 }

// SendToGroup delivers text to the configured group chat.
func (g *Gateway) SendToGroup(ctx context.Context, text string) error {
	chatID := g.group.Load()
	if chatID == 0 {
		return errors.New("no group chat configured")
	}
	return g.send(ctx, &tele.Chat{ID: chatID}, text)
}

// SendDirect delivers text to a user's private chat.
func (g *Gateway) SendDirect(ctx context.Context, userID int64, text string) error {
	if userID == 0 {
		return errors.New("unknown user id")
	}
	return g.send(ctx, &tele.User{ID: userID}, text)
}

// maxMessageLen is Telegram's per-message text limit in UTF-8 bytes.
const maxMessageLen = 4096

func (g *Gateway) send(ctx context.Context, to tele.Recipient, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		sctx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
		if err := g.limiter.Wait(sctx); err != nil {
			cancel()
			return err
		}
		_, err := g.bot.Send(to, chunk)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// splitMessage breaks text into chunks no longer than limit bytes, preferring
// newline boundaries so a long queue listing stays readable.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			// Never split a UTF-8 sequence.
			for cut > 0 && text[cut]&0xC0 == 0x80 {
				cut--
			}
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// IsChatAdmin reports whether the user is a creator or administrator of the
// chat. Queried live on every call; admin status is never cached.
func (g *Gateway) IsChatAdmin(ctx context.Context, userID, chatID int64) (bool, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
	}
	member, err := g.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return member.Role == tele.Creator || member.Role == tele.Administrator, nil
}

// Start runs the long-poll loop until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	g.runMu.Lock()
	if g.running {
		g.runMu.Unlock()
		return
	}
	g.running = true
	g.runMu.Unlock()

	go func() {
		<-ctx.Done()
		g.bot.Stop()
	}()

	go func() {
		g.log.Info("polling started")
		g.bot.Start()
		g.log.Info("polling stopped")
	}()
}

func (g *Gateway) Stop() {
	g.runMu.Lock()
	wasRunning := g.running
	g.running = false
	g.runMu.Unlock()
	if !wasRunning {
		return
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go g.bot.Stop()
}
