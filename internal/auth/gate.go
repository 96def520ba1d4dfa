// Package auth decides whether an actor may run a mutating command.
package auth

import (
	"context"

	logx "rotabot/pkg/logx"
)

// ChatAdminChecker reports whether a user administers a chat.
// Implemented by the Telegram gateway; queried live on every check because
// chat admin status can change at any time.
type ChatAdminChecker interface {
	IsChatAdmin(ctx context.Context, userID, chatID int64) (bool, error)
}

// Gate combines the static admin allow-list with the live chat-admin check.
type Gate struct {
	admins  map[int64]struct{}
	checker ChatAdminChecker
	log     logx.Logger
}

func NewGate(adminIDs []int64, checker ChatAdminChecker, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	set := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		set[id] = struct{}{}
	}
	return &Gate{admins: set, checker: checker, log: log}
}

// Allowed is a pure predicate with no caching: allow-listed ids pass
// immediately, everyone else is checked against the chat's admin list.
func (g *Gate) Allowed(ctx context.Context, userID, chatID int64) bool {
	if _, ok := g.admins[userID]; ok {
		return true
	}
	if g.checker == nil || chatID == 0 {
		return false
	}
	ok, err := g.checker.IsChatAdmin(ctx, userID, chatID)
	if err != nil {
		g.log.Warn("chat admin check failed", logx.Int64("user_id", userID), logx.Int64("chat_id", chatID), logx.Err(err))
		return false
	}
	return ok
}
