package auth

import (
	"context"
	"errors"
	"testing"

	logx "rotabot/pkg/logx"
)

type fakeChecker struct {
	admins map[int64]bool
	err    error
	calls  int
}

func (f *fakeChecker) IsChatAdmin(ctx context.Context, userID, chatID int64) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

func TestGateAllowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("allow-list passes without a live check", func(t *testing.T) {
		chk := &fakeChecker{}
		g := NewGate([]int64{42}, chk, logx.Nop())
		if !g.Allowed(ctx, 42, 1000) {
			t.Fatal("allow-listed user should pass")
		}
		if chk.calls != 0 {
			t.Fatalf("live check ran %d times for an allow-listed user", chk.calls)
		}
	})

	t.Run("chat admin passes via live check", func(t *testing.T) {
		chk := &fakeChecker{admins: map[int64]bool{7: true}}
		g := NewGate(nil, chk, logx.Nop())
		if !g.Allowed(ctx, 7, 1000) {
			t.Fatal("chat admin should pass")
		}
		if g.Allowed(ctx, 8, 1000) {
			t.Fatal("non-admin should be denied")
		}
	})

	t.Run("no chat id denies non-listed users", func(t *testing.T) {
		chk := &fakeChecker{admins: map[int64]bool{7: true}}
		g := NewGate(nil, chk, logx.Nop())
		if g.Allowed(ctx, 7, 0) {
			t.Fatal("private chat should not consult the chat admin list")
		}
		if chk.calls != 0 {
			t.Fatal("live check should be skipped without a chat id")
		}
	})

	t.Run("checker error denies", func(t *testing.T) {
		chk := &fakeChecker{err: errors.New("api down")}
		g := NewGate(nil, chk, logx.Nop())
		if g.Allowed(ctx, 7, 1000) {
			t.Fatal("errors must fail closed")
		}
	})

	t.Run("nil checker relies on allow-list only", func(t *testing.T) {
		g := NewGate([]int64{42}, nil, logx.Nop())
		if !g.Allowed(ctx, 42, 1000) {
			t.Fatal("allow-listed user should pass")
		}
		if g.Allowed(ctx, 7, 1000) {
			t.Fatal("unknown user should be denied")
		}
	})

	t.Run("no caching between checks", func(t *testing.T) {
		chk := &fakeChecker{admins: map[int64]bool{7: true}}
		g := NewGate(nil, chk, logx.Nop())
		g.Allowed(ctx, 7, 1000)
		chk.admins[7] = false // demoted mid-session
		if g.Allowed(ctx, 7, 1000) {
			t.Fatal("demotion must take effect immediately")
		}
		if chk.calls != 2 {
			t.Fatalf("live check ran %d times, want 2", chk.calls)
		}
	})
}
