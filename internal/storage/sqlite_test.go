package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"rotabot/internal/schedule"
	logx "rotabot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Path: "  "}, logx.Nop()); err == nil {
		t.Fatal("blank path should be rejected")
	}
}

func TestSaveQueueRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	added := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	saved, err := st.SaveQueue(ctx, []QueueEntry{
		{Username: "alice", FirstName: "Alice", Position: 0, AddedAt: added},
		{Username: "bob", Position: 1, AddedAt: added},
	}, nil)
	if err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}
	if saved[0].ID == 0 || saved[1].ID == 0 {
		t.Fatalf("inserted rows should carry assigned ids: %+v", saved)
	}

	got, err := st.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(got) != 2 || got[0].Username != "alice" || got[1].Username != "bob" {
		t.Fatalf("queue = %+v", got)
	}
	if got[0].FirstName != "Alice" || got[1].FirstName != "" {
		t.Fatalf("names = %q, %q", got[0].FirstName, got[1].FirstName)
	}
	if !got[0].AddedAt.Equal(added) {
		t.Fatalf("added_at = %v, want %v", got[0].AddedAt, added)
	}
}

func TestSaveQueueRotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	saved, err := st.SaveQueue(ctx, []QueueEntry{
		{Username: "alice", Position: 0},
		{Username: "bob", Position: 1},
		{Username: "charlie", Position: 2},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Rotate head to tail: every kept row changes position at once. The
	// unique index on position must not reject the rewrite.
	rotated := []QueueEntry{saved[1], saved[2], saved[0]}
	for i := range rotated {
		rotated[i].Position = i
	}
	if _, err := st.SaveQueue(ctx, rotated, nil); err != nil {
		t.Fatalf("SaveQueue rotation: %v", err)
	}

	got, err := st.Queue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"bob", "charlie", "alice"}
	for i, w := range want {
		if got[i].Username != w || got[i].Position != i {
			t.Fatalf("queue = %+v, want order %v", got, want)
		}
	}
	// IDs are stable across the rotation.
	if got[2].ID != saved[0].ID {
		t.Fatalf("alice id changed: %d -> %d", saved[0].ID, got[2].ID)
	}
}

func TestSaveQueueDropsStaleRowsAndReminder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	saved, err := st.SaveQueue(ctx, []QueueEntry{
		{Username: "alice", Position: 0},
		{Username: "bob", Position: 1},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if err := st.SetActiveReminder(ctx, &ActiveReminder{
		EntryID: saved[0].ID, Username: "alice", CreatedAt: now, LastPulseAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	// Keep only bob and clear the reminder in the same call.
	bob := saved[1]
	bob.Position = 0
	if _, err := st.SaveQueue(ctx, []QueueEntry{bob}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := st.Queue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Username != "bob" {
		t.Fatalf("queue = %+v", got)
	}
	rem, err := st.ActiveReminder(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rem != nil {
		t.Fatalf("reminder should be cleared, got %+v", rem)
	}
}

func TestActiveReminderRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if rem, err := st.ActiveReminder(ctx); err != nil || rem != nil {
		t.Fatalf("empty store: rem=%+v err=%v", rem, err)
	}

	created := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	deadline := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	in := &ActiveReminder{
		EntryID:     7,
		UserID:      101,
		Username:    "alice",
		Pulses:      2,
		CreatedAt:   created,
		LastPulseAt: created,
		NextPulseAt: deadline,
	}
	if err := st.SetActiveReminder(ctx, in); err != nil {
		t.Fatal(err)
	}

	out, err := st.ActiveReminder(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.EntryID != 7 || out.Username != "alice" || out.Pulses != 2 {
		t.Fatalf("reminder = %+v", out)
	}
	if !out.NextPulseAt.Equal(deadline) {
		t.Fatalf("next_pulse_at = %v, want %v", out.NextPulseAt, deadline)
	}

	if err := st.SetActiveReminder(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if rem, err := st.ActiveReminder(ctx); err != nil || rem != nil {
		t.Fatalf("after clear: rem=%+v err=%v", rem, err)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.Schedule(ctx, schedule.KindReminder); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	spec := schedule.Spec{Day: 3, Hour: 14, Minute: 30}
	if err := st.SetSchedule(ctx, schedule.KindReminder, spec); err != nil {
		t.Fatal(err)
	}
	got, ok, err := st.Schedule(ctx, schedule.KindReminder)
	if err != nil || !ok || got != spec {
		t.Fatalf("schedule = %+v ok=%v err=%v", got, ok, err)
	}

	// Upsert replaces in place.
	spec2 := schedule.Spec{Day: 5, Hour: 8, Minute: 0}
	if err := st.SetSchedule(ctx, schedule.KindReminder, spec2); err != nil {
		t.Fatal(err)
	}
	got, _, _ = st.Schedule(ctx, schedule.KindReminder)
	if got != spec2 {
		t.Fatalf("schedule after upsert = %+v", got)
	}

	// Kinds are independent rows.
	if _, ok, _ := st.Schedule(ctx, schedule.KindAutoPop); ok {
		t.Fatal("autopop schedule should still be unset")
	}
}

func TestGroupChatRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.GroupChatID(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if err := st.SetGroupChatID(ctx, -100123); err != nil {
		t.Fatal(err)
	}
	id, ok, err := st.GroupChatID(ctx)
	if err != nil || !ok || id != -100123 {
		t.Fatalf("group = %d ok=%v err=%v", id, ok, err)
	}
}

func TestSkipOnceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if on, err := st.SkipOnce(ctx); err != nil || on {
		t.Fatalf("empty store: on=%v err=%v", on, err)
	}
	if err := st.SetSkipOnce(ctx, "admin 42 used /noreview"); err != nil {
		t.Fatal(err)
	}
	if on, _ := st.SkipOnce(ctx); !on {
		t.Fatal("flag should be set")
	}
	// Setting twice stays a single flag.
	if err := st.SetSkipOnce(ctx, "again"); err != nil {
		t.Fatal(err)
	}
	if err := st.ClearSkipOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if on, _ := st.SkipOnce(ctx); on {
		t.Fatal("flag should be cleared")
	}
}

func TestAppendHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.AppendHistory(ctx, HistoryRecord{UserID: 101, Action: "joined", Note: "added by admin"}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	// Zero timestamp gets filled in.
	if err := st.AppendHistory(ctx, HistoryRecord{Action: "no_review"}); err != nil {
		t.Fatalf("AppendHistory without timestamp: %v", err)
	}
}

func TestReopenKeepsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveQueue(ctx, []QueueEntry{{Username: "alice", Position: 0}}, nil); err != nil {
		t.Fatal(err)
	}
	if err := st.SetGroupChatID(ctx, -5); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, err := st2.Queue(ctx)
	if err != nil || len(got) != 1 || got[0].Username != "alice" {
		t.Fatalf("queue after reopen = %+v err=%v", got, err)
	}
	if id, ok, _ := st2.GroupChatID(ctx); !ok || id != -5 {
		t.Fatalf("group after reopen = %d ok=%v", id, ok)
	}
}
