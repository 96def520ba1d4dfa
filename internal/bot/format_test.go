package bot

import (
	"strings"
	"testing"

	"rotabot/internal/queue"
	"rotabot/internal/schedule"
	"rotabot/internal/storage"
)

func TestHelpText(t *testing.T) {
	t.Parallel()

	plain := helpText(false)
	if strings.Contains(plain, "/adduser") {
		t.Fatal("non-admin help must not list admin commands")
	}
	admin := helpText(true)
	for _, cmd := range []string{"/adduser", "/setschedule", "/noreview", "/nextreminder"} {
		if !strings.Contains(admin, cmd) {
			t.Fatalf("admin help missing %s:\n%s", cmd, admin)
		}
	}
}

func TestFormatQueue(t *testing.T) {
	t.Parallel()

	st := queue.Status{
		Entries: []storage.QueueEntry{
			{ID: 1, UserID: 101, Username: "alice", Position: 0},
			{ID: 2, Username: "bob", Position: 1},
			{ID: 3, Username: "charlie", Position: 2},
		},
		Reminder: &storage.ActiveReminder{EntryID: 1, Username: "alice"},
	}

	out := formatQueue(st, 0, "bob")
	lines := strings.Split(out, "\n")

	if !strings.Contains(lines[2], "1. @alice") || !strings.Contains(lines[2], "🔔") {
		t.Fatalf("head line = %q, want bell marker", lines[2])
	}
	if !strings.Contains(lines[3], "2. @bob") || !strings.Contains(lines[3], "(you)") {
		t.Fatalf("caller line = %q, want (you) marker", lines[3])
	}
	if strings.Contains(lines[4], "(you)") || strings.Contains(lines[4], "🔔") {
		t.Fatalf("charlie line = %q, want no markers", lines[4])
	}
}

func TestFormatQueueMatchesCallerByID(t *testing.T) {
	t.Parallel()

	st := queue.Status{
		Entries: []storage.QueueEntry{{ID: 1, UserID: 101, Username: "alice", Position: 0}},
	}
	// Username changed since enrollment; the numeric id still matches.
	out := formatQueue(st, 101, "renamed")
	if !strings.Contains(out, "(you)") {
		t.Fatalf("caller marker missing:\n%s", out)
	}
}

func TestFormatQueueSkipNote(t *testing.T) {
	t.Parallel()

	st := queue.Status{
		Entries:  []storage.QueueEntry{{ID: 1, Username: "alice", Position: 0}},
		SkipOnce: true,
	}
	if !strings.Contains(formatQueue(st, 0, ""), "skipped") {
		t.Fatal("skip-once note missing")
	}
}

func TestFormatNextReminder(t *testing.T) {
	t.Parallel()

	t.Run("empty queue", func(t *testing.T) {
		out := formatNextReminder(queue.Status{}, "2025-06-03 09:00:00 UTC")
		if !strings.Contains(out, "no one will be reminded") {
			t.Fatalf("out = %q", out)
		}
	})

	t.Run("skip flag set", func(t *testing.T) {
		st := queue.Status{
			Entries:  []storage.QueueEntry{{ID: 1, Username: "alice"}},
			SkipOnce: true,
		}
		out := formatNextReminder(st, "2025-06-03 09:00:00 UTC")
		if !strings.Contains(out, "skipped") || !strings.Contains(out, "@alice") {
			t.Fatalf("out = %q", out)
		}
	})

	t.Run("active cycle", func(t *testing.T) {
		st := queue.Status{
			Entries: []storage.QueueEntry{
				{ID: 1, Username: "alice"},
				{ID: 2, Username: "bob"},
			},
			Reminder: &storage.ActiveReminder{EntryID: 1, Username: "alice", Pulses: 2},
		}
		out := formatNextReminder(st, "2025-06-03 09:00:00 UTC")
		if !strings.Contains(out, "pulse 2") || !strings.Contains(out, "After that: @bob") {
			t.Fatalf("out = %q", out)
		}
	})
}

func TestScheduleUsage(t *testing.T) {
	t.Parallel()

	if !strings.Contains(scheduleUsage(schedule.KindReminder), "/setschedule") {
		t.Fatal("reminder usage should name /setschedule")
	}
	if !strings.Contains(scheduleUsage(schedule.KindAutoPop), "/setautopop") {
		t.Fatal("autopop usage should name /setautopop")
	}
}
