package bot

import (
	"fmt"
	"strings"

	"rotabot/internal/queue"
	"rotabot/internal/schedule"
)

func startText(isAdmin bool) string {
	var sb strings.Builder
	sb.WriteString("👋 Hi! I manage the paper review rotation.\n\n")
	sb.WriteString("Use /queue to see who's up next and /help for the full command list.")
	if isAdmin {
		sb.WriteString("\n\nYou are an admin: you can manage the queue and schedules.")
	}
	return sb.String()
}

func helpText(isAdmin bool) string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	sb.WriteString("/queue - Show the current queue\n")
	sb.WriteString("/skip - Skip your turn (only with an active reminder)\n")
	sb.WriteString("/help - Show this message\n")
	if !isAdmin {
		return strings.TrimRight(sb.String(), "\n")
	}
	sb.WriteString("\nAdmin commands:\n")
	sb.WriteString("/setgroup - Use the current group chat for reminders\n")
	sb.WriteString("/adduser @username - Add a user to the end of the queue\n")
	sb.WriteString("/removeuser @username - Remove a user from the queue\n")
	sb.WriteString("/initqueue @u1 @u2 ... - Replace the queue with the given users\n")
	sb.WriteString("/clearqueue - Remove everyone from the queue\n")
	sb.WriteString("/setschedule <day> <hour> <minute> - When reminders are sent\n")
	sb.WriteString("/setautopop <day> <hour> <minute> - When unresolved turns are popped\n")
	sb.WriteString("/noreview - Skip this week's review without reordering\n")
	sb.WriteString("/nextreminder - Show when the next reminder fires and for whom\n")
	sb.WriteString("\nDays: 0=Monday .. 6=Sunday")
	return sb.String()
}

func scheduleUsage(kind schedule.Kind) string {
	cmd := "/setschedule"
	what := "Reminders"
	if kind == schedule.KindAutoPop {
		cmd = "/setautopop"
		what = "Auto-pop"
	}
	return fmt.Sprintf("Usage: %s <day> <hour> <minute>\n"+
		"Example: %s 1 9 0 (every Tuesday at 09:00)\n\n"+
		"Day: 0=Monday .. 6=Sunday\nHour: 0-23\nMinute: 0-59\n\n"+
		"%s currently run weekly at the configured time.", cmd, cmd, what)
}

// formatQueue renders the numbered queue with a bell on the entry holding an
// active reminder and a "(you)" marker for the caller.
func formatQueue(st queue.Status, callerID int64, callerUsername string) string {
	var sb strings.Builder
	sb.WriteString("📋 Current queue:\n\n")
	for i, e := range st.Entries {
		fmt.Fprintf(&sb, "%d. @%s", i+1, e.Username)
		if st.Reminder != nil && st.Reminder.EntryID == e.ID {
			sb.WriteString(" 🔔")
		}
		if isCaller(e.UserID, e.Username, callerID, callerUsername) {
			sb.WriteString(" 👈 (you)")
		}
		sb.WriteString("\n")
	}
	if st.SkipOnce {
		sb.WriteString("\n⏭ The next scheduled reminder will be skipped (/noreview).")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatNextReminder(st queue.Status, nextText string) string {
	var sb strings.Builder
	sb.WriteString("⏰ Next reminder: ")
	sb.WriteString(nextText)
	sb.WriteString("\n")

	if len(st.Entries) == 0 {
		sb.WriteString("\nThe queue is empty, so no one will be reminded.")
		return sb.String()
	}

	if st.SkipOnce {
		fmt.Fprintf(&sb, "\nThis week's review is skipped. @%s keeps the head position.", st.Entries[0].Username)
		return sb.String()
	}

	if st.Reminder != nil {
		fmt.Fprintf(&sb, "\nActive reminder: @%s (pulse %d)", st.Reminder.Username, st.Reminder.Pulses)
	}
	fmt.Fprintf(&sb, "\nUp next: @%s", st.Entries[0].Username)
	if len(st.Entries) > 1 {
		fmt.Fprintf(&sb, "\nAfter that: @%s", st.Entries[1].Username)
	}
	return sb.String()
}

func isCaller(userID int64, username string, callerID int64, callerUsername string) bool {
	if userID != 0 && userID == callerID {
		return true
	}
	return username != "" && strings.EqualFold(username, callerUsername)
}
