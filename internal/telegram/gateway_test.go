package telegram

import (
	"strings"
	"testing"

	logx "rotabot/pkg/logx"
)

func TestSplitMessageShortPassesThrough(t *testing.T) {
	t.Parallel()

	got := splitMessage("hello", 4096)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("chunks = %q", got)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("line with some queue content\n")
	}
	chunks := splitMessage(strings.TrimRight(sb.String(), "\n"), 100)
	for i, c := range chunks {
		if len(c) > 100 {
			t.Fatalf("chunk %d is %d bytes", i, len(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, c)
		}
	}
	// Rejoining loses nothing but the newlines used as cut points.
	joined := strings.Join(chunks, "\n")
	if strings.Count(joined, "line with some queue content") != 40 {
		t.Fatalf("content lost across chunks:\n%s", joined)
	}
}

func TestSplitMessageWithoutNewlines(t *testing.T) {
	t.Parallel()

	chunks := splitMessage(strings.Repeat("x", 250), 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total != 250 {
		t.Fatalf("total bytes = %d, want 250", total)
	}
}

func TestSplitMessageKeepsRunesIntact(t *testing.T) {
	t.Parallel()

	// 4-byte runes with a limit that lands mid-sequence.
	chunks := splitMessage(strings.Repeat("🔔", 30), 10)
	for i, c := range chunks {
		if !strings.HasPrefix(c, "🔔") || len(c)%4 != 0 {
			t.Fatalf("chunk %d splits a rune: %q", i, c)
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("blank token should be rejected")
	}
}
