package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/tiktok-scheduler-go/internal/model"
)

// EscapeMarkdown escapes special characters for Telegram MarkdownV2 format
func EscapeMarkdown(text string) string {
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! and the escape character itself
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	result := text
	for _, char := range specialChars {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}
	return result
}

// FormatOutcome formats a finished publish attempt into a MarkdownV2 message.
// The message always names the schedule, video and profile; failures carry the reason.
func FormatOutcome(outcome model.PublishOutcome) string {
	var parts []string

	switch outcome.Status {
	case model.StatusCompleted:
		parts = append(parts, fmt.Sprintf("✅ *Published* schedule \\#%d", outcome.ScheduleID))
	default:
		parts = append(parts, fmt.Sprintf("❌ *Failed* schedule \\#%d", outcome.ScheduleID))
	}

	if outcome.VideoName != "" {
		parts = append(parts, fmt.Sprintf("🎬 %s", EscapeMarkdown(outcome.VideoName)))
	}
	if outcome.ProfileName != "" {
		parts = append(parts, fmt.Sprintf("👤 %s", EscapeMarkdown(outcome.ProfileName)))
	}
	if outcome.Duration > 0 {
		parts = append(parts, fmt.Sprintf("⏱ %s", EscapeMarkdown(FormatDuration(outcome.Duration))))
	}
	if outcome.ErrorMessage != "" {
		parts = append(parts, fmt.Sprintf("⚠️ %s", EscapeMarkdown(outcome.ErrorMessage)))
	}

	return strings.Join(parts, "\n")
}

// FormatScheduleLine renders one schedule as a single MarkdownV2 list line
func FormatScheduleLine(sch *model.Schedule) string {
	line := fmt.Sprintf("\\#%d %s %s", sch.ID, statusIcon(sch.Status),
		EscapeMarkdown(sch.ScheduledTime.UTC().Format("2006-01-02 15:04 MST")))
	if sch.Status == model.StatusFailed && sch.ErrorMessage != "" {
		msg := []rune(sch.ErrorMessage)
		if len(msg) > 60 {
			msg = append(msg[:57], []rune("...")...)
		}
		line += "\n   " + EscapeMarkdown(string(msg))
	}
	return line
}

// FormatDuration formats a duration into a short human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm %ds", minutes, int(d.Seconds())%60)
}

func statusIcon(status model.ScheduleStatus) string {
	switch status {
	case model.StatusPending:
		return "🕒"
	case model.StatusUploading:
		return "⏫"
	case model.StatusCompleted:
		return "✅"
	case model.StatusFailed:
		return "❌"
	case model.StatusCancelled:
		return "🚫"
	default:
		return "❔"
	}
}
