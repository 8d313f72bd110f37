package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"github.com/user/tiktok-scheduler-go/internal/notify"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

// maxListed caps the number of schedules in one /schedules reply
const maxListed = 15

// Sender sends replies to a chat
type Sender interface {
	SendMessage(chatID int64, text string) error
	SendMarkdown(chatID int64, text string) error
}

// Operations is the subset of the service the bot drives
type Operations interface {
	ListSchedules(ctx context.Context, filter store.ScheduleFilter) ([]*model.Schedule, error)
	CancelSchedule(ctx context.Context, id uint) (*model.Schedule, error)
	RescheduleNow(ctx context.Context, id uint) (*model.Schedule, error)
	Stats(ctx context.Context) (map[model.ScheduleStatus]int64, error)
}

// EngineStatus reports the state of the scheduling loop
type EngineStatus interface {
	IsRunning() bool
	InFlight() int
}

// Handler handles Telegram bot commands
type Handler struct {
	ops       Operations
	engine    EngineStatus
	telegram  Sender
	startTime time.Time
}

// NewHandler creates a new command handler
func NewHandler(ops Operations, engine EngineStatus, telegram Sender) *Handler {
	return &Handler{
		ops:       ops,
		engine:    engine,
		telegram:  telegram,
		startTime: time.Now(),
	}
}

// HandleUpdate processes an incoming Telegram update.
// Chat filtering happens in Client.Updates.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	msg := update.Message
	h.handleCommand(ctx, msg.Chat.ID, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
}

// handleCommand routes commands to their respective handlers
func (h *Handler) handleCommand(ctx context.Context, chatID int64, command, args string) {
	log.Info().
		Int64("chatID", chatID).
		Str("command", command).
		Str("args", args).
		Msg("Received command")

	switch command {
	case "start", "help":
		h.handleHelp(chatID)
	case "schedules":
		h.handleSchedules(ctx, chatID, args)
	case "cancel":
		h.handleCancel(ctx, chatID, args)
	case "now":
		h.handleNow(ctx, chatID, args)
	case "status":
		h.handleStatus(ctx, chatID)
	default:
		h.sendError(chatID, "Unknown command. Use /help to see available commands.")
	}
}

func (h *Handler) handleHelp(chatID int64) {
	helpText := `🤖 *Upload Scheduler*

/schedules \- List pending and uploading schedules
/schedules failed \- List schedules in one status
/cancel id \- Cancel a pending schedule
/now id \- Publish a pending schedule right away
/status \- Show engine statistics`

	if err := h.telegram.SendMarkdown(chatID, helpText); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send help message")
	}
}

// handleSchedules lists schedules, live ones by default
func (h *Handler) handleSchedules(ctx context.Context, chatID int64, args string) {
	filter := store.ScheduleFilter{Statuses: model.LiveStatuses}
	if args != "" {
		status := model.ScheduleStatus(strings.ToLower(args))
		if !status.IsValid() {
			h.sendError(chatID, fmt.Sprintf("Unknown status %q. Use one of: pending, uploading, completed, failed, cancelled.", args))
			return
		}
		filter.Statuses = []model.ScheduleStatus{status}
	}

	schedules, err := h.ops.ListSchedules(ctx, filter)
	if err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to list schedules")
		h.sendError(chatID, "Failed to list schedules. Please try again.")
		return
	}

	if len(schedules) == 0 {
		if err := h.telegram.SendMessage(chatID, "📭 No schedules found."); err != nil {
			log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send empty list message")
		}
		return
	}

	lines := []string{"📋 *Schedules*\n"}
	for i, sch := range schedules {
		if i == maxListed {
			lines = append(lines, fmt.Sprintf("\n_…and %d more_", len(schedules)-maxListed))
			break
		}
		lines = append(lines, notify.FormatScheduleLine(sch))
	}

	if err := h.telegram.SendMarkdown(chatID, strings.Join(lines, "\n")); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send schedule list")
	}
}

func (h *Handler) handleCancel(ctx context.Context, chatID int64, args string) {
	id, ok := h.scheduleID(chatID, "cancel", args)
	if !ok {
		return
	}

	if _, err := h.ops.CancelSchedule(ctx, id); err != nil {
		h.replyScheduleError(chatID, id, err)
		return
	}
	if err := h.telegram.SendMessage(chatID, fmt.Sprintf("🚫 Schedule #%d cancelled.", id)); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send cancel confirmation")
	}
}

func (h *Handler) handleNow(ctx context.Context, chatID int64, args string) {
	id, ok := h.scheduleID(chatID, "now", args)
	if !ok {
		return
	}

	sch, err := h.ops.RescheduleNow(ctx, id)
	if err != nil {
		h.replyScheduleError(chatID, id, err)
		return
	}
	message := fmt.Sprintf("⏫ Schedule #%d will publish at %s.", id, sch.ScheduledTime.UTC().Format("15:04:05 MST"))
	if err := h.telegram.SendMessage(chatID, message); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send reschedule confirmation")
	}
}

// handleStatus reports schedule counts and engine state
func (h *Handler) handleStatus(ctx context.Context, chatID int64) {
	counts, err := h.ops.Stats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count schedules")
		h.sendError(chatID, "Failed to load statistics. Please try again.")
		return
	}

	engine := "disabled"
	inFlight := 0
	if h.engine != nil {
		engine = "stopped"
		if h.engine.IsRunning() {
			engine = "running"
		}
		inFlight = h.engine.InFlight()
	}

	lines := []string{"📊 *Scheduler Status*\n"}
	for _, status := range model.AllStatuses {
		lines = append(lines, fmt.Sprintf("%s: %d", notify.EscapeMarkdown(string(status)), counts[status]))
	}
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("⚙️ Engine: %s, %d in flight", engine, inFlight))
	lines = append(lines, fmt.Sprintf("⏱ Uptime: %s", notify.EscapeMarkdown(notify.FormatDuration(time.Since(h.startTime)))))

	if err := h.telegram.SendMarkdown(chatID, strings.Join(lines, "\n")); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send status")
	}
}

// scheduleID parses the id argument of a command, replying on failure
func (h *Handler) scheduleID(chatID int64, command, args string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(args, "#"), 10, 64)
	if err != nil || id == 0 {
		h.sendError(chatID, fmt.Sprintf("Please provide a schedule id. Example: /%s 12", command))
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) replyScheduleError(chatID int64, id uint, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.sendError(chatID, fmt.Sprintf("Schedule #%d not found.", id))
	case errors.Is(err, store.ErrConflict):
		h.sendError(chatID, fmt.Sprintf("Schedule #%d is no longer pending.", id))
	default:
		log.Error().Err(err).Uint("scheduleID", id).Msg("Bot command failed")
		h.sendError(chatID, "Something went wrong. Please try again.")
	}
}

// sendError sends an error message to a chat
func (h *Handler) sendError(chatID int64, message string) {
	if err := h.telegram.SendMessage(chatID, "❌ "+message); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send error message")
	}
}
