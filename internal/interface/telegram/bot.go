// Package telegram implements the Telegram Bot interface for the material bot.
// It receives updates by long polling or webhook, turns them into
// conversation turns and runs those turns one at a time per chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/estudia/material-bot/internal/application/conversation"
	"github.com/estudia/material-bot/internal/infrastructure/external/telegram"
	"github.com/estudia/material-bot/internal/interface/telegram/middleware"
	"github.com/estudia/material-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Update receiving modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Mode is the update receiving mode: "polling" or "webhook".
	Mode string

	// WebhookURL and WebhookSecret are registered with Telegram in webhook mode.
	WebhookURL    string
	WebhookSecret string

	// PollingTimeout is the long polling timeout.
	PollingTimeout time.Duration

	// MaxConcurrentChats limits how many chats are served at once.
	MaxConcurrentChats int

	// TurnTimeout bounds a single conversation turn.
	TurnTimeout time.Duration

	// GracefulShutdownTimeout is how long Stop waits for running turns.
	GracefulShutdownTimeout time.Duration

	RateLimit middleware.RateLimitConfig
	Recovery  middleware.RecoveryConfig

	Logger *logger.Logger
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Mode:                    ModePolling,
		PollingTimeout:          30 * time.Second,
		MaxConcurrentChats:      64,
		TurnTimeout:             2 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		RateLimit:               middleware.DefaultRateLimitConfig(),
		Recovery:                middleware.DefaultRecoveryConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// API is the part of the Bot API client the bot drives.
type API interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string) error
	SetWebhook(ctx context.Context, url, secretToken string) error
	DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error
	StartPolling(ctx context.Context, timeout time.Duration, handler telegram.UpdateHandler) error
}

// Conversation runs conversation turns. *conversation.Orchestrator implements it.
type Conversation interface {
	HandleText(ctx context.Context, userID int64, text string)
	HandlePayload(ctx context.Context, userID int64, payload string)
}

// TurnObserver records turn latency.
type TurnObserver interface {
	TurnFinished(event string, d time.Duration)
}

type nopTurnObserver struct{}

func (nopTurnObserver) TurnFinished(string, time.Duration) {}

// commandPayloads maps slash commands to conversation payloads.
var commandPayloads = map[string]string{
	"start":        string(conversation.CmdEmpezar),
	"cursos":       string(conversation.CmdCursos),
	"ciclo":        string(conversation.CmdResetCiclo),
	"especialidad": string(conversation.CmdResetEspecialidad),
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the Telegram update loop.
type Bot struct {
	config   BotConfig
	api      API
	conv     Conversation
	observer TurnObserver
	logger   *logger.Logger

	rateLimiter *middleware.RateLimiter
	recovery    *middleware.RecoveryMiddleware

	// Turns run on their own context so shutdown can drain them.
	turnCtx     context.Context
	cancelTurns context.CancelFunc

	queues    *chatQueues
	updateSem chan struct{}
	wg        sync.WaitGroup

	now func() time.Time
}

// NewBot creates a new Telegram bot.
func NewBot(config BotConfig, api API, conv Conversation, observer TurnObserver) (*Bot, error) {
	if api == nil {
		return nil, errors.New("telegram api client is required")
	}
	if conv == nil {
		return nil, errors.New("conversation is required")
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.MaxConcurrentChats <= 0 {
		config.MaxConcurrentChats = 64
	}
	if observer == nil {
		observer = nopTurnObserver{}
	}

	limiter, err := middleware.NewRateLimiter(config.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	log := config.Logger.With(logger.Component("telegram_bot"))
	turnCtx, cancel := context.WithCancel(context.Background())

	return &Bot{
		config:      config,
		api:         api,
		conv:        conv,
		observer:    observer,
		logger:      log,
		rateLimiter: limiter,
		recovery:    middleware.NewRecoveryMiddleware(config.Recovery, log),
		turnCtx:     turnCtx,
		cancelTurns: cancel,
		queues:      newChatQueues(),
		updateSem:   make(chan struct{}, config.MaxConcurrentChats),
		now:         time.Now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Start verifies the token and receives updates until ctx is done.
// In webhook mode it only registers the webhook; updates arrive through Dispatch.
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	b.logger.Info("bot verified",
		logger.Int64("id", me.ID),
		logger.String("username", me.Username),
		logger.String("mode", b.config.Mode),
	)

	switch b.config.Mode {
	case ModePolling, "":
		if err := b.api.DeleteWebhook(ctx, false); err != nil {
			b.logger.Warn("failed to delete webhook", logger.Err(err))
		}
		return b.api.StartPolling(ctx, b.config.PollingTimeout, func(_ context.Context, update *telegram.Update) error {
			b.Dispatch(update)
			return nil
		})
	case ModeWebhook:
		if b.config.WebhookURL == "" {
			return errors.New("webhook URL is required for webhook mode")
		}
		if err := b.api.SetWebhook(ctx, b.config.WebhookURL, b.config.WebhookSecret); err != nil {
			return fmt.Errorf("failed to set webhook: %w", err)
		}
		b.logger.Info("webhook registered", logger.String("url", b.config.WebhookURL))
		<-ctx.Done()
		return nil
	default:
		return fmt.Errorf("unknown bot mode: %s", b.config.Mode)
	}
}

// Stop waits for queued turns, then cancels whatever is still running.
func (b *Bot) Stop(ctx context.Context) error {
	b.logger.Info("stopping telegram bot")
	defer b.cancelTurns()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	timeout := b.config.GracefulShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		b.logger.Info("all turns completed gracefully")
		return nil
	case <-timer.C:
		b.logger.Warn("graceful shutdown timeout exceeded")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// turn is one conversation event extracted from an update.
type turn struct {
	userID     int64
	event      string
	text       string
	callbackID string
}

// Dispatch queues an update. Updates of the same chat run in arrival order,
// different chats run concurrently. It never blocks on the turn itself.
func (b *Bot) Dispatch(update *telegram.Update) {
	t, ok := b.extractTurn(update)
	if !ok {
		return
	}

	if res := b.rateLimiter.Check(t.userID, b.now()); !res.Allowed {
		b.logger.Warn("update dropped by rate limit",
			logger.UserID(t.userID),
			logger.Duration("retry_after", res.RetryAfter),
		)
		return
	}

	b.wg.Add(1)
	b.queues.enqueue(t.userID, func() {
		defer b.wg.Done()
		b.run(t)
	})
}

func (b *Bot) run(t turn) {
	select {
	case b.updateSem <- struct{}{}:
		defer func() { <-b.updateSem }()
	case <-b.turnCtx.Done():
		return
	}

	ctx := b.turnCtx
	if b.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.TurnTimeout)
		defer cancel()
	}

	started := b.now()
	b.recovery.Run(t.userID, t.event, func() {
		if t.callbackID != "" {
			if err := b.api.AnswerCallbackQuery(ctx, t.callbackID, ""); err != nil {
				b.logger.Debug("failed to answer callback query", logger.UserID(t.userID), logger.Err(err))
			}
		}
		switch t.event {
		case "payload":
			b.conv.HandlePayload(ctx, t.userID, t.text)
		default:
			b.conv.HandleText(ctx, t.userID, t.text)
		}
	})
	b.observer.TurnFinished(t.event, b.now().Sub(started))
}

// extractTurn turns private chat messages and button taps into turns.
func (b *Bot) extractTurn(update *telegram.Update) (turn, bool) {
	switch {
	case update == nil:
		return turn{}, false

	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.From == nil || cq.Data == "" {
			return turn{}, false
		}
		return turn{userID: cq.From.ID, event: "payload", text: cq.Data, callbackID: cq.ID}, true

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || !IsPrivateChat(msg) || strings.TrimSpace(msg.Text) == "" {
			return turn{}, false
		}
		if cmd := ExtractCommand(msg); cmd != "" {
			if payload, ok := commandPayloads[cmd]; ok {
				return turn{userID: msg.From.ID, event: "payload", text: payload}, true
			}
			b.logger.Debug("unknown bot command", logger.UserID(msg.From.ID), logger.Command(cmd))
			return turn{}, false
		}
		return turn{userID: msg.From.ID, event: "text", text: msg.Text}, true
	}
	return turn{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// UTILITY METHODS
// ══════════════════════════════════════════════════════════════════════════════

// ExtractCommand extracts the command from a message (without the / and @botname).
func ExtractCommand(msg *telegram.Message) string {
	if msg == nil || msg.Text == "" {
		return ""
	}

	for _, entity := range msg.Entities {
		if entity.Type == "bot_command" && entity.Offset == 0 && entity.Length <= len(msg.Text) {
			cmd := msg.Text[1:entity.Length]
			if i := strings.IndexByte(cmd, '@'); i >= 0 {
				cmd = cmd[:i]
			}
			return strings.ToLower(cmd)
		}
	}

	return ""
}

// IsPrivateChat checks if the message is from a private chat.
func IsPrivateChat(msg *telegram.Message) bool {
	return msg != nil && msg.Chat != nil && msg.Chat.Type == "private"
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-CHAT QUEUES
// ══════════════════════════════════════════════════════════════════════════════

// chatQueues runs jobs for the same chat strictly one after another.
// A chat has a draining goroutine only while it has pending jobs.
type chatQueues struct {
	mu     sync.Mutex
	queues map[int64][]func()
}

func newChatQueues() *chatQueues {
	return &chatQueues{queues: make(map[int64][]func())}
}

func (q *chatQueues) enqueue(chatID int64, job func()) {
	q.mu.Lock()
	pending, running := q.queues[chatID]
	q.queues[chatID] = append(pending, job)
	q.mu.Unlock()

	if !running {
		go q.drain(chatID)
	}
}

func (q *chatQueues) drain(chatID int64) {
	for {
		q.mu.Lock()
		pending := q.queues[chatID]
		if len(pending) == 0 {
			delete(q.queues, chatID)
			q.mu.Unlock()
			return
		}
		job := pending[0]
		q.queues[chatID] = pending[1:]
		q.mu.Unlock()

		job()
	}
}
