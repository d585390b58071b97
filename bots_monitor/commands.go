package bots_monitor

// Telegram side of the operator surface. Updates arrive by long polling or
// webhook and both go through UpdateRouter.HandleUpdate.

import (
	"context"
	"errors"
	"strings"
	"time"

	"buybot/internal/clients_api/telegram"
	"buybot/internal/features/buys"
	"buybot/internal/features/operator"
	"buybot/internal/infra/faults"
	log "buybot/internal/infra/log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// OperatorHandler is implemented by operator.Handler.
type OperatorHandler interface {
	Handle(ctx context.Context, req operator.Request) operator.Response
}

// updateTimeout bounds one update, including the settings save and the reply.
const updateTimeout = 30 * time.Second

type UpdateRouter struct {
	handler OperatorHandler
	sender  *telegram.Sender
	limiter buys.Acquirer
	botName string
}

// NewUpdateRouter routes updates to handler. Replies and callback answers
// share limiter with buy notifications; nil disables the gate. botName is the
// bot username, used to ignore commands addressed to other bots in group chats.
func NewUpdateRouter(handler OperatorHandler, sender *telegram.Sender, limiter buys.Acquirer, botName string) *UpdateRouter {
	return &UpdateRouter{handler: handler, sender: sender, limiter: limiter, botName: botName}
}

// RunCommandHandler consumes long-polling updates until ctx is done.
func (r *UpdateRouter) RunCommandHandler(ctx context.Context, bot *tgbotapi.BotAPI) {
	log.LogInfo("Starting command handler", zap.String("bot", r.botName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			log.LogInfo("Command handler stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			// an update already received finishes even when shutdown starts
			updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
			r.HandleUpdate(updateCtx, update)
			cancel()
		}
	}
}

// HandleUpdate processes one update synchronously.
func (r *UpdateRouter) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	req, callbackID, ok := r.toRequest(update)
	if !ok {
		return
	}

	log.LogDebug("Received operator request",
		zap.Int64("chatID", req.ChatID),
		zap.String("command", req.Command),
		zap.String("callback", req.Callback),
		zap.Bool("photo", req.PhotoFileID != ""))

	resp := r.handler.Handle(ctx, req)

	if callbackID != "" && r.acquire(ctx, req.ChatID, "callback answer") {
		if err := r.sender.AnswerCallback(callbackID, resp.Notice); err != nil {
			log.LogWarn("Failed to answer callback", zap.String("callbackID", callbackID), zap.Error(err))
		}
	}
	if resp.Text == "" || !r.acquire(ctx, req.ChatID, "reply") {
		return
	}

	out := telegram.Outgoing{
		ChatID:   req.ChatID,
		ReplyTo:  resp.ReplyTo,
		Text:     resp.Text,
		Keyboard: toKeyboard(resp.Keyboard),
	}
	if err := r.sender.Send(ctx, out); err != nil {
		log.LogError("Failed to send reply", zap.Int64("chatID", req.ChatID), zap.Error(err))
	}
}

// acquire takes a platform token; without one the outgoing call is dropped.
func (r *UpdateRouter) acquire(ctx context.Context, chatID int64, what string) bool {
	if r.limiter == nil {
		return true
	}
	err := r.limiter.Acquire(ctx)
	if err == nil {
		return true
	}
	if errors.Is(err, faults.ErrRateLimitExceeded) {
		log.LogWarn("Platform rate limit reached, dropping "+what, zap.Int64("chatID", chatID))
	} else {
		log.LogError("Failed to acquire platform token", zap.Int64("chatID", chatID), zap.Error(err))
	}
	return false
}

func (r *UpdateRouter) toRequest(update tgbotapi.Update) (operator.Request, string, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return operator.Request{}, "", false
		}
		req := operator.Request{
			ChatID:   cq.Message.Chat.ID,
			Callback: cq.Data,
		}
		if cq.From != nil {
			req.UserID = cq.From.ID
		}
		return req, cq.ID, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return operator.Request{}, "", false
	}

	req := operator.Request{ChatID: msg.Chat.ID, MessageID: msg.MessageID}
	if msg.From != nil {
		req.UserID = msg.From.ID
	}

	switch {
	case msg.IsCommand():
		if !r.addressedToMe(msg) {
			return operator.Request{}, "", false
		}
		req.Command = strings.ToLower(msg.Command())
		req.Args = msg.CommandArguments()
	case len(msg.Photo) > 0:
		// the last size is the largest
		req.PhotoFileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Text != "":
		req.Text = msg.Text
	default:
		return operator.Request{}, "", false
	}
	return req, "", true
}

func (r *UpdateRouter) addressedToMe(msg *tgbotapi.Message) bool {
	withAt := msg.CommandWithAt()
	_, mention, found := strings.Cut(withAt, "@")
	if !found || r.botName == "" {
		return true
	}
	return strings.EqualFold(mention, r.botName)
}

func toKeyboard(rows [][]operator.Button) [][]telegram.Button {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]telegram.Button, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telegram.Button, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telegram.Button{Text: b.Text, URL: b.URL, Data: b.Data})
		}
		out = append(out, buttons)
	}
	return out
}
