package operator

// Platform-agnostic operator surface: commands, menu callbacks, photo uploads
// and free-text replies all come in as a Request and leave as a Response.
// Every settings change goes validate -> mutate -> persist -> acknowledge.

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"buybot/internal/features/buys"
	"buybot/internal/infra/faults"
	log "buybot/internal/infra/log"
	"buybot/internal/infra/metrics"
	"buybot/internal/settings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Request is one inbound event from the operator. Exactly one of Command,
// Callback, PhotoFileID or Text is set.
type Request struct {
	ChatID    int64
	UserID    int64
	MessageID int

	Command     string // without the slash and bot mention
	Args        string
	Callback    string
	PhotoFileID string
	Text        string
}

// Button is a callback button (Data) or a link button (URL).
type Button struct {
	Text string
	Data string
	URL  string
}

// Response is the reply to send back; an empty Text means stay silent.
type Response struct {
	Text     string
	Keyboard [][]Button
	ReplyTo  int
	// Notice is shown as the callback answer toast.
	Notice string
}

// BuyTrigger accepts simulated buys.
type BuyTrigger interface {
	Trigger(events []buys.BuyEvent) int
}

var knownCommands = lo.SliceToMap([]string{
	"start", "help", "settings", "track", "untrack", "addgroup", "removegroup",
	"setemojis", "setlayout", "setbuystep", "setminbuy", "setsupply",
	"setcharturl", "setbuyimage", "toggle_shuffle", "buy",
}, func(c string) (string, struct{}) { return c, struct{}{} })

var knownCallbacks = lo.SliceToMap([]string{
	CallbackActivate, CallbackDeactivate, CallbackSetImage, CallbackSetBuyStep,
	CallbackSetEmojis, CallbackToggleShuffle, strings.TrimSuffix(CallbackLayoutPrefix, ":"),
}, func(c string) (string, struct{}) { return "callback:" + c, struct{}{} })

type Options struct {
	AdminIDs            []int64 // empty allows everyone
	ConversationTimeout time.Duration
	Now                 func() time.Time
}

type Handler struct {
	store   *settings.Store
	trigger BuyTrigger
	metrics *metrics.Metrics
	admins  map[int64]struct{}
	conv    *conversations
	now     func() time.Time
}

func NewHandler(store *settings.Store, trigger BuyTrigger, m *metrics.Metrics, opts Options) *Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	conv := newConversations(opts.ConversationTimeout)
	conv.now = now
	return &Handler{
		store:   store,
		trigger: trigger,
		metrics: m,
		admins:  lo.SliceToMap(opts.AdminIDs, func(id int64) (int64, struct{}) { return id, struct{}{} }),
		conv:    conv,
		now:     now,
	}
}

// State exposes the conversation state of a chat.
func (h *Handler) State(chatID int64) State {
	return h.conv.State(chatID)
}

func (h *Handler) Handle(ctx context.Context, req Request) Response {
	var (
		name string
		resp Response
		err  error
	)

	switch {
	case req.Command != "":
		name = req.Command
		if _, ok := knownCommands[name]; !ok {
			name = "unknown"
		}
		if !h.allowed(req, name) {
			return h.deny(req, name)
		}
		// any command ends an open conversation
		h.conv.Reset(req.ChatID)
		resp, err = h.command(ctx, req)
	case req.Callback != "":
		name = "callback:" + strings.SplitN(req.Callback, ":", 2)[0]
		if _, ok := knownCallbacks[name]; !ok {
			name = "callback:unknown"
		}
		if !h.allowed(req, name) {
			return h.deny(req, name)
		}
		resp, err = h.callback(ctx, req)
	case req.PhotoFileID != "":
		name = "photo"
		if !h.allowed(req, name) {
			return Response{}
		}
		resp, err = h.photo(ctx, req)
	case req.Text != "":
		name = "text"
		if h.conv.State(req.ChatID) == Idle || !h.allowed(req, name) {
			return Response{}
		}
		resp, err = h.reply(ctx, req)
	default:
		return Response{}
	}

	if err != nil {
		resp = h.failure(name, req, err)
	} else {
		h.metrics.Command(name, "ok")
	}
	if resp.ReplyTo == 0 {
		resp.ReplyTo = req.MessageID
	}
	return resp
}

func (h *Handler) command(ctx context.Context, req Request) (Response, error) {
	args := strings.TrimSpace(req.Args)

	switch req.Command {
	case "start":
		return Response{Text: "Welcome to the Buy Bot! Here are your settings:", Keyboard: mainMenu()}, nil
	case "help":
		return Response{Text: helpText}, nil
	case "settings":
		return Response{Text: describe(h.store.Snapshot()), Keyboard: mainMenu()}, nil
	case "track":
		return h.setTracking(ctx, true)
	case "untrack":
		return h.setTracking(ctx, false)
	case "addgroup":
		added, err := h.store.AddChat(ctx, req.ChatID)
		if err != nil {
			return Response{}, err
		}
		if !added {
			return Response{Text: "This chat is already subscribed to buy alerts."}, nil
		}
		log.LogInfo("Chat subscribed", zap.Int64("chatID", req.ChatID))
		return Response{Text: "This chat will now receive buy alerts."}, nil
	case "removegroup":
		removed, err := h.store.RemoveChat(ctx, req.ChatID)
		if err != nil {
			return Response{}, err
		}
		if !removed {
			return Response{Text: "This chat was not subscribed."}, nil
		}
		log.LogInfo("Chat unsubscribed", zap.Int64("chatID", req.ChatID))
		return Response{Text: "This chat will no longer receive buy alerts."}, nil
	case "setemojis":
		if args == "" {
			h.conv.Enter(req.ChatID, AwaitingEmoji)
			return Response{Text: "Send the emojis to use, separated by spaces."}, nil
		}
		return h.setEmojis(ctx, args)
	case "setlayout":
		layout, err := settings.ParseLayout(args)
		if err != nil {
			return Response{Keyboard: mainMenu()}, err
		}
		return h.setLayout(ctx, layout)
	case "setbuystep":
		if args == "" {
			h.conv.Enter(req.ChatID, AwaitingBuyStep)
			return Response{Text: "Send the new buy step (quote amount per emoji)."}, nil
		}
		return h.setBuyStep(ctx, args)
	case "setminbuy":
		v, err := parseArg(args, "Usage: /setminbuy 0.1")
		if err != nil {
			return Response{}, err
		}
		st, err := h.store.SetMinBuy(ctx, v)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: "Minimum buy set to " + humanize.Ftoa(st.MinBuyAmount) + "."}, nil
	case "setsupply":
		v, err := parseArg(args, "Usage: /setsupply 1000000000")
		if err != nil {
			return Response{}, err
		}
		st, err := h.store.SetSupply(ctx, v)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: "Token supply set to " + humanize.Commaf(st.TokenSupply) + "."}, nil
	case "setcharturl":
		if args == "" {
			return Response{}, faults.Invalid("Usage: /setcharturl https://dexscreener.com/...")
		}
		st, err := h.store.SetChartURL(ctx, args)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: "Chart URL set: " + html.EscapeString(st.DexScreenerURL)}, nil
	case "setbuyimage":
		fileID := h.conv.TakePendingImage(req.ChatID)
		if fileID == "" {
			return Response{Text: "No image uploaded. Please upload an image first.", Keyboard: mainMenu()}, nil
		}
		if _, err := h.store.SetBuyImage(ctx, fileID); err != nil {
			return Response{}, err
		}
		return Response{Text: "Buy image updated successfully.", Keyboard: mainMenu()}, nil
	case "toggle_shuffle":
		return h.toggleShuffle(ctx)
	case "buy":
		return h.simulateBuy(req.ChatID, args)
	default:
		return Response{Text: "Unknown command. Use /help to see what I can do."}, nil
	}
}

func (h *Handler) callback(ctx context.Context, req Request) (Response, error) {
	data := req.Callback

	if layout, ok := strings.CutPrefix(data, CallbackLayoutPrefix); ok {
		l, err := settings.ParseLayout(layout)
		if err != nil {
			return Response{}, err
		}
		return h.setLayout(ctx, l)
	}

	switch data {
	case CallbackActivate:
		return h.setTracking(ctx, true)
	case CallbackDeactivate:
		return h.setTracking(ctx, false)
	case CallbackSetImage:
		h.conv.Enter(req.ChatID, AwaitingImage)
		return Response{Text: "Please upload a new image."}, nil
	case CallbackSetBuyStep:
		h.conv.Enter(req.ChatID, AwaitingBuyStep)
		return Response{Text: "Send the new buy step (quote amount per emoji)."}, nil
	case CallbackSetEmojis:
		h.conv.Enter(req.ChatID, AwaitingEmoji)
		return Response{Text: "Send the emojis to use, separated by spaces."}, nil
	case CallbackToggleShuffle:
		return h.toggleShuffle(ctx)
	default:
		return Response{}, faults.Invalid("That button is no longer supported. Use /start for a fresh menu.")
	}
}

// photo confirms the image right away when the menu asked for one; otherwise
// the upload is held until /setbuyimage.
func (h *Handler) photo(ctx context.Context, req Request) (Response, error) {
	if h.conv.State(req.ChatID) == AwaitingImage {
		h.conv.Reset(req.ChatID)
		if _, err := h.store.SetBuyImage(ctx, req.PhotoFileID); err != nil {
			return Response{}, err
		}
		return Response{Text: "Buy image updated successfully.", Keyboard: mainMenu()}, nil
	}
	h.conv.SetPendingImage(req.ChatID, req.PhotoFileID)
	return Response{Text: "Image received. Use /setbuyimage to confirm and set this as the new buy image.", Keyboard: mainMenu()}, nil
}

// reply consumes one free-text answer; the chat returns to Idle even when the input is rejected.
func (h *Handler) reply(ctx context.Context, req Request) (Response, error) {
	switch h.conv.Consume(req.ChatID) {
	case AwaitingEmoji:
		return h.setEmojis(ctx, req.Text)
	case AwaitingBuyStep:
		return h.setBuyStep(ctx, req.Text)
	case AwaitingImage:
		return Response{Text: "That is not an image. Open the menu with /start to try again."}, nil
	default:
		return Response{}, nil
	}
}

func (h *Handler) setTracking(ctx context.Context, enabled bool) (Response, error) {
	if _, err := h.store.SetTracking(ctx, enabled); err != nil {
		return Response{}, err
	}
	text := "Tracking deactivated!"
	if enabled {
		text = "Tracking activated!"
	}
	return Response{Text: text, Keyboard: mainMenu(), Notice: text}, nil
}

func (h *Handler) setEmojis(ctx context.Context, raw string) (Response, error) {
	st, err := h.store.SetEmojis(ctx, strings.Fields(raw))
	if err != nil {
		return Response{}, err
	}
	return Response{Text: "Emojis set: " + html.EscapeString(strings.Join(st.CustomEmojis, " "))}, nil
}

func (h *Handler) setLayout(ctx context.Context, layout settings.Layout) (Response, error) {
	if _, err := h.store.SetLayout(ctx, layout); err != nil {
		return Response{}, err
	}
	text := fmt.Sprintf("Layout set to %s: %s", layout, strings.Join(layout.Glyphs(), ""))
	return Response{Text: text, Notice: "Layout: " + string(layout)}, nil
}

func (h *Handler) setBuyStep(ctx context.Context, raw string) (Response, error) {
	v, err := parseArg(raw, "Usage: /setbuystep 0.5")
	if err != nil {
		return Response{}, err
	}
	st, err := h.store.SetBuyStep(ctx, v)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: "Buy step set to " + humanize.Ftoa(st.BuyStep) + "."}, nil
}

func (h *Handler) toggleShuffle(ctx context.Context) (Response, error) {
	st, err := h.store.ToggleShuffle(ctx)
	if err != nil {
		return Response{}, err
	}
	text := "Emoji shuffle " + onOff(st.Shuffle) + "."
	return Response{Text: text, Notice: text}, nil
}

func (h *Handler) simulateBuy(chatID int64, args string) (Response, error) {
	amount, err := parseArg(args, "Usage: /buy 1.5")
	if err != nil {
		return Response{}, err
	}
	if !(amount > 0) {
		return Response{}, faults.Invalid("Buy amount must be greater than 0.")
	}
	if h.trigger == nil {
		return Response{Text: "Simulated buys are not available in this mode."}, nil
	}

	now := h.now()
	ev := buys.BuyEvent{
		Signature: fmt.Sprintf("manual-%d-%d", chatID, now.UnixNano()),
		Amount:    amount,
		Timestamp: now,
		Origin:    buys.OriginManual,
	}
	if h.trigger.Trigger([]buys.BuyEvent{ev}) == 0 {
		st := h.store.Snapshot()
		if !st.TrackingEnabled {
			return Response{Text: "Buy ignored: tracking is off. Use /track first."}, nil
		}
		return Response{Text: "Buy ignored: below the minimum of " + humanize.Ftoa(st.MinBuyAmount) + "."}, nil
	}
	return Response{Text: "Simulated buy of " + humanize.Ftoa(amount) + " queued."}, nil
}

func (h *Handler) allowed(req Request, name string) bool {
	if len(h.admins) == 0 {
		return true
	}
	switch name {
	case "start", "help", "settings":
		return true
	}
	_, chatOK := h.admins[req.ChatID]
	_, userOK := h.admins[req.UserID]
	return chatOK || userOK
}

func (h *Handler) deny(req Request, name string) Response {
	h.metrics.Command(name, "denied")
	log.LogWarn("Operator action denied",
		zap.String("action", name),
		zap.Int64("chatID", req.ChatID),
		zap.Int64("userID", req.UserID))
	return Response{Text: "Only bot admins can change settings.", ReplyTo: req.MessageID, Notice: "Not allowed"}
}

func (h *Handler) failure(name string, req Request, err error) Response {
	if errors.Is(err, faults.ErrInvalidInput) {
		h.metrics.Command(name, "invalid")
		return Response{Text: err.Error(), Notice: err.Error()}
	}
	h.metrics.Command(name, "error")
	log.LogError("Operator action failed",
		zap.String("action", name),
		zap.Int64("chatID", req.ChatID),
		zap.String("kind", string(faults.KindOf(err))),
		zap.Error(err))
	return Response{Text: "Something went wrong, please try again."}
}

func parseArg(raw, usage string) (float64, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, faults.Invalid(usage)
	}
	return settings.ParseAmount(fields[0])
}
