package httpserver

// HTTP surface of the bot: Prometheus metrics, a health check, the Telegram
// webhook and a push endpoint for buys detected by an external indexer.

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"buybot/internal/features/buys"
	log "buybot/internal/infra/log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20
	// SecretHeader carries the shared secret of the chain webhook.
	SecretHeader = "X-Webhook-Secret"
)

// UpdateHandler consumes Telegram updates delivered by webhook.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// BuyTrigger accepts pushed buy events.
type BuyTrigger interface {
	Trigger(events []buys.BuyEvent) int
}

type Options struct {
	Addr          string
	Metrics       http.Handler
	Updates       UpdateHandler // nil disables /webhook/telegram
	Buys          BuyTrigger    // nil disables /webhook/chain
	WebhookSecret string
}

// PushedBuy is one element of the /webhook/chain JSON array.
type PushedBuy struct {
	Signature   string  `json:"signature"`
	Amount      float64 `json:"amount"`
	TokenAmount float64 `json:"tokenAmount"`
	Buyer       string  `json:"buyer"`
	Timestamp   int64   `json:"timestamp"` // unix seconds; 0 means now
}

type Server struct {
	opts Options
	srv  *http.Server
}

func New(opts Options) *Server {
	s := &Server{opts: opts}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the request mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	if s.opts.Updates != nil {
		mux.HandleFunc("POST /webhook/telegram", s.telegramWebhook)
	}
	if s.opts.Buys != nil {
		mux.HandleFunc("POST /webhook/chain", s.chainWebhook)
	}
	return mux
}

// Start listens in the background. The returned error covers only binding.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	log.LogSuccess("HTTP server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

func (s *Server) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&update); err != nil {
		log.LogWarn("Bad telegram webhook payload", zap.Error(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	// Telegram only needs a 2xx; the reply goes out through the Bot API
	s.opts.Updates.HandleUpdate(r.Context(), update)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) chainWebhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebhookSecret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.WebhookSecret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var pushed []PushedBuy
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&pushed); err != nil {
		http.Error(w, "expected a JSON array of buys", http.StatusBadRequest)
		return
	}

	events := make([]buys.BuyEvent, 0, len(pushed))
	for _, p := range pushed {
		if p.Amount <= 0 {
			continue
		}
		ts := time.Now()
		if p.Timestamp > 0 {
			ts = time.Unix(p.Timestamp, 0)
		}
		events = append(events, buys.BuyEvent{
			Signature:   strings.TrimSpace(p.Signature),
			Amount:      p.Amount,
			TokenAmount: p.TokenAmount,
			Buyer:       strings.TrimSpace(p.Buyer),
			Timestamp:   ts,
			Origin:      buys.OriginWebhook,
		})
	}

	accepted := s.opts.Buys.Trigger(events)
	log.LogInfo("Chain webhook received",
		zap.Int("received", len(pushed)),
		zap.Int("accepted", accepted))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"received": len(pushed), "accepted": accepted})
}
