package buys

import (
	"fmt"
	"html"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"buybot/internal/clients_api/dexscreener"
	"buybot/internal/features/buycard"
	log "buybot/internal/infra/log"
	"buybot/internal/settings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	notAvailable = "Not available"
	unavailable  = "unavailable"
)

// Image is either a Telegram file id or a rendered PNG.
type Image struct {
	FileID string
	PNG    []byte
}

type Button struct {
	Text string
	URL  string
}

type Notification struct {
	Signature string
	Text      string // HTML
	Image     *Image
	Buttons   []Button
}

type ComposerOptions struct {
	ExplorerTxURL      string // printf pattern, one %s
	ExplorerAccountURL string // printf pattern, one %s
	MaxEmojis          int
	RenderCard         bool
	Rand               *rand.Rand // nil seeds from time
}

type Composer struct {
	opts ComposerOptions
	rnd  *rand.Rand
}

func NewComposer(opts ComposerOptions) *Composer {
	rnd := opts.Rand
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Composer{opts: opts, rnd: rnd}
}

// Compose builds the notification for one buy. market may be nil when the
// market lookup failed; every field it would fill falls back to a placeholder.
func (c *Composer) Compose(ev BuyEvent, market *dexscreener.Snapshot, st settings.Settings) Notification {
	if market == nil {
		market = &dexscreener.Snapshot{}
	}

	usd := ev.Amount
	if market.QuotePriceUSD > 0 {
		usd = ev.Amount * market.QuotePriceUSD
	}

	count := EmojiCount(ev.Amount, st.BuyStep)
	emojis := EmojiLine(count, st, c.opts.MaxEmojis, c.rnd)

	symbol := market.TokenSymbol
	title := "New Buy!"
	if market.TokenName != "" && symbol != "" {
		title = fmt.Sprintf("%s (%s) Buy!", market.TokenName, symbol)
	} else if symbol != "" {
		title = symbol + " Buy!"
	}

	spent := "$" + humanize.FormatFloat("#,###.##", usd)
	if market.QuoteTokenSymbol != "" {
		spent += fmt.Sprintf(" (%s %s)", trimFloat(ev.Amount), html.EscapeString(market.QuoteTokenSymbol))
	}

	quantity := unavailable
	if market.PriceUSD > 0 {
		quantity = humanize.FormatFloat("#,###.###", usd/market.PriceUSD)
		if symbol != "" {
			quantity += " " + html.EscapeString(symbol)
		}
	}

	price := notAvailable
	if market.PriceUSD > 0 {
		price = fmt.Sprintf("$%.8f", market.PriceUSD)
	}

	marketCap := market.MarketCapUSD
	if marketCap == 0 && market.PriceUSD > 0 {
		marketCap = market.PriceUSD * st.TokenSupply
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(title))
	if emojis != "" {
		b.WriteString(emojis)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "💵 Spent - %s\n", spent)
	fmt.Fprintf(&b, "🪙 Got - %s\n", quantity)
	fmt.Fprintf(&b, "💲 Price - %s\n", price)
	fmt.Fprintf(&b, "📊 Market cap - %s\n", usdInt(marketCap))
	fmt.Fprintf(&b, "💧 Liquidity - %s\n", usdInt(market.LiquidityUSD))
	fmt.Fprintf(&b, "📈 24h volume - %s\n", usdInt(market.Volume24hUSD))

	b.WriteString("<blockquote>")
	if ev.Buyer != "" {
		fmt.Fprintf(&b, "Buyer - %s\n", c.link(c.opts.ExplorerAccountURL, ev.Buyer, shorten(ev.Buyer)))
	}
	fmt.Fprintf(&b, "Tx - %s", c.link(c.opts.ExplorerTxURL, ev.Signature, shorten(ev.Signature)))
	b.WriteString("</blockquote>\n")

	status := "Paused"
	if st.TrackingEnabled {
		status = "Active"
	}
	fmt.Fprintf(&b, "Tracking - %s", status)

	n := Notification{
		Signature: ev.Signature,
		Text:      b.String(),
		Buttons:   buttons(st.DexScreenerURL, market.PairURL),
	}

	switch {
	case st.BuyImageFileID != "":
		n.Image = &Image{FileID: st.BuyImageFileID}
	case c.opts.RenderCard:
		png, err := buycard.Render(buycard.Card{
			Title:    title,
			SpentUSD: "$" + humanize.FormatFloat("#,###.##", usd),
			Rows: [][2]string{
				{"Got", quantity},
				{"Price", price},
				{"Market cap", usdInt(marketCap)},
			},
			Fill: float64(count) / float64(max(c.opts.MaxEmojis, DefaultMaxEmojis)),
		})
		if err != nil {
			log.LogWarn("Failed to render buy card, sending text only",
				zap.String("signature", ev.Signature), zap.Error(err))
		} else {
			n.Image = &Image{PNG: png}
		}
	}
	return n
}

func (c *Composer) link(pattern, id, label string) string {
	if id == "" {
		return notAvailable
	}
	if pattern == "" || !strings.Contains(pattern, "%s") {
		return html.EscapeString(label)
	}
	return fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(fmt.Sprintf(pattern, id)), html.EscapeString(label))
}

func buttons(chartURL, pairURL string) []Button {
	link := chartURL
	if link == "" {
		link = pairURL
	}
	if link == "" {
		return nil
	}
	return []Button{
		{Text: "🛒 Buy", URL: link},
		{Text: "📈 Chart", URL: link},
	}
}

func usdInt(v float64) string {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return notAvailable
	}
	return "$" + humanize.Comma(int64(math.Round(v)))
}

// trimFloat prints up to 6 decimals without trailing zeros.
func trimFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

func shorten(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}
