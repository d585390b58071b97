package operator

import (
	"fmt"
	"html"
	"strings"

	"buybot/internal/settings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
)

// Callback data carried by the inline menu buttons.
const (
	CallbackActivate      = "activate"
	CallbackDeactivate    = "deactivate"
	CallbackSetImage      = "set_image"
	CallbackSetBuyStep    = "set_buy_step"
	CallbackSetEmojis     = "set_emojis"
	CallbackToggleShuffle = "toggle_shuffle"
	CallbackLayoutPrefix  = "layout:"
)

const helpText = `<b>Buy Bot commands</b>
/start - show the settings menu
/settings - show current settings
/track, /untrack - turn buy alerts on or off
/addgroup, /removegroup - subscribe or unsubscribe this chat
/setemojis 🚀 🌕 - emojis repeated per buy step
/setlayout default|festive|simple - preset emoji layout
/setbuystep 0.5 - quote amount per emoji
/setminbuy 0.1 - ignore smaller buys
/setsupply 1000000000 - total supply for market cap
/setcharturl https://... - chart and buy link
/setbuyimage - use the last uploaded photo
/toggle_shuffle - shuffle emoji order
/buy 1.5 - simulate a buy`

func mainMenu() [][]Button {
	layouts := lo.Map(settings.Layouts(), func(l settings.Layout, _ int) Button {
		return Button{Text: strings.ToUpper(string(l[:1])) + string(l[1:]), Data: CallbackLayoutPrefix + string(l)}
	})
	return [][]Button{
		{
			{Text: "✅ Activate", Data: CallbackActivate},
			{Text: "⛔ Deactivate", Data: CallbackDeactivate},
		},
		{{Text: "🖼 Set Buy Image", Data: CallbackSetImage}},
		{{Text: "💲 Buy Step", Data: CallbackSetBuyStep}},
		{{Text: "😀 Emojis", Data: CallbackSetEmojis}},
		layouts,
		{{Text: "🔀 Shuffle", Data: CallbackToggleShuffle}},
	}
}

func describe(st settings.Settings) string {
	var b strings.Builder
	b.WriteString("<b>Current settings</b>\n")
	fmt.Fprintf(&b, "Tracking - %s\n", onOff(st.TrackingEnabled))
	fmt.Fprintf(&b, "Min buy - %s\n", humanize.Ftoa(st.MinBuyAmount))
	fmt.Fprintf(&b, "Buy step - %s\n", humanize.Ftoa(st.BuyStep))
	fmt.Fprintf(&b, "Token supply - %s\n", humanize.Commaf(st.TokenSupply))
	emojis := strings.Join(st.CustomEmojis, " ")
	if emojis == "" {
		emojis = "layout"
	}
	fmt.Fprintf(&b, "Emojis - %s\n", html.EscapeString(emojis))
	fmt.Fprintf(&b, "Layout - %s\n", st.SelectedEmojiLayout)
	fmt.Fprintf(&b, "Shuffle - %s\n", onOff(st.Shuffle))
	fmt.Fprintf(&b, "Buy image - %s\n", lo.Ternary(st.BuyImageFileID != "", "set", "none"))
	fmt.Fprintf(&b, "Chart URL - %s\n", lo.Ternary(st.DexScreenerURL != "", html.EscapeString(st.DexScreenerURL), "none"))
	fmt.Fprintf(&b, "Subscribed chats - %d", len(st.SubscribedChats))
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
