package buycard

// PNG buy card attached to notifications when no custom buy image is set.

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"sync"

	logging "buybot/internal/infra/log"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
)

const (
	cardWidth  = 1200
	cardHeight = 630

	marginX = 80.0

	titleY      = 120.0
	spentLabelY = 220.0
	spentValueY = 320.0
	rowsStartY  = 420.0
	rowStep     = 56.0
	valueX      = 520.0

	barTop    = 570.0
	barHeight = 24.0
	barWidth  = cardWidth - 2*marginX

	titleFontSize = 64.0
	labelFontSize = 34.0
	valueFontSize = 96.0
	rowFontSize   = 36.0
)

var (
	background = color.RGBA{13, 17, 23, 255}
	green      = color.RGBA{0, 200, 83, 255}
	grey       = color.RGBA{139, 148, 158, 255}
	barTrack   = color.RGBA{48, 54, 61, 255}
)

// Card is the data printed on the image. Values arrive preformatted.
type Card struct {
	Title    string // e.g. "COON Buy!"
	SpentUSD string
	Rows     [][2]string // label, value
	// Fill is 0..1, the share of the bar to paint (buy size relative to the emoji cap).
	Fill float64
}

var fontPaths = []string{
	"etc/fonts/Inter-Regular.ttf",
	"etc/fonts/InterVariable.ttf",
	"/usr/share/fonts/truetype/inter/Inter-Regular.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
}

var (
	fontOnce sync.Once
	fontPath string
)

func findFont() string {
	fontOnce.Do(func() {
		for _, p := range fontPaths {
			if _, err := os.Stat(p); err == nil {
				fontPath = p
				logging.LogDebug("Buy card font found", zap.String("path", p))
				return
			}
		}
		logging.LogWarn("No TTF font found for buy card, using built-in face", zap.Int("paths_checked", len(fontPaths)))
	})
	return fontPath
}

// Render draws the card and returns PNG bytes.
func Render(c Card) ([]byte, error) {
	dc := gg.NewContext(cardWidth, cardHeight)
	dc.SetColor(background)
	dc.Clear()

	font := findFont()
	face := func(size float64) {
		if font == "" {
			return
		}
		if err := dc.LoadFontFace(font, size); err != nil {
			logging.LogWarn("Failed to load buy card font", zap.String("path", font), zap.Error(err))
		}
	}

	face(titleFontSize)
	dc.SetColor(color.White)
	dc.DrawString(c.Title, marginX, titleY)

	face(labelFontSize)
	dc.SetColor(grey)
	dc.DrawString("Spent", marginX, spentLabelY)

	face(valueFontSize)
	dc.SetColor(green)
	dc.DrawString(c.SpentUSD, marginX, spentValueY)

	face(rowFontSize)
	for i, row := range c.Rows {
		y := rowsStartY + float64(i)*rowStep
		if y > barTop-rowStep/2 {
			break
		}
		dc.SetColor(grey)
		dc.DrawString(row[0], marginX, y)
		dc.SetColor(color.White)
		dc.DrawString(row[1], valueX, y)
	}

	fill := c.Fill
	if fill < 0 {
		fill = 0
	}
	if fill > 1 {
		fill = 1
	}
	dc.SetColor(barTrack)
	dc.DrawRoundedRectangle(marginX, barTop, barWidth, barHeight, barHeight/2)
	dc.Fill()
	if fill > 0 {
		dc.SetColor(green)
		dc.DrawRoundedRectangle(marginX, barTop, barWidth*fill, barHeight, barHeight/2)
		dc.Fill()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode buy card: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("buy card is empty after rendering")
	}
	return buf.Bytes(), nil
}
