package render

import (
	"strings"

	"marketwatch/internal/market"
	"marketwatch/internal/transport"
	"marketwatch/pkg/tgui"
)

const textDescriptionRunes = 200

// Text renders the change set as Telegram HTML, one entry per change in the
// given order.
func (r *Renderer) Text(changes []market.Change) string {
	b := tgui.New().Title("", r.locale.Header)
	for _, c := range changes {
		b.Line("• " + CardTitle(r.locale, c))
		if c.Kind != market.KindAdded {
			continue
		}
		if c.Publisher != "" {
			b.HTML("   " + tgui.I(r.locale.Publisher+": @"+c.Publisher))
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			d = strings.Join(strings.Fields(d), " ")
			b.Line("   " + tgui.TruncRunes(d, textDescriptionRunes))
		}
	}
	return b.Build().Text
}

func (r *Renderer) textArtifact(changes []market.Change) transport.Artifact {
	return transport.Artifact{Text: r.Text(changes), ParseMode: "HTML"}
}
