package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"

	"marketwatch/internal/market"
)

//go:embed templates/cards.html
var defaultTemplate string

// Theme colors of the card document.
type Theme struct {
	Background template.CSS
	Foreground template.CSS
	Card       template.CSS
}

// DarkTheme is the only theme shipped.
var DarkTheme = Theme{Background: "#2e3440", Foreground: "#ffffff", Card: "#434c5e"}

type cardView struct {
	Kind           string
	Title          string
	Publisher      string
	PublisherLabel string
	Body           template.HTML
}

type pageView struct {
	Lang   string
	Title  string
	Header string
	Theme  Theme
	Cards  []cardView
}

func parseTemplate(templateFile string) (*template.Template, error) {
	src := defaultTemplate
	if templateFile != "" {
		data, err := os.ReadFile(templateFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read template: %w", err)
		}
		src = string(data)
	}
	tpl, err := template.New("cards").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("cannot parse template: %w", err)
	}
	return tpl, nil
}

// CardTitle is the heading of one card, e.g. "Added: foo (1.0.0)".
func CardTitle(loc Locale, c market.Change) string {
	switch c.Kind {
	case market.KindAdded:
		return fmt.Sprintf("%s%s%s (%s)", loc.Added, loc.Sep, c.Name, c.Version)
	case market.KindUpdated:
		return fmt.Sprintf("%s%s%s (%s → %s)", loc.Updated, loc.Sep, c.Name, c.OldVersion, c.NewVersion)
	case market.KindRemoved:
		return loc.Removed + loc.Sep + c.Name
	default:
		return c.Name
	}
}

// document builds the card markup. Titles and publishers are escaped by the
// template; descriptions go through the markdown converter.
func (r *Renderer) document(changes []market.Change) (string, error) {
	view := pageView{
		Lang:   r.locale.Code,
		Title:  r.locale.Title,
		Header: r.locale.Header,
		Theme:  DarkTheme,
		Cards:  make([]cardView, 0, len(changes)),
	}
	for _, c := range changes {
		cv := cardView{
			Kind:           c.Kind.String(),
			Title:          CardTitle(r.locale, c),
			PublisherLabel: r.locale.Publisher,
		}
		if c.Kind == market.KindAdded {
			cv.Publisher = c.Publisher
			body, err := markdownToHTML(r.md, c.Description)
			if err != nil {
				return "", fmt.Errorf("card %s: %w", c.Name, err)
			}
			cv.Body = body
		}
		view.Cards = append(view.Cards, cv)
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("cannot execute template: %w", err)
	}
	return buf.String(), nil
}
