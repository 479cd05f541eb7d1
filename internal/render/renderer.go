// Package render turns a change set into the single artifact that gets
// broadcast: a card document rendered to an image, or a text report when no
// screenshot service is configured.
package render

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/dustin/go-humanize"

	"marketwatch/internal/market"
	"marketwatch/internal/transport"
	"marketwatch/pkg/logx"
)

// ErrNoChanges is returned when Render is called with an empty change set.
var ErrNoChanges = errors.New("render: no changes")

type Options struct {
	Locale string
	// TemplateFile overrides the embedded card template.
	TemplateFile string
	// Screenshotter renders the document to PNG. Nil selects the text
	// fallback.
	Screenshotter Screenshotter
	Markdown      Markdown
	Log           logx.Logger
}

type Renderer struct {
	locale Locale
	md     Markdown
	shot   Screenshotter
	tpl    *template.Template
	log    logx.Logger
}

func New(opt Options) (*Renderer, error) {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	tpl, err := parseTemplate(opt.TemplateFile)
	if err != nil {
		return nil, err
	}
	md := opt.Markdown
	if md == nil {
		md = NewMarkdown()
	}
	return &Renderer{
		locale: LookupLocale(opt.Locale),
		md:     md,
		shot:   opt.Screenshotter,
		tpl:    tpl,
		log:    log.With(logx.String("comp", "render")),
	}, nil
}

func (r *Renderer) Locale() Locale { return r.locale }

// Document returns the card markup for changes without rendering it.
func (r *Renderer) Document(changes []market.Change) (string, error) {
	if len(changes) == 0 {
		return "", ErrNoChanges
	}
	return r.document(changes)
}

// Render produces one artifact for the whole change set, cards in the given
// order. Errors are returned to the caller; nothing is sent from here.
func (r *Renderer) Render(ctx context.Context, changes []market.Change) (transport.Artifact, error) {
	if len(changes) == 0 {
		return transport.Artifact{}, ErrNoChanges
	}
	if r.shot == nil {
		return r.textArtifact(changes), nil
	}

	doc, err := r.document(changes)
	if err != nil {
		return transport.Artifact{}, err
	}
	start := time.Now()
	img, err := r.shot.Screenshot(ctx, doc)
	if err != nil {
		return transport.Artifact{}, fmt.Errorf("render %d cards: %w", len(changes), err)
	}
	r.log.Debug("cards rendered",
		logx.Int("cards", len(changes)),
		logx.String("size", humanize.Bytes(uint64(len(img)))),
		logx.Duration("took", time.Since(start)),
	)
	return transport.Artifact{
		Image:   img,
		Name:    "market-" + time.Now().UTC().Format("20060102-150405") + ".png",
		Caption: r.locale.Title,
	}, nil
}
