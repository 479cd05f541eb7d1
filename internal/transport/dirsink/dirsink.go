// Package dirsink is the "dir" platform: a bot that archives every artifact
// it is asked to send into a directory tree instead of a chat.
package dirsink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"marketwatch/internal/transport"
	"marketwatch/pkg/logx"
)

const Platform = "dir"

type Config struct {
	ID   string
	Path string
}

// Sink writes artifacts to <path>/[<guild>/]<channel>/<time>-<id>.<ext>.
type Sink struct {
	cfg Config
	fs  afero.Fs
	log logx.Logger
	now func() time.Time
}

// New returns a Sink on fs; a nil fs means the OS filesystem.
func New(cfg Config, fs afero.Fs, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.New("dir bot id is empty")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("dir bot path is empty")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{
		cfg: cfg,
		fs:  fs,
		log: log.With(logx.String("comp", "dirsink"), logx.String("bot", cfg.ID)),
		now: time.Now,
	}, nil
}

func (s *Sink) Platform() string { return Platform }
func (s *Sink) ID() string       { return s.cfg.ID }

// Start creates the root directory. The sink has no inbound updates.
func (s *Sink) Start(context.Context, chan<- transport.Update) error {
	return s.fs.MkdirAll(s.cfg.Path, 0o755)
}

func (s *Sink) Stop(context.Context) error { return nil }

func (s *Sink) Send(ctx context.Context, channelID string, a transport.Artifact, guildID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel, err := segment(channelID)
	if err != nil {
		return err
	}
	dir := s.cfg.Path
	if strings.TrimSpace(guildID) != "" {
		guild, err := segment(guildID)
		if err != nil {
			return err
		}
		dir = filepath.Join(dir, guild)
	}
	dir = filepath.Join(dir, channel)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	base := s.now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
	name, data := base+extension(a), a.Image
	if !a.IsImage() {
		data = []byte(a.Text)
	}
	path := filepath.Join(dir, name)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if a.IsImage() && a.Caption != "" {
		if err := afero.WriteFile(s.fs, filepath.Join(dir, base+".caption.txt"), []byte(a.Caption), 0o644); err != nil {
			return fmt.Errorf("write caption: %w", err)
		}
	}
	s.log.Debug("artifact archived", logx.String("path", path), logx.Int("bytes", len(data)))
	return nil
}

func extension(a transport.Artifact) string {
	switch {
	case a.IsImage():
		if ext := filepath.Ext(a.Name); ext != "" {
			return ext
		}
		return ".png"
	case strings.EqualFold(a.ParseMode, "HTML"):
		return ".html"
	default:
		return ".txt"
	}
}

// segment turns an id into a single safe path element.
func segment(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", transport.ErrUnknownChannel, id)
	}
	return id, nil
}

var _ transport.Bot = (*Sink)(nil)
