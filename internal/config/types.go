package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultEndpoint = "https://kp.itzdrli.cc"
	DefaultInterval = "30m"
	DefaultLocale   = "en"
)

type Config struct {
	Market    MarketConfig    `json:"market"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Render    RenderConfig    `json:"render"`
	Bots      []BotConfig     `json:"bots"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// MarketConfig controls polling and diffing. Durations are Go duration
// strings.
type MarketConfig struct {
	Endpoint        string   `json:"endpoint"`
	Interval        Schedule `json:"interval"`
	FetchTimeout    string   `json:"fetch_timeout,omitempty"`
	ShowHidden      bool     `json:"show_hidden"`
	ShowDeletion    bool     `json:"show_deletion"`
	ShowPublisher   bool     `json:"show_publisher"`
	ShowDescription bool     `json:"show_description"`
}

// Schedule is a poll schedule: a Go duration ("30m"), bare milliseconds
// (1800000 or "1800000"), "HH:MM" or a cron expression. JSON numbers are
// accepted as milliseconds.
type Schedule string

func (s *Schedule) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Schedule(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("schedule must be a string or milliseconds: %w", err)
	}
	ms, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("schedule milliseconds %q: %w", n, err)
	}
	*s = Schedule(strconv.FormatInt(ms, 10))
	return nil
}

type BroadcastConfig struct {
	Delay       string       `json:"delay,omitempty"`
	SendTimeout string       `json:"send_timeout,omitempty"`
	Rules       []RuleConfig `json:"rules"`
}

// RuleConfig is one broadcast destination, in delivery order.
type RuleConfig struct {
	Platform  string `json:"platform"`
	BotID     string `json:"bot_id"`
	ChannelID ID     `json:"channel_id"`
	GuildID   ID     `json:"guild_id,omitempty"`
}

// ID is a channel or guild identifier. Unquoted numbers are accepted since
// chat ids are numeric on some platforms.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type RenderConfig struct {
	Locale     string           `json:"locale,omitempty"`
	Screenshot ScreenshotConfig `json:"screenshot"`
}

// ScreenshotConfig points at a browserless-compatible /screenshot endpoint.
// An empty endpoint selects the text fallback.
type ScreenshotConfig struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	Width    int    `json:"width,omitempty"`
}

// BotConfig declares one bot. Token/PollTimeout/OwnerUserIDs apply to
// telegram, Path to dir.
type BotConfig struct {
	Platform     string  `json:"platform"`
	ID           string  `json:"id"`
	Token        string  `json:"token,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	Path         string  `json:"path,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Operator LoggingOperator `json:"operator"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOperator forwards warnings and errors to a chat.
type LoggingOperator struct {
	Enabled    bool   `json:"enabled"`
	BotID      string `json:"bot_id"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional delivery audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./marketwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ApplyDefaults fills omitted fields.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Market.Endpoint) == "" {
		c.Market.Endpoint = DefaultEndpoint
	}
	if strings.TrimSpace(string(c.Market.Interval)) == "" {
		c.Market.Interval = DefaultInterval
	}
	if strings.TrimSpace(c.Render.Locale) == "" {
		c.Render.Locale = DefaultLocale
	}
	if c.Render.Screenshot.Width <= 0 {
		c.Render.Screenshot.Width = 1280
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Operator.MinLevel == "" {
		c.Logging.Operator.MinLevel = "warn"
	}
	if c.Logging.Operator.RatePerSec <= 0 {
		c.Logging.Operator.RatePerSec = 1
	}
}

// Bot returns the bot declared as (platform, id).
func (c *Config) Bot(platform, id string) (BotConfig, bool) {
	for _, b := range c.Bots {
		if strings.EqualFold(b.Platform, platform) && b.ID == id {
			return b, true
		}
	}
	return BotConfig{}, false
}
