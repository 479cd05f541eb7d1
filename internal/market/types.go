// Package market models the plugin catalog: its wire format, the normalized
// snapshot kept between polls, and the change set computed from two snapshots.
package market

import (
	"bytes"
	"encoding/json"
)

// Catalog is the raw document served by the market endpoint.
type Catalog struct {
	Objects []CatalogObject `json:"objects"`
}

type CatalogObject struct {
	ShortName string          `json:"shortname"`
	Package   CatalogPackage  `json:"package"`
	Manifest  CatalogManifest `json:"manifest"`
}

type CatalogPackage struct {
	Version   string            `json:"version"`
	Publisher *CatalogPublisher `json:"publisher,omitempty"`
}

type CatalogPublisher struct {
	Username string `json:"username"`
}

// UnmarshalJSON keeps the username only when publisher is an object with a
// string username; other shapes leave it empty.
func (p *CatalogPublisher) UnmarshalJSON(b []byte) error {
	*p = CatalogPublisher{}
	var raw struct {
		Username json.RawMessage `json:"username"`
	}
	if json.Unmarshal(b, &raw) != nil {
		return nil
	}
	var name string
	if json.Unmarshal(raw.Username, &name) == nil {
		p.Username = name
	}
	return nil
}

type CatalogManifest struct {
	Hidden      bool         `json:"hidden"`
	Description *Description `json:"description,omitempty"`
}

// Description is either a plain string or a locale-keyed map.
type Description struct {
	Text    string
	Locales map[string]string
}

// Description locales in preference order.
var descriptionLocales = []string{"zh", "en"}

// UnmarshalJSON accepts a string or a locale map. Any other shape, and any
// non-string locale value, decodes to an empty description rather than an
// error: one bad manifest must not fail the whole catalog.
func (d *Description) UnmarshalJSON(b []byte) error {
	*d = Description{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if json.Unmarshal(b, &s) == nil {
			d.Text = s
		}
	case '{':
		var raw map[string]json.RawMessage
		if json.Unmarshal(b, &raw) != nil {
			return nil
		}
		locales := make(map[string]string, len(raw))
		for k, v := range raw {
			var s string
			if json.Unmarshal(v, &s) == nil {
				locales[k] = s
			}
		}
		d.Locales = locales
	}
	return nil
}

func (d Description) MarshalJSON() ([]byte, error) {
	if d.Locales != nil {
		return json.Marshal(d.Locales)
	}
	return json.Marshal(d.Text)
}

// Resolve returns the display text: the plain string, else the zh locale,
// else en. Other locales are ignored.
func (d *Description) Resolve() string {
	if d == nil {
		return ""
	}
	if d.Locales == nil {
		return d.Text
	}
	for _, loc := range descriptionLocales {
		if s := d.Locales[loc]; s != "" {
			return s
		}
	}
	return ""
}

// PackageRecord is the normalized view of one catalog entry.
type PackageRecord struct {
	ShortName   string
	Version     string
	Publisher   string
	Description *Description
	Hidden      bool
}

// Snapshot maps short name to record. Snapshots are never mutated after
// Normalize returns them.
type Snapshot map[string]PackageRecord

// Visible counts the records that are not hidden.
func (s Snapshot) Visible() int {
	n := 0
	for _, r := range s {
		if !r.Hidden {
			n++
		}
	}
	return n
}

// Destination is one configured broadcast target.
type Destination struct {
	Platform  string `json:"platform"`
	BotID     string `json:"bot_id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
}

func (d Destination) String() string {
	s := d.Platform + ":" + d.BotID + "/" + d.ChannelID
	if d.GuildID != "" {
		s += "@" + d.GuildID
	}
	return s
}
