package config

import (
	"reflect"
	"sort"
	"strings"

	"marketwatch/pkg/logx"
)

// LiveSections are applied on reload; every other section needs a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the changed top-level sections, sorted, and
// log fields describing them. Secrets (bot and screenshot tokens) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Market, newCfg.Market) {
		changed = append(changed, "market")
		attrs = append(attrs,
			logx.String("market.endpoint", newCfg.Market.Endpoint),
			logx.String("market.interval", string(newCfg.Market.Interval)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.delay", newCfg.Broadcast.Delay),
			logx.Int("broadcast.rules", len(newCfg.Broadcast.Rules)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Render, newCfg.Render) {
		changed = append(changed, "render")
		attrs = append(attrs,
			logx.String("render.locale", newCfg.Render.Locale),
			logx.Bool("render.screenshot_set", strings.TrimSpace(newCfg.Render.Screenshot.Endpoint) != ""),
			logx.Bool("render.token_set", newCfg.Render.Screenshot.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Bots, newCfg.Bots) {
		changed = append(changed, "bots")
		ids := make([]string, 0, len(newCfg.Bots))
		for _, b := range newCfg.Bots {
			ids = append(ids, b.Platform+"/"+b.ID)
		}
		attrs = append(attrs, logx.Strings("bots", ids))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.operator", newCfg.Logging.Operator.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	sort.Strings(changed)
	return changed, attrs
}
