package config

import (
	"reflect"
	"strings"

	logx "ipwatch/pkg/logx"
)

// SummarizeChange lists the sections that differ and safe log fields for
// them. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var attrs []logx.Field

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Bool("telegram.channel_set", strings.TrimSpace(newCfg.Telegram.Channel) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Watch, newCfg.Watch) {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.Duration("watch.interval", newCfg.Watch.IntervalOrDefault()),
			logx.Duration("watch.cycle_timeout", newCfg.Watch.CycleTimeoutOrDefault()),
		)
	}
	if !reflect.DeepEqual(oldCfg.Resolver, newCfg.Resolver) {
		changed = append(changed, "resolver")
		attrs = append(attrs, logx.String("resolver.url", newCfg.Resolver.URL))
	}
	if !reflect.DeepEqual(oldCfg.DNS, newCfg.DNS) {
		changed = append(changed, "dns")
		attrs = append(attrs,
			logx.String("dns.provider", newCfg.DNS.Provider),
			logx.Int("dns.records", len(newCfg.DNS.Records)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
	}
	if !reflect.DeepEqual(oldCfg.State, newCfg.State) {
		changed = append(changed, "state")
		attrs = append(attrs, logx.String("state.driver", newCfg.State.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
	}
	return changed, attrs
}

// LiveSections are applied without a restart. Changes elsewhere are logged
// and take effect on the next start.
var LiveSections = map[string]bool{"logging": true, "watch": true}
