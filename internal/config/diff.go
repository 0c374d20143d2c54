package config

import (
	"reflect"
	"sort"
	"strings"

	logx "flowup/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe fields for
// logging the change. Tokens are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oS, nS := oldCfg.Storage, newCfg.Storage
	if !strings.EqualFold(strings.TrimSpace(oS.Driver), strings.TrimSpace(nS.Driver)) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	// The URL may embed credentials.
	if oldCfg.Activities.URL != newCfg.Activities.URL || oldCfg.Activities.Path != newCfg.Activities.Path {
		changed = append(changed, "activities")
		attrs = append(attrs,
			logx.Bool("activities.url_set", strings.TrimSpace(newCfg.Activities.URL) != ""),
			logx.String("activities.path", newCfg.Activities.Path),
		)
	}

	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.String("reminders.timezone", strings.TrimSpace(newCfg.Reminders.Timezone)),
			logx.String("reminders.fire_timeout", strings.TrimSpace(newCfg.Reminders.FireTimeout)),
			logx.String("reminders.reconcile_every", strings.TrimSpace(newCfg.Reminders.ReconcileEvery)),
		)
	}

	oTE, nTE := oldCfg.TaskEngine, newCfg.TaskEngine
	if oTE.IsEnabled() != nTE.IsEnabled() || oTE.Workers != nTE.Workers || oTE.QueueSize != nTE.QueueSize ||
		strings.TrimSpace(oTE.DefaultTimeout) != strings.TrimSpace(nTE.DefaultTimeout) || oTE.HistorySize != nTE.HistorySize {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", nTE.IsEnabled()),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		n := newCfg.Notifier
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Bool("notifier.log", n.Log.Enabled),
			logx.Bool("notifier.telegram", n.Telegram.Enabled),
			logx.Bool("notifier.slack", n.Slack.Enabled),
			logx.Bool("notifier.whatsapp", n.WhatsApp.Enabled),
		)
	}

	oD, nD := oldCfg.Debug, newCfg.Debug
	if oD.Enabled != nD.Enabled || strings.TrimSpace(oD.Addr) != strings.TrimSpace(nD.Addr) ||
		oD.AllowInsecure != nD.AllowInsecure || oD.ReadTimeout != nD.ReadTimeout || oD.IdleTimeout != nD.IdleTimeout ||
		(strings.TrimSpace(oD.Token) != "") != (strings.TrimSpace(nD.Token) != "") {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nD.Token) != ""),
			logx.Bool("debug.allow_insecure", nD.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
