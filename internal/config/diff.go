package config

import (
	"reflect"
	"sort"
	"strings"

	logx "kibot/pkg/logx"
)

// Sections applied live on reload. Every other change needs a restart.
var liveSections = map[string]bool{
	"logging":  true,
	"notifier": true,
}

// SummarizeConfigChange returns the changed sections, safe structured
// fields for logging (secrets are reported only as set/unset) and the
// changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if !liveSections[section] {
			restart = append(restart, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		mark("transport",
			logx.String("transport.driver", TransportDriver(newCfg)),
			logx.Bool("transport.napcat.token_set", newCfg.Transport.NapCat.AccessToken != ""),
			logx.Bool("transport.telegram.token_set", newCfg.Transport.Telegram.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		mark("scheduler",
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		te := derefTaskEngine(newCfg.TaskEngine)
		mark("task_engine",
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		var rate int
		if newCfg.Notifier != nil {
			rate = newCfg.Notifier.RatePerSec
		}
		mark("notifier", logx.Int("notifier.rate_per_sec", rate))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		var driver string
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", logx.String("storage.driver", driver))
	}
	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		mark("bot", logx.Int("bot.workers", newCfg.Bot.Workers))
	}
	if !reflect.DeepEqual(oldCfg.LLM, newCfg.LLM) {
		mark("llm",
			logx.Bool("llm.enabled", newCfg.LLM.Enabled),
			logx.String("llm.model", newCfg.LLM.Model),
			logx.Bool("llm.api_key_set", newCfg.LLM.APIKey != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Weather, newCfg.Weather) {
		mark("weather",
			logx.Bool("weather.enabled", newCfg.Weather.Enabled),
			logx.Bool("weather.api_key_set", newCfg.Weather.APIKey != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Anime, newCfg.Anime) {
		mark("anime", logx.Bool("anime.enabled", newCfg.Anime.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Bilibili, newCfg.Bilibili) {
		mark("bilibili",
			logx.Bool("bilibili.enabled", newCfg.Bilibili.Enabled),
			logx.Bool("bilibili.cookie_set", newCfg.Bilibili.Cookie != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Calendar, newCfg.Calendar) {
		mark("calendar", logx.Bool("calendar.enabled", newCfg.Calendar.Enabled))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}
