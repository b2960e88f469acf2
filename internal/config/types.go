package config

type Config struct {
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`

	// Scheduler controls triggers (daily, cron, interval, one-shot).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls how triggered jobs execute.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	Bot      BotConfig      `json:"bot"`
	LLM      LLMConfig      `json:"llm"`
	Weather  WeatherConfig  `json:"weather"`
	Anime    AnimeConfig    `json:"anime"`
	Bilibili BilibiliConfig `json:"bilibili"`
	Calendar CalendarConfig `json:"calendar"`
}

// TransportConfig selects the chat platform.
//
// Driver values: "napcat" (default) or "telegram".
type TransportConfig struct {
	Driver   string         `json:"driver"`
	NapCat   NapCatConfig   `json:"napcat"`
	Telegram TelegramConfig `json:"telegram"`
}

type NapCatConfig struct {
	WSURL   string `json:"ws_url"`
	HTTPURL string `json:"http_url"`
	// AccessToken may also come from KIBOT_NAPCAT_TOKEN.
	AccessToken string `json:"access_token,omitempty"`
	// Timeout and ReconnectMax are Go duration strings.
	Timeout      string `json:"timeout,omitempty"`
	ReconnectMax string `json:"reconnect_max,omitempty"`
}

type TelegramConfig struct {
	// Token may also come from KIBOT_TELEGRAM_TOKEN.
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards records at or above MinLevel to a log group.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	GroupID    int64  `json:"group_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is an IANA name; push times are local to it.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to
// scheduler.enabled) from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled   *bool `json:"enabled,omitempty"`
	Workers   int   `json:"workers,omitempty"`
	QueueSize int   `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	RetryMax int `json:"retry_max,omitempty"`
}

// NotifierConfig controls outbound delivery: a shared rate limit plus retry
// with exponential backoff.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	CallTimeout   string `json:"call_timeout,omitempty"`
}

// StorageConfig selects where subscription and dedup documents live.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// BotConfig sizes the command dispatcher.
type BotConfig struct {
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type LLMConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
	// APIKey may also come from KIBOT_LLM_API_KEY.
	APIKey      string   `json:"api_key,omitempty"`
	Model       string   `json:"model"`
	MaxTokens   int64    `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	MaxRetries  int      `json:"max_retries,omitempty"`

	SystemPrompt   string `json:"system_prompt,omitempty"`
	GreetingPrompt string `json:"greeting_prompt,omitempty"`
}

type WeatherConfig struct {
	Enabled bool `json:"enabled"`
	// Host is the account's QWeather API host.
	Host string `json:"host"`
	// APIKey may also come from KIBOT_WEATHER_API_KEY.
	APIKey     string `json:"api_key,omitempty"`
	ForecastAt string `json:"forecast_at,omitempty"` // "HH:MM"
	AlertCron  string `json:"alert_cron,omitempty"`
	PurgeEvery string `json:"purge_every,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type AnimeConfig struct {
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"base_url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	At        string `json:"at,omitempty"` // "HH:MM"
	Timeout   string `json:"timeout,omitempty"`
}

type BilibiliConfig struct {
	Enabled bool `json:"enabled"`
	// Cookie may also come from KIBOT_BILIBILI_COOKIE. CookieFile is re-read
	// on every request.
	Cookie      string `json:"cookie,omitempty"`
	CookieFile  string `json:"cookie_file,omitempty"`
	GuestCookie *bool  `json:"guest_cookie,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`

	PollEvery string           `json:"poll_every,omitempty"`
	Timeout   string           `json:"timeout,omitempty"`
	Capture   ScreenshotConfig `json:"screenshot"`
}

// ScreenshotConfig runs an external renderer. "{url}" and "{out}" in the
// command are substituted; an empty command sends links instead.
type ScreenshotConfig struct {
	Command  []string `json:"command,omitempty"`
	CacheDir string   `json:"cache_dir,omitempty"`
	Keep     int      `json:"keep,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

type CalendarConfig struct {
	Enabled     bool     `json:"enabled"`
	PlanAt      string   `json:"plan_at,omitempty"`
	WindowStart string   `json:"window_start,omitempty"`
	Window      string   `json:"window,omitempty"`
	Probability *float64 `json:"probability,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
}
