package config

// Config is the daemon configuration file (JSON or YAML).
//
// Example (YAML):
//
//	logging:   { level: info, console: true }
//	storage:   { driver: sqlite, path: ./tabqueue.db }
//	scheduler: { timezone: Europe/Berlin }
//	notifier:  { enabled: true, sink: log, dedup_window: 1m }
//	ops:       { enabled: true, addr: "127.0.0.1:7070", pprof: false }
//	host:      { snapshot_path: ./tabs.yaml }
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	Ops       OpsConfig       `json:"ops"`
	Host      HostConfig      `json:"host"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the settings store.
//
//	"storage": { "driver": "file", "path": "./tabqueue" }
//
// Driver is memory (default), file or sqlite. Changing it requires a restart.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SchedulerConfig struct {
	// Timezone is an IANA name used to evaluate cron expressions.
	// Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled       bool           `json:"enabled"`
	Sink          string         `json:"sink,omitempty"` // log | telegram
	QueueSize     int            `json:"queue_size,omitempty"`
	RatePerSec    int            `json:"rate_per_sec,omitempty"`
	RetryMax      int            `json:"retry_max,omitempty"`
	RetryBase     string         `json:"retry_base,omitempty"`
	DedupWindow   string         `json:"dedup_window,omitempty"`
	DedupMaxItems int            `json:"dedup_max_items,omitempty"`
	Telegram      TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// OpsConfig controls the optional operator HTTP server.
//
// Security note: it can trigger moves and clear marks. Bind to localhost.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:7070"
	Pprof   bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

type HostConfig struct {
	// SnapshotPath seeds the in-memory tab host from a YAML or JSON file.
	SnapshotPath string `json:"snapshot_path,omitempty"`
}
