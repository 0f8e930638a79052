package config

import "time"

// Config is the root configuration for karton services.
type Config struct {
	Broker      BrokerConfig      `json:"broker"`
	ObjectStore ObjectStoreConfig `json:"objectstore"`
	Consumer    ConsumerConfig    `json:"consumer"`
	Log         LogConfig         `json:"log"`
	Gateway     GatewayConfig     `json:"gateway"`
	Schedule    []ScheduleEntry   `json:"schedule,omitempty"`
}

// BrokerConfig selects and configures the coordination store.
type BrokerConfig struct {
	Driver   string `json:"driver"` // "redis" | "sqlite" | "memory"
	Addr     string `json:"addr,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Path     string `json:"path,omitempty"` // sqlite database file
}

// ObjectStoreConfig selects and configures resource storage.
type ObjectStoreConfig struct {
	Driver    string `json:"driver"` // "fs" | "minio"
	Bucket    string `json:"bucket"` // default bucket for local resources
	Dir       string `json:"dir,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Secure    bool   `json:"secure,omitempty"`
	// AgeIdentity is a path to an age key file; when set, blobs are
	// encrypted at rest.
	AgeIdentity string `json:"age_identity,omitempty"`
}

// ConsumerConfig tunes the consumption loop.
type ConsumerConfig struct {
	PollTimeout       Duration `json:"poll_timeout,omitempty"`
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty"`
	HeartbeatMaxAge   Duration `json:"heartbeat_max_age,omitempty"`
}

// LogConfig configures the console logger and log forwarding.
type LogConfig struct {
	Level   string `json:"level"`  // "debug" | "info" | "warn" | "error"
	Format  string `json:"format"` // "text" | "json"
	Forward bool   `json:"forward"`
}

// GatewayConfig holds the status API server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ScheduleEntry emits a task built from a task file. At least one of Cron,
// Interval or OnEvent must be set.
type ScheduleEntry struct {
	Name     string        `json:"name"`
	TaskFile string        `json:"task_file"`
	Cron     string        `json:"cron,omitempty"`
	Interval Duration      `json:"interval,omitempty"`
	OnEvent  *EventTrigger `json:"on_event,omitempty"`
	Cooldown Duration      `json:"cooldown,omitempty"`
	MaxRuns  int           `json:"max_runs,omitempty"`
	Disabled bool          `json:"disabled,omitempty"`
}

// EventTrigger fires a schedule entry when a matching event is published.
// Filter values are compared with the string fields of the event payload.
type EventTrigger struct {
	Event  string            `json:"event"`
	Filter map[string]string `json:"filter,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
