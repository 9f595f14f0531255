package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LinkConfig holds the duplex link settings. Endpoint and reconnect delay
// are startup configuration, not runtime-mutable.
type LinkConfig struct {
	URL            string        `json:"url" mapstructure:"url"`
	ReconnectDelay time.Duration `json:"reconnectDelay" mapstructure:"reconnectDelay"`
	SendBuffer     int           `json:"sendBuffer" mapstructure:"sendBuffer"`
	Secret         string        `json:"secret" mapstructure:"secret"`
}

// WorldConfig holds the world host settings.
type WorldConfig struct {
	SceneFile  string  `json:"sceneFile" mapstructure:"sceneFile"`
	TickRate   int     `json:"tickRate" mapstructure:"tickRate"`
	SampleRate int     `json:"sampleRate" mapstructure:"sampleRate"`
	AnchorLat  float64 `json:"anchorLat" mapstructure:"anchorLat"`
	AnchorLon  float64 `json:"anchorLon" mapstructure:"anchorLon"`
}

// MotionConfig holds the default kinematic limits applied to movable objects
// that don't override them in the scene.
type MotionConfig struct {
	MinSpeed          float64 `json:"minSpeed" mapstructure:"minSpeed"`
	MaxSpeed          float64 `json:"maxSpeed" mapstructure:"maxSpeed"`
	AccelUp           float64 `json:"accelUp" mapstructure:"accelUp"`
	AccelDown         float64 `json:"accelDown" mapstructure:"accelDown"`
	WaypointTolerance float64 `json:"waypointTolerance" mapstructure:"waypointTolerance"`
	SpeedEpsilon      float64 `json:"speedEpsilon" mapstructure:"speedEpsilon"`
	RotateWhenStopped bool    `json:"rotateWhenStopped" mapstructure:"rotateWhenStopped"`
}

// MemoryConfig holds in-memory/JSON storage backend settings.
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings.
type SQLiteConfig struct {
	DBPath       string        `json:"dbPath" mapstructure:"dbPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds PostgreSQL storage backend settings.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

// StorageConfig selects and configures the telemetry storage backend.
type StorageConfig struct {
	Type          string         `json:"type" mapstructure:"type"`
	WriteInterval time.Duration  `json:"writeInterval" mapstructure:"writeInterval"`
	Memory        MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite        SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres      PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// InfluxConfig holds InfluxDB settings for live telemetry export.
type InfluxConfig struct {
	Enabled      bool
	URL          string
	Token        string
	Org          string
	TracksBucket string
	EventsBucket string
	BackupDir    string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// GraylogConfig holds the GELF log sink settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// APIConfig holds the orchestrator HTTP API settings (healthcheck, run upload).
type APIConfig struct {
	Enabled   bool
	ServerURL string
	APIKey    string
}

// OrchestratorConfig holds the driver-side settings.
type OrchestratorConfig struct {
	ListenAddr   string
	DataDir      string
	Secret       string
	PollRate     int
	Speed        float64
	AckTimeout   time.Duration
	QueryTimeout time.Duration
	Targets      []string
}

// Load reads configuration from the JSON config file and sets default
// values. configDir is the directory containing simbridge.cfg.json.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("defaultTag", "run")

	viper.SetDefault("link.url", "ws://127.0.0.1:8765/ws")
	viper.SetDefault("link.reconnectDelay", "2s")
	viper.SetDefault("link.sendBuffer", 256)
	viper.SetDefault("link.secret", "")

	viper.SetDefault("world.sceneFile", "")
	viper.SetDefault("world.tickRate", 30)
	viper.SetDefault("world.sampleRate", 5)
	viper.SetDefault("world.anchorLat", 45.6306)
	viper.SetDefault("world.anchorLon", 8.7281)

	viper.SetDefault("motion.minSpeed", 0.0)
	viper.SetDefault("motion.maxSpeed", 12.0)
	viper.SetDefault("motion.accelUp", 3.0)
	viper.SetDefault("motion.accelDown", 4.0)
	viper.SetDefault("motion.waypointTolerance", 0.25)
	viper.SetDefault("motion.speedEpsilon", 0.0001)
	viper.SetDefault("motion.rotateWhenStopped", true)

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.writeInterval", "2s")
	viper.SetDefault("storage.memory.outputDir", "./runs")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dbPath", "./runs/simbridge.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "simbridge")
	viper.SetDefault("storage.postgres.sslmode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "simbridge")
	viper.SetDefault("influx.tracksBucket", "simbridge_tracks")
	viper.SetDefault("influx.eventsBucket", "simbridge_events")
	viper.SetDefault("influx.backupDir", "./influx_backup")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "simbridge")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.serverUrl", "http://127.0.0.1:8765")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("orchestrator.listenAddr", ":8765")
	viper.SetDefault("orchestrator.dataDir", "./orchestrator_data")
	viper.SetDefault("orchestrator.secret", "")
	viper.SetDefault("orchestrator.pollRate", 5)
	viper.SetDefault("orchestrator.speed", 2.0)
	viper.SetDefault("orchestrator.ackTimeout", "10s")
	viper.SetDefault("orchestrator.queryTimeout", "5s")
	viper.SetDefault("orchestrator.targets", []string{"CUBE_1", "CUBE_2", "CUBE_3"})

	viper.SetConfigName("simbridge.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetLinkConfig returns the duplex link configuration.
func GetLinkConfig() LinkConfig {
	return LinkConfig{
		URL:            viper.GetString("link.url"),
		ReconnectDelay: viper.GetDuration("link.reconnectDelay"),
		SendBuffer:     viper.GetInt("link.sendBuffer"),
		Secret:         viper.GetString("link.secret"),
	}
}

// GetWorldConfig returns the world host configuration.
func GetWorldConfig() WorldConfig {
	return WorldConfig{
		SceneFile:  viper.GetString("world.sceneFile"),
		TickRate:   viper.GetInt("world.tickRate"),
		SampleRate: viper.GetInt("world.sampleRate"),
		AnchorLat:  viper.GetFloat64("world.anchorLat"),
		AnchorLon:  viper.GetFloat64("world.anchorLon"),
	}
}

// GetMotionConfig returns the default kinematic limits.
func GetMotionConfig() MotionConfig {
	return MotionConfig{
		MinSpeed:          viper.GetFloat64("motion.minSpeed"),
		MaxSpeed:          viper.GetFloat64("motion.maxSpeed"),
		AccelUp:           viper.GetFloat64("motion.accelUp"),
		AccelDown:         viper.GetFloat64("motion.accelDown"),
		WaypointTolerance: viper.GetFloat64("motion.waypointTolerance"),
		SpeedEpsilon:      viper.GetFloat64("motion.speedEpsilon"),
		RotateWhenStopped: viper.GetBool("motion.rotateWhenStopped"),
	}
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:          viper.GetString("storage.type"),
		WriteInterval: viper.GetDuration("storage.writeInterval"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DBPath:       viper.GetString("storage.sqlite.dbPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
			SSLMode:  viper.GetString("storage.postgres.sslmode"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB configuration. The server URL is
// assembled from the protocol/host/port triple.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL: fmt.Sprintf("%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port")),
		Token:        viper.GetString("influx.token"),
		Org:          viper.GetString("influx.org"),
		TracksBucket: viper.GetString("influx.tracksBucket"),
		EventsBucket: viper.GetString("influx.eventsBucket"),
		BackupDir:    viper.GetString("influx.backupDir"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetGraylogConfig returns the GELF sink configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetAPIConfig returns the orchestrator HTTP API configuration.
func GetAPIConfig() APIConfig {
	return APIConfig{
		Enabled:   viper.GetBool("api.enabled"),
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
	}
}

// GetOrchestratorConfig returns the driver-side configuration.
func GetOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ListenAddr:   viper.GetString("orchestrator.listenAddr"),
		DataDir:      viper.GetString("orchestrator.dataDir"),
		Secret:       viper.GetString("orchestrator.secret"),
		PollRate:     viper.GetInt("orchestrator.pollRate"),
		Speed:        viper.GetFloat64("orchestrator.speed"),
		AckTimeout:   viper.GetDuration("orchestrator.ackTimeout"),
		QueryTimeout: viper.GetDuration("orchestrator.queryTimeout"),
		Targets:      viper.GetStringSlice("orchestrator.targets"),
	}
}
