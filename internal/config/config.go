package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

const EnvPrefix = "PACER"

// Config holds the application configuration.
type Config struct {
	DataDir          string        `mapstructure:"data_dir"`
	LogFile          string        `mapstructure:"log_file"`
	Units            pacer.Units   `mapstructure:"units"`
	PreChangeSeconds int           `mapstructure:"pre_change_seconds"`
	VoiceEnabled     bool          `mapstructure:"voice_enabled"`
	BeepEnabled      bool          `mapstructure:"beep_enabled"`
	HapticsEnabled   bool          `mapstructure:"haptics_enabled"`
	Volume           float64       `mapstructure:"volume"`
	// SharedAudio leaves the speakers to another player; cues play softly
	// ducked instead of taking audio focus.
	SharedAudio      bool          `mapstructure:"shared_audio"`
	SpeechCommand    string        `mapstructure:"speech_command"`
	HTTPAddr         string        `mapstructure:"http_addr"`
	PlansDir         string        `mapstructure:"plans_dir"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	CueBudget        time.Duration `mapstructure:"cue_budget"`
	Treadmill        Treadmill     `mapstructure:"treadmill"`
}

// Treadmill configures the optional FTMS speed follower.
type Treadmill struct {
	Enabled     bool          `mapstructure:"enabled"`
	Address     string        `mapstructure:"address"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`
}

// DatabasePath is where session records are kept.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "pacer.db")
}

// Validate checks values that would otherwise fail deep inside a session.
func (c Config) Validate() error {
	switch c.Units {
	case pacer.UnitsMPH, pacer.UnitsKMH:
	default:
		return fmt.Errorf("units must be %q or %q, got %q", pacer.UnitsMPH, pacer.UnitsKMH, c.Units)
	}
	if c.PreChangeSeconds < 0 {
		return fmt.Errorf("pre_change_seconds must not be negative, got %d", c.PreChangeSeconds)
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("volume must be between 0 and 1, got %v", c.Volume)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.CueBudget <= 0 {
		return fmt.Errorf("cue_budget must be positive, got %v", c.CueBudget)
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	return nil
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".treadmill-pacer")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"data-dir":           "data_dir",
	"log-file":           "log_file",
	"units":              "units",
	"pre-change-seconds": "pre_change_seconds",
	"voice":              "voice_enabled",
	"beep":               "beep_enabled",
	"haptics":            "haptics_enabled",
	"volume":             "volume",
	"shared-audio":       "shared_audio",
	"speech-command":     "speech_command",
	"http-addr":          "http_addr",
	"plans-dir":          "plans_dir",
	"treadmill":          "treadmill.enabled",
	"treadmill-address":  "treadmill.address",
}

// RegisterFlags adds the configuration flags to flags. Defaults live in Load,
// so an unset flag never overrides the environment or the config file.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file (yaml)")
	flags.String("data-dir", "", "directory for the session database and logs")
	flags.String("log-file", "", "log file path (default <data-dir>/pacer.log)")
	flags.String("units", "", "speed units: mph|kmh")
	flags.Int("pre-change-seconds", 0, "seconds before a speed change to announce it (0 disables)")
	flags.Bool("voice", false, "speak cues")
	flags.Bool("beep", false, "beep on cues")
	flags.Bool("haptics", false, "flash the screen on cues")
	flags.Float64("volume", 0, "cue volume from 0 (muted) to 1")
	flags.Bool("shared-audio", false, "another player owns the speakers; duck cues instead of taking focus")
	flags.String("speech-command", "", "text-to-speech command, e.g. espeak")
	flags.String("http-addr", "", "control surface listen address")
	flags.String("plans-dir", "", "directory of YAML workout plans")
	flags.Bool("treadmill", false, "follow the session with an FTMS treadmill")
	flags.String("treadmill-address", "", "treadmill Bluetooth address (default: first found)")
}

// Load resolves the configuration from defaults, an optional .env file, an
// optional config file, PACER_* environment variables and flags, in
// increasing order of precedence.
func Load(flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("log_file", "")
	v.SetDefault("units", string(pacer.UnitsMPH))
	v.SetDefault("pre_change_seconds", 5)
	v.SetDefault("voice_enabled", true)
	v.SetDefault("beep_enabled", true)
	v.SetDefault("haptics_enabled", true)
	v.SetDefault("volume", 1.0)
	v.SetDefault("shared_audio", false)
	v.SetDefault("speech_command", "")
	v.SetDefault("http_addr", "127.0.0.1:8765")
	v.SetDefault("plans_dir", "")
	v.SetDefault("tick_interval", pacer.DefaultTickInterval)
	v.SetDefault("cue_budget", pacer.DefaultCueBudget)
	v.SetDefault("treadmill.enabled", false)
	v.SetDefault("treadmill.address", "")
	v.SetDefault("treadmill.scan_timeout", 20*time.Second)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	configFile := os.Getenv(EnvPrefix + "_CONFIG")
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Units = pacer.Units(strings.ToLower(string(cfg.Units)))
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "pacer.log")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
