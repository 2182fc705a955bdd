// Package config loads knolvault settings from defaults, an optional YAML
// file, KNOLVAULT_ environment variables and command line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variables. A double underscore
// separates nested keys, so KNOLVAULT_LOG__LEVEL sets log.level.
const EnvPrefix = "KNOLVAULT_"

// Config holds the settings shared by every command.
type Config struct {
	VaultDir      string        `koanf:"vault_dir" validate:"required,dir"`
	DataFolder    string        `koanf:"data_folder" validate:"required"`
	SnapshotFile  string        `koanf:"snapshot_file" validate:"required"`
	DayStartHour  int           `koanf:"day_start_hour" validate:"min=0,max=23"`
	FlushDebounce time.Duration `koanf:"flush_debounce" validate:"min=10ms,max=1m"`
	UIDField      string        `koanf:"uid_field" validate:"required"`
	ProjectsField string        `koanf:"projects_field"`
	Log           LogConfig     `koanf:"log"`
}

// LogConfig selects the level and output format of the logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

var defaults = map[string]any{
	"vault_dir":      ".",
	"data_folder":    ".knolvault",
	"snapshot_file":  "cards.db",
	"day_start_hour": 4,
	"flush_debounce": "500ms",
	"uid_field":      "flashcard-uid",
	"projects_field": "projects",
	"log.level":      "info",
	"log.format":     "text",
}

// flagKeys maps flag names onto config keys. Flags not listed are ignored.
var flagKeys = map[string]string{
	"vault":          "vault_dir",
	"data-folder":    "data_folder",
	"snapshot-file":  "snapshot_file",
	"day-start-hour": "day_start_hour",
	"flush-debounce": "flush_debounce",
	"uid-field":      "uid_field",
	"projects-field": "projects_field",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// RegisterFlags adds the flags Load understands to fs. Their defaults are
// only informational: a flag overrides the other sources only when set.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.StringP("vault", "v", ".", "vault directory")
	fs.String("data-folder", ".knolvault", "snapshot folder inside the vault")
	fs.String("snapshot-file", "cards.db", "snapshot file name")
	fs.Int("day-start-hour", 4, "hour (0-23) at which a new study day begins")
	fs.Duration("flush-debounce", 500*time.Millisecond, "quiet period before writes are flushed")
	fs.String("uid-field", "flashcard-uid", "frontmatter field holding a document's source uid")
	fs.String("projects-field", "projects", "frontmatter field listing a document's projects")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "text", "log format (text, json)")
}

// Load resolves the configuration. configFile may be empty; a named file that
// does not exist is an error. flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("failed to read flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func validate(cfg *Config) error {
	v, trans, err := newValidator()
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}
	err = v.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Translate(trans))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
}
