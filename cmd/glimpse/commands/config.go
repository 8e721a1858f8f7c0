package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/glimpse/internal/app"
)

// envPrefix marks configuration variables: GLIMPSE_API__BASE_URL sets api.base_url.
const envPrefix = "GLIMPSE_"

// configFileName is looked up in the user config directory when --config is not given.
const configFileName = "config.toml"

// configRoots are the top-level keys of app.Config. Variables and flags that
// do not resolve to one of them are not configuration; GLIMPSE_SESSION_*
// tokens of the env credential storage are the main case.
var configRoots = map[string]bool{
	"log_level":    true,
	"log_format":   true,
	"log_exporter": true,
	"server":       true,
	"shutdown":     true,
	"api":          true,
	"refresh":      true,
	"storage":      true,
}

// loadConfig merges the config file, GLIMPSE_ variables and command-line
// flags, later sources overriding earlier ones, then applies defaults and
// validates the result.
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(name, value string) (string, any) {
			key, ok := configKey(strings.TrimPrefix(name, envPrefix), "_")
			if !ok {
				// An empty key makes koanf skip the variable.
				return "", nil
			}
			return key, value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(flagValues(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading command-line flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// flagValues collects explicitly set configuration flags, including those
// inherited from parent commands. Unset flags keep file and env values.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		key, ok := configKey(name, "-")
		if !ok || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			values[key] = value
		}
	}
	return values
}

// configKey maps a flag name (sep "-", storage--redis-addr) or an env name
// without prefix (sep "_", STORAGE__REDIS_ADDR) to a config key such as
// storage.redis_addr. A double separator descends into a section.
func configKey(name, sep string) (string, bool) {
	sections := strings.Split(strings.ToLower(name), sep+sep)
	for i, s := range sections {
		if s == "" {
			return "", false
		}
		sections[i] = strings.ReplaceAll(s, sep, "_")
	}
	if !configRoots[sections[0]] {
		return "", false
	}
	// Top-level keys other than log_* are sections and need a field.
	if len(sections) == 1 && !strings.HasPrefix(sections[0], "log_") {
		return "", false
	}
	return strings.Join(sections, "."), true
}

// defaultConfigPath returns the per-user config file if it exists.
func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", nil
	}
	path := filepath.Join(dir, "glimpse", configFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("checking config file %s: %w", path, err)
	}
	return path, nil
}
