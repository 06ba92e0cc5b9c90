package config

import (
	"os"

	"PPNotify/tools/decode"
	"PPNotify/tools/errs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// PPNOTIFY_SESSION_ADMISSION_LIMIT.
const EnvPrefix = "PPNOTIFY_"

// Load builds the configuration in layers: defaults, then the YAML file at
// path (skipped when path is empty), then environment variables. A .env file
// in the working directory is loaded first when present.
func Load(path string) (AppConfig, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errs.WrapMsg(err, "read config", "path", path)
		}
		if cfg, err = merge(cfg, raw); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Merge decodes YAML content over base, re-applies the environment and
// validates the result. base is not modified.
func Merge(base AppConfig, content []byte) (AppConfig, error) {
	cfg, err := merge(base, content)
	if err != nil {
		return base, err
	}
	if err := applyEnv(&cfg); err != nil {
		return base, err
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

func merge(cfg AppConfig, content []byte) (AppConfig, error) {
	var m map[string]any
	if err := yaml.Unmarshal(content, &m); err != nil {
		return cfg, ErrInvalid.WrapMsg("yaml", "err", err)
	}
	if len(m) == 0 {
		return cfg, nil
	}
	if err := decode.Map(m, &cfg, decode.Options{WeaklyTypedInput: true, TagName: "yaml"}); err != nil {
		return cfg, ErrInvalid.WrapMsg(err.Error())
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return ErrInvalid.WrapMsg("env", "err", err)
	}
	return nil
}

func parseLevel(text string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(text))
	return l, err
}
