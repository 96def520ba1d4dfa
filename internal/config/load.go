package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Load reads the config file (YAML or JSON), overlays environment
// variables, and validates the result.
//
// A missing file is not an error: the stock deployment runs on defaults
// plus environment variables alone.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env-only config
		case err != nil:
			return Config{}, err
		default:
			if err := decodeStrict(path, b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeStrict decodes YAML or JSON with unknown fields disallowed, so
// typos in config keys are caught early.
func decodeStrict(path string, data []byte, cfg *Config) error {
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("trailing data")
		}
		return err
	}
	return nil
}

// coerceToJSONBytes converts YAML config to JSON bytes so we can re-use the
// strict JSON decoder for both formats.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	v = normalizeYAML(v)
	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// applyEnv overlays the environment variables the original deployment used.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("ADMIN_USER_IDS"); v != "" {
		if ids, ok := parseIDList(v); ok {
			cfg.Admins = ids
		}
	}

	applyEnvInt("REMINDER_SCHEDULE_DAY_OF_WEEK", &cfg.Reminder.Day)
	applyEnvInt("REMINDER_SCHEDULE_HOUR", &cfg.Reminder.Hour)
	applyEnvInt("REMINDER_SCHEDULE_MINUTE", &cfg.Reminder.Minute)
	applyEnvInt("AUTOPOP_SCHEDULE_DAY_OF_WEEK", &cfg.AutoPop.Day)
	applyEnvInt("AUTOPOP_SCHEDULE_HOUR", &cfg.AutoPop.Hour)
	applyEnvInt("AUTOPOP_SCHEDULE_MINUTE", &cfg.AutoPop.Minute)
}

func applyEnvInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return
	}
	*dst = n
}

func parseIDList(s string) ([]int64, bool) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, len(ids) > 0
}
