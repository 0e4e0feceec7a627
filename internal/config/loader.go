package config

import (
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load builds a Config from the environment, filling unset fields from
// their default tags, and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envField is the parsed tag set of one config field.
type envField struct {
	name     string
	alt      string
	def      string
	unit     string
	required bool
}

func tagsOf(f reflect.StructField) envField {
	return envField{
		name:     f.Tag.Get("env"),
		alt:      f.Tag.Get("envAlt"),
		def:      f.Tag.Get("default"),
		unit:     f.Tag.Get("unit"),
		required: f.Tag.Get("required") == "true",
	}
}

// lookup returns the raw value for the field: the primary variable, then
// the alternate, then the default.
func (f envField) lookup() (string, error) {
	if v := os.Getenv(f.name); v != "" {
		return v, nil
	}
	if f.alt != "" {
		if v := os.Getenv(f.alt); v != "" {
			return v, nil
		}
	}
	if f.required {
		return "", fmt.Errorf("required environment variable %s is not set", f.name)
	}
	return f.def, nil
}

// loadStruct walks v depth-first and sets every field carrying an env tag.
func loadStruct(v reflect.Value) error {
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			if err := loadStruct(fv); err != nil {
				return err
			}
			continue
		}

		tags := tagsOf(sf)
		if tags.name == "" {
			continue
		}
		raw, err := tags.lookup()
		if err != nil {
			return err
		}
		if raw == "" {
			continue
		}
		if err := setField(fv, raw, tags.unit); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", tags.name, raw, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw, unit string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))

	case field.Kind() == reflect.Int || field.Kind() == reflect.Int64:
		parse := parseInt
		if unit == "bytes" {
			parse = parseByteSize
		}
		n, err := parse(raw)
		if err != nil {
			return err
		}
		field.SetInt(n)

	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case field.Kind() == reflect.String:
		field.SetString(raw)

	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		field.Set(reflect.ValueOf(splitList(raw)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

func parseInt(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return n, nil
}

var byteUnits = []struct {
	suffix string
	scale  int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseByteSize accepts a plain byte count or a KB/MB/GB suffixed size,
// case-insensitively ("50MB", "512kb").
func parseByteSize(raw string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, u := range byteUnits {
		num, ok := strings.CutSuffix(s, u.suffix)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size: %w", err)
		}
		return n * u.scale, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %w", err)
	}
	return n, nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var errs []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	check(c.Server.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	check(c.Server.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	for _, p := range c.Server.TrustedProxies {
		check(validProxy(p), "TRUSTED_PROXIES entry %q is not an IP address or CIDR", p)
	}

	check(c.Pool.Expiration > 0, "POOL_EXPIRATION must be positive")
	check(c.Pool.SweepInterval > 0, "POOL_SWEEP_INTERVAL must be positive")
	check(c.Pool.DialTimeout > 0, "CLICKHOUSE_DIAL_TIMEOUT must be positive")
	check(c.Streams.TTL > 0, "STREAM_TTL must be positive")

	check(c.Transfer.ChunkSize > 0, "TRANSFER_CHUNK_SIZE must be positive")
	check(c.Transfer.MaxConcurrent > 0, "TRANSFER_MAX_CONCURRENT must be positive")
	check(c.Transfer.MaxWait > 0, "TRANSFER_MAX_WAIT must be positive")
	check(c.Transfer.Timeout > 0, "TRANSFER_TIMEOUT must be positive")
	check(c.Transfer.MaxFileSize > 0, "UPLOAD_MAX_FILE_SIZE must be positive")

	if c.Rate.Enabled {
		check(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		check(c.Rate.Burst > 0, "RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.History.Enabled() {
		check(c.History.MaxConns > 0, "HISTORY_MAX_CONNS must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validProxy(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// String renders the config for logs with the history URL masked.
func (c *Config) String() string {
	history := "disabled"
	if c.History.Enabled() {
		history = "[MASKED]"
	}
	return fmt.Sprintf("Config{Server: {Host: %q, Port: %d}, Pool: {Expiration: %s, SweepInterval: %s}, "+
		"Streams: {TTL: %s}, Transfer: {ChunkSize: %d, MaxConcurrent: %d, Timeout: %s, MaxFileSize: %d}, "+
		"Rate: {Enabled: %v, RequestsPerMinute: %d}, History: %s, Logging: {Level: %q, Format: %q}}",
		c.Server.Host, c.Server.Port, c.Pool.Expiration, c.Pool.SweepInterval,
		c.Streams.TTL, c.Transfer.ChunkSize, c.Transfer.MaxConcurrent, c.Transfer.Timeout, c.Transfer.MaxFileSize,
		c.Rate.Enabled, c.Rate.RequestsPerMinute, history, c.Logging.Level, c.Logging.Format)
}
