package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"
)

// Default values shared by the packer, the unpacker and the CLI.
// trailer.DefaultSearchWindow refers to DefaultSearchWindow.
const (
	DefaultKey          = 0x80
	DefaultSearchWindow = 1 << 20
)

// DefaultSections are packed when no explicit selection is given.
var DefaultSections = []string{".text", ".rdata", ".data"}

// Config holds environment-derived defaults. CLI flags override them.
type Config struct {
	Sections      []string
	Key           uint64
	Obfuscate     bool
	SearchWindow  int
	StrictProtect bool
	Level         int
}

// LoadConfig reads SECTPACK_* variables, falling back to built-in defaults.
func LoadConfig() (*Config, error) {
	env.Load()
	cfg := &Config{
		Sections:      DefaultSections,
		Key:           DefaultKey,
		Obfuscate:     true,
		SearchWindow:  env.Int("SECTPACK_SEARCH_WINDOW", DefaultSearchWindow),
		StrictProtect: env.Bool("SECTPACK_STRICT_PROTECT"),
		Level:         env.Int("SECTPACK_LEVEL", 0),
	}

	if names := env.Str("SECTPACK_SECTIONS"); names != "" {
		cfg.Sections = ParseSectionList(names)
	}

	if env.Str("SECTPACK_OBFUSCATE") != "" {
		cfg.Obfuscate = env.Bool("SECTPACK_OBFUSCATE")
	}

	if raw := env.Str("SECTPACK_KEY"); raw != "" {
		key, err := ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("SECTPACK_KEY: %w", err)
		}
		cfg.Key = key
	}

	if cfg.SearchWindow <= 0 {
		return nil, fmt.Errorf("SECTPACK_SEARCH_WINDOW must be positive, got %d", cfg.SearchWindow)
	}
	return cfg, nil
}

// ParseKey accepts decimal, 0x-hex or 0-octal keys. Values above 0xFF are
// allowed; only their low byte is used by the cipher.
func ParseKey(s string) (uint64, error) {
	key, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return key, nil
}

// ParseSectionList splits a comma separated list of section names.
func ParseSectionList(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(part) > 8 {
			part = part[:8]
		}
		names = append(names, part)
	}
	return names
}
