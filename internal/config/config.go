package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/guseggert/rconwrap/filter"
	"github.com/guseggert/rconwrap/internal/files"
	"github.com/guseggert/rconwrap/logsink"
	"github.com/guseggert/rconwrap/rcon"
	"gopkg.in/yaml.v3"
)

// Config is the wrapper's runtime configuration, filled from flags and environment.
type Config struct {
	RCON rcon.Config

	ConsoleLog string // raw console log path
	LatestLog  string // curated activity log path

	ErrorRetryDelay time.Duration // retry delay after a failed attempt or a broken connection
	CloseRetryDelay time.Duration // retry delay after the server closed an open connection

	RulesFile string // YAML file overriding the output filter rules, else RulesFileName if found
	LogLevel  string // "debug" | "info" | "warn" | "error"
}

func Default() Config {
	return Config{
		RCON:            rcon.DefaultConfig(),
		ConsoleLog:      logsink.DefaultRawPath,
		LatestLog:       logsink.DefaultActivityPath,
		ErrorRetryDelay: 5 * time.Second,
		CloseRetryDelay: 10 * time.Second,
		LogLevel:        "info",
	}
}

func (c Config) Validate() error {
	if c.RCON.Host == "" {
		return errors.New("RCON host must not be empty")
	}
	if c.RCON.Port <= 0 || c.RCON.Port > 65535 {
		return fmt.Errorf("RCON port %d out of range", c.RCON.Port)
	}
	if c.ErrorRetryDelay <= 0 || c.CloseRetryDelay <= 0 {
		return errors.New("retry delays must be positive")
	}
	if c.ConsoleLog == "" || c.LatestLog == "" {
		return errors.New("log file paths must not be empty")
	}
	return nil
}

// RulesFileName is looked for in the working directory and its parents when no rules
// file is configured.
const RulesFileName = "rconwrap.yaml"

// Rules returns the output filter rules: the defaults, overridden by any keys present
// in the rules file.
func (c Config) Rules() (filter.Rules, error) {
	wd, err := os.Getwd()
	if err != nil {
		return filter.DefaultRules(), fmt.Errorf("getting working dir: %w", err)
	}
	return c.rulesFrom(wd)
}

func (c Config) rulesFrom(dir string) (filter.Rules, error) {
	rules := filter.DefaultRules()
	path := c.RulesFile
	if path == "" {
		found, err := files.FindUp(RulesFileName, dir)
		if err != nil {
			return rules, fmt.Errorf("looking for %s: %w", RulesFileName, err)
		}
		if found == "" {
			return rules, nil
		}
		path = found
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("reading filter rules: %w", err)
	}
	return parseRules(b, rules)
}

func parseRules(b []byte, rules filter.Rules) (filter.Rules, error) {
	// Keys absent from the document leave the defaults in place.
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return rules, fmt.Errorf("parsing filter rules: %w", err)
	}
	return rules, nil
}
