// Package config resolves tada's settings from flags, TADA_* environment
// variables and ~/.tada/config.toml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "TADA"
	// EnvHome overrides the ~/.tada directory.
	EnvHome = "TADA_HOME"
)

// Keys understood in the config file and as TADA_<KEY> variables.
const (
	KeyDataDir         = "data_dir"
	KeyServerURL       = "server_url"
	KeyCompletionDelay = "completion_delay"
	KeyLogFile         = "log_file"
	KeyLogLevel        = "log_level"
	KeyListen          = "listen"
	KeyDB              = "db"
	KeyTokenSecret     = "token_secret"
)

type Config struct {
	Home            string        // credentials and config live here
	DataDir         string        // guest todos.json / notes.json
	ServerURL       string        // document server for signed-in sessions
	CompletionDelay time.Duration // deferred completion in the TUI
	LogFile         string
	LogLevel        string
	Listen          string // tada serve
	DB              string // tada serve
	TokenSecret     string // tada serve: HMAC key for signed tokens
	File            string // config file in use, empty if none
}

// HomeDir returns the tada directory: $TADA_HOME, else ~/.tada.
func HomeDir() (string, error) {
	if h := os.Getenv(EnvHome); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".tada"), nil
}

// New returns a viper instance with tada's defaults, environment binding
// and config file search path.
func New() (*viper.Viper, error) {
	home, err := HomeDir()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetDefault(KeyDataDir, home)
	v.SetDefault(KeyServerURL, "http://localhost:8080")
	v.SetDefault(KeyCompletionDelay, 500*time.Millisecond)
	v.SetDefault(KeyLogFile, filepath.Join(home, "tada.log"))
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyDB, filepath.Join(home, "docs.db"))
	v.Set("home", home)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(home)
	return v, nil
}

// Load reads the config file, if any, and resolves every key.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	c := Config{
		Home:            v.GetString("home"),
		DataDir:         v.GetString(KeyDataDir),
		ServerURL:       v.GetString(KeyServerURL),
		CompletionDelay: v.GetDuration(KeyCompletionDelay),
		LogFile:         v.GetString(KeyLogFile),
		LogLevel:        v.GetString(KeyLogLevel),
		Listen:          v.GetString(KeyListen),
		DB:              v.GetString(KeyDB),
		TokenSecret:     v.GetString(KeyTokenSecret),
		File:            v.ConfigFileUsed(),
	}
	if c.CompletionDelay < 0 {
		return Config{}, fmt.Errorf("%s must not be negative, got %s", KeyCompletionDelay, c.CompletionDelay)
	}
	return c, nil
}
