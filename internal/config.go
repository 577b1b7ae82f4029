package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding the config file,
// e.g. CAMREMOTE_CAMERA_HOST or CAMREMOTE_LOG_LEVEL.
const EnvPrefix = "CAMREMOTE"

type CameraConfig struct {
	Host          string `split_words:"true" json:"host" yaml:"host"`
	Port          int    `split_words:"true" json:"port" yaml:"port"`
	Path          string `split_words:"true" json:"path" yaml:"path"`
	MinAppVersion string `split_words:"true" json:"minAppVersion" yaml:"minAppVersion"`
	Username      string `split_words:"true" json:"username" yaml:"username"`
	Password      string `split_words:"true" json:"password" yaml:"password"` // plain text or the name of a secret

	ProbeTimeoutSec   int `split_words:"true" json:"probeTimeoutSec" yaml:"probeTimeoutSec"`
	CallTimeoutSec    int `split_words:"true" json:"callTimeoutSec" yaml:"callTimeoutSec"`
	RetryIntervalSec  int `split_words:"true" json:"retryIntervalSec" yaml:"retryIntervalSec"`
	ReconnectDelaySec int `split_words:"true" json:"reconnectDelaySec" yaml:"reconnectDelaySec"`
}

type StaticConfig struct {
	Camera CameraConfig `split_words:"true" json:"camera" yaml:"camera"`

	ListenAddr          string `split_words:"true" json:"listenAddr" yaml:"listenAddr"`
	ImageDir            string `split_words:"true" json:"imageDir" yaml:"imageDir"`
	AutoStartViewfinder bool   `split_words:"true" json:"autoStartViewfinder" yaml:"autoStartViewfinder"`

	LogLevel string `split_words:"true" json:"logLevel" yaml:"logLevel"`
	LogDir   string `split_words:"true" json:"logDir" yaml:"logDir"`

	Secrets map[string]string `ignored:"true" json:"secrets" yaml:"secrets"` // encrypted secrets
}

func DefaultConfig() StaticConfig {
	return StaticConfig{
		Camera: CameraConfig{
			Host:              "192.168.122.1",
			Port:              8080,
			Path:              "/sony/camera",
			MinAppVersion:     "2.1.4",
			ProbeTimeoutSec:   2,
			CallTimeoutSec:    60,
			RetryIntervalSec:  5,
			ReconnectDelaySec: 5,
		},
		ListenAddr: ":3000",
		LogLevel:   "info",
	}
}

// LoadConfig reads a JSON or YAML (by extension) config file on top of the
// defaults and applies environment overrides. An empty path loads defaults
// and environment only.
func LoadConfig(path string) (*StaticConfig, error) {
	config := DefaultConfig()

	if path != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(body, &config)
		default:
			err = json.Unmarshal(body, &config)
		}
		if err != nil {
			return nil, fmt.Errorf("incorrect config file format: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	return &config, nil
}

// WriteConfig stores config as indented JSON, the format generated by gen_config.
func WriteConfig(path string, config StaticConfig) error {
	body, err := json.MarshalIndent(&config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0644)
}

func GetBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		currentDir, _ := os.Getwd()
		return currentDir
	}
	return filepath.Dir(exe)
}
