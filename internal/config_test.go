package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if config.Camera.Host != "192.168.122.1" || config.Camera.Port != 8080 || config.Camera.Path != "/sony/camera" {
		t.Errorf("unexpected camera defaults: %+v", config.Camera)
	}
	if config.Camera.MinAppVersion != "2.1.4" {
		t.Errorf("expect min version 2.1.4, got %s", config.Camera.MinAppVersion)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"camera": {"host": "10.0.0.5", "port": 10000}, "logLevel": "debug"}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.Camera.Host != "10.0.0.5" || config.Camera.Port != 10000 {
		t.Errorf("file values not applied: %+v", config.Camera)
	}
	if config.Camera.Path != "/sony/camera" {
		t.Errorf("missing values must keep defaults, got path %q", config.Camera.Path)
	}
	if config.LogLevel != "debug" {
		t.Errorf("expect debug log level, got %s", config.LogLevel)
	}
}

func TestLoadConfigYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "camera:\n  host: 10.0.0.7\n  minAppVersion: 2.0.0\nlistenAddr: \":9000\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAMREMOTE_CAMERA_HOST", "10.0.0.8")
	t.Setenv("CAMREMOTE_CAMERA_RETRY_INTERVAL_SEC", "9")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.Camera.Host != "10.0.0.8" {
		t.Errorf("env override not applied, host = %s", config.Camera.Host)
	}
	if config.Camera.RetryIntervalSec != 9 {
		t.Errorf("expect retry interval 9, got %d", config.Camera.RetryIntervalSec)
	}
	if config.Camera.MinAppVersion != "2.0.0" || config.ListenAddr != ":9000" {
		t.Errorf("yaml values not applied: %+v", config)
	}
}

func TestWriteConfigUsesFileKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := WriteConfig(path, DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"camera"`, `"minAppVersion"`, `"listenAddr"`, `"logLevel"`} {
		if !strings.Contains(string(body), key) {
			t.Errorf("expect key %s in generated config:\n%s", key, body)
		}
	}
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.Camera.MinAppVersion != "2.1.4" || config.ListenAddr != ":3000" {
		t.Errorf("generated config does not load back: %+v", config)
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{"), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expect format error")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expect missing file error")
	}
}

func TestSecretsRoundTrip(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	encrypted, err := EncryptString(key, "camera-password")
	if err != nil {
		t.Fatal(err)
	}

	sm := NewSecretManager(key)
	if err := sm.LoadEncryptedSecrets(map[string]string{"cam": encrypted, "broken": "!!"}); err == nil {
		t.Error("expect error for undecryptable secret")
	}
	if got := sm.GetSecret("cam"); got != "camera-password" {
		t.Errorf("expect decrypted secret, got %s", got)
	}
	if got := sm.GetSecret("plain-text"); got != "plain-text" {
		t.Errorf("unknown secret must resolve to itself, got %s", got)
	}

	if _, err := EncryptString("short", "x"); err != ErrInvalidKey {
		t.Errorf("expect ErrInvalidKey, got %v", err)
	}
}
