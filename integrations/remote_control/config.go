package remote_control

import (
	"time"

	"github.com/cognitedata/edge-camera-remote/drivers/camera/sony"
	"github.com/cognitedata/edge-camera-remote/internal"
)

type Config struct {
	ListenAddr          string
	ImageDir            string // captured images are saved here when set
	AutoStartViewfinder bool
	ConnectRetry        time.Duration
}

func NewConfig(static *internal.StaticConfig) Config {
	return Config{
		ListenAddr:          static.ListenAddr,
		ImageDir:            static.ImageDir,
		AutoStartViewfinder: static.AutoStartViewfinder,
		ConnectRetry:        time.Duration(static.Camera.RetryIntervalSec) * time.Second,
	}
}

// NewCameraConfig converts the camera section of the service config. The
// password may name an encrypted secret.
func NewCameraConfig(camera internal.CameraConfig, secretManager *internal.SecretManager) sony.Config {
	password := camera.Password
	if secretManager != nil && password != "" {
		password = secretManager.GetSecret(password)
	}
	return sony.Config{
		Host:           camera.Host,
		Port:           camera.Port,
		Path:           camera.Path,
		MinAppVersion:  camera.MinAppVersion,
		Username:       camera.Username,
		Password:       password,
		ProbeTimeout:   time.Duration(camera.ProbeTimeoutSec) * time.Second,
		CallTimeout:    time.Duration(camera.CallTimeoutSec) * time.Second,
		RetryInterval:  time.Duration(camera.RetryIntervalSec) * time.Second,
		ReconnectDelay: time.Duration(camera.ReconnectDelaySec) * time.Second,
	}
}
