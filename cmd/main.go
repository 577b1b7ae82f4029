package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cognitedata/edge-camera-remote/drivers/camera/sony"
	"github.com/cognitedata/edge-camera-remote/integrations/remote_control"
	"github.com/cognitedata/edge-camera-remote/internal"
	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
)

var Version string
var EncryptionKey = ""
var systemLog service.Logger
var fullConfigPath string

type Integration interface {
	Start() error
	Stop()
}

var integrReg map[string]Integration
var cameraReg []*sony.Camera

type program struct{}

func (p *program) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	go p.run()
	return nil
}

func (p *program) run() {
	systemLog.Info("----Starting camera remote service-------")
	systemLog.Infof("Loading configuration from file %s", fullConfigPath)
	if err := startCameraRemote(fullConfigPath); err != nil {
		systemLog.Error(err.Error())
	}
}

func (p *program) Stop(s service.Service) error {
	// Stop should not block. Return with a few seconds.
	systemLog.Info("----Stopping camera remote service-------")
	stopCameraRemote()
	return nil
}

func configureService() service.Service {
	svcConfig := service.Config{
		Name:        "cog-camera-remote",
		DisplayName: "Cognite camera remote",
		Description: "Remote control service for Sony cameras",
		Arguments:   []string{"-config", fullConfigPath},
	}
	var prg program
	appService, err := service.New(&prg, &svcConfig)
	if err != nil {
		log.Fatal(err)
	}
	systemLog, err = appService.Logger(nil)
	if err != nil {
		fmt.Printf("Error initializing system logger %s", err.Error())
	}
	return appService
}

func configureLogger(logPath, level string) {
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		DisableColors:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})
	if logPath != "" && logPath != "-" {
		logPath = filepath.Join(logPath, "camera-remote.log")
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
		if err != nil {
			fmt.Printf("error opening file: %v", err)
			return
		}
		log.SetOutput(f)
	}
}

func startCameraRemote(mainConfigPath string) error {
	config, err := internal.LoadConfig(mainConfigPath)
	if err != nil {
		return err
	}

	logDir := internal.GetBinaryDir()
	if config.LogDir != "" {
		logDir = config.LogDir
	}
	configureLogger(logDir, config.LogLevel)
	log.Infof("Starting camera remote. Camera %s:%d", config.Camera.Host, config.Camera.Port)

	secretManager := internal.NewSecretManager(EncryptionKey)
	if err := secretManager.LoadEncryptedSecrets(config.Secrets); err != nil {
		log.Error("Some secrets could not be decrypted: ", err)
	}

	if config.ImageDir != "" {
		if err := os.MkdirAll(config.ImageDir, 0755); err != nil {
			return fmt.Errorf("image directory can't be created: %w", err)
		}
	}

	cam := sony.New(remote_control.NewCameraConfig(config.Camera, secretManager))
	cameraReg = append(cameraReg, cam)

	integrReg = make(map[string]Integration)
	intgr := remote_control.NewRemoteControl(remote_control.NewConfig(config), cam)
	if err := intgr.Start(); err != nil {
		log.Errorf("remote_control integration can't be started. Error : %s", err.Error())
		return err
	}
	integrReg["remote_control"] = intgr
	return nil
}

func stopCameraRemote() {
	for _, intgr := range integrReg {
		intgr.Stop()
	}
	for _, cam := range cameraReg {
		cam.Close()
	}
}

func main() {
	log.Infof("----- Starting camera-remote - version = %s ----------", Version)

	mainConfigPath := flag.String("config", "config.json", "Full path to main configuration file (json or yaml)")
	base64encodedConfig := flag.String("bconfig", "", "Base64 encoded config")
	op := flag.String("op", "", "Supported operations : 'gen_config,encrypt_secret,version,install,uninstall,run,prepare_linux_env,remove_linux_env,update_binary' ")
	textToEncrypt := flag.String("secret", "", "Secret to encrypt")
	flag.Parse()

	fullConfigPath = *mainConfigPath
	if *mainConfigPath == "config.json" {
		fullConfigPath = filepath.Join(internal.GetBinaryDir(), *mainConfigPath)
	}

	// User can configure app by passing configurations as one base64 encoded string
	if *base64encodedConfig != "" {
		log.Info("Loading configuration from cmd line parameter")
		body, err := base64.StdEncoding.DecodeString(*base64encodedConfig)
		if err != nil {
			log.Errorf("Error decoding base64 encoded config: %s ", err.Error())
			return
		}
		if err := os.WriteFile(fullConfigPath, body, 0644); err != nil {
			log.Error("Failed to write config file: ", err)
			return
		}
	}

	internal.Key = EncryptionKey
	if EncryptionKey != "" {
		log.Info("Encryption key is set . Will try to decrypt secrets")
	} else {
		log.Info("Encryption key is not set .")
	}

	switch *op {
	case "gen_config":
		log.Info("Generating config file")
		config := internal.DefaultConfig()
		if err := internal.WriteConfig("config.json", config); err != nil {
			log.Error("Failed to write config file: ", err)
		}
	case "version":
		fmt.Println(Version)
	case "encrypt_secret":
		if EncryptionKey == "" {
			fmt.Println("Please provide encryption key")
			return
		}
		if *textToEncrypt == "" {
			fmt.Println("Please provide text to encrypt")
			return
		}
		encrypted, err := internal.EncryptString(internal.Key, *textToEncrypt)
		if err != nil {
			fmt.Println("Failed to encrypt string. Err:", err.Error())
			return
		}
		fmt.Println("Encrypted string : ", encrypted)
	case "install":
		log.Info("Installing camera-remote service")
		appService := configureService()
		err := appService.Install()
		if err != nil {
			log.Error("Failed to install service.Make sure you run installation as system administrator Err: ", err.Error())
		} else if err = appService.Start(); err != nil {
			log.Error("Failed to run service. Err: ", err.Error())
		}
	case "uninstall":
		log.Info("Uninstalling camera-remote service")
		appService := configureService()
		if err := appService.Uninstall(); err != nil {
			log.Error("Failed to uninstall service", err.Error())
		}
	case "prepare_linux_env":
		if err := internal.PrepareLinuxServiceEnv(fullConfigPath); err != nil {
			fmt.Println("Failed to prepare service environment. Err:", err.Error())
		}
	case "remove_linux_env":
		internal.RemoveLinuxServiceEnv()
	case "update_binary":
		if err := internal.UpdateLinuxServiceBinary(); err != nil {
			fmt.Println("Failed to update binary. Err:", err.Error())
		}
	case "run":
		// Should be used to start service from CLI
		if err := startCameraRemote(fullConfigPath); err != nil {
			log.Error(err)
			os.Exit(1)
		}
		select {}
	default:
		// Used by OS service supervisor
		appService := configureService()
		if err := appService.Run(); err != nil {
			log.Error(err)
		}
	}
}
