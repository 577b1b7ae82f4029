package internal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	LinuxUser        = "camera-remote"
	LinuxBin         = "/usr/local/bin/camera-remote"
	LinuxConfigDir   = "/etc/camera-remote"
	LinuxLogDir      = "/var/log/camera-remote"
	LinuxImageDir    = "/var/lib/camera-remote/images"
	linuxServiceUnit = "cog-camera-remote"
)

// PrepareLinuxServiceEnv creates the service user, installs the running
// binary, and creates the config, log and image directories.
func PrepareLinuxServiceEnv(configPath string) error {
	fmt.Println("1. creating " + LinuxUser + " user and group")
	if err := exec.Command("useradd", "-r", "-s", "/bin/false", LinuxUser).Run(); err != nil {
		fmt.Println("1. error creating user, most likely already exists : " + err.Error())
	}

	fmt.Println("2. installing binary to " + LinuxBin)
	if err := installRunningBinary(); err != nil {
		return err
	}

	fmt.Println("3. creating directories")
	for _, dir := range []string{LinuxConfigDir, LinuxLogDir, LinuxImageDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	target := filepath.Join(LinuxConfigDir, filepath.Base(configPath))
	if _, err := os.Stat(target); err == nil {
		fmt.Println("4. config file already exists")
	} else if _, err := os.Stat(configPath); err == nil {
		fmt.Println("4. copying config file to " + target)
		if err := copyFile(configPath, target, 0640); err != nil {
			return err
		}
	} else {
		fmt.Println("4. config file not found, generate one with -op gen_config")
	}

	fmt.Println("5. changing owner of log and image directories")
	for _, dir := range []string{LinuxLogDir, filepath.Dir(LinuxImageDir)} {
		if err := exec.Command("chown", "-R", LinuxUser+":"+LinuxUser, dir).Run(); err != nil {
			return fmt.Errorf("changing owner of %s: %w", dir, err)
		}
	}
	return nil
}

// RemoveLinuxServiceEnv reverts PrepareLinuxServiceEnv. Captured images are kept.
func RemoveLinuxServiceEnv() error {
	fmt.Println("1. removing " + LinuxUser + " user and group")
	if err := exec.Command("userdel", LinuxUser).Run(); err != nil {
		fmt.Println("1. error removing user : " + err.Error())
	}
	for i, path := range []string{LinuxBin, LinuxConfigDir, LinuxLogDir} {
		fmt.Printf("%d. removing %s\n", i+2, path)
		if err := os.RemoveAll(path); err != nil {
			fmt.Printf("%d. error removing %s : %s\n", i+2, path, err)
		}
	}
	return nil
}

// UpdateLinuxServiceBinary replaces the installed binary with the running one
// and restarts the service.
func UpdateLinuxServiceBinary() error {
	fmt.Println("WARNING: This operation will update the camera-remote binary. It might require root privileges.")
	fmt.Println("1. stopping service")
	if err := exec.Command("systemctl", "stop", linuxServiceUnit).Run(); err != nil {
		fmt.Println("1. error stopping service. Stop service manually. Error: " + err.Error())
	}
	fmt.Println("2. updating binary")
	if err := installRunningBinary(); err != nil {
		return err
	}
	fmt.Println("3. starting service")
	if err := exec.Command("systemctl", "start", linuxServiceUnit).Run(); err != nil {
		fmt.Println("3. error starting service. Start service manually. Error: " + err.Error())
	}
	return nil
}

func installRunningBinary() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if exe == LinuxBin {
		return nil
	}
	return copyFile(exe, LinuxBin, 0755)
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
