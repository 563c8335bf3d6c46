package bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform 提供宿主环境信息。
type Platform interface {
	Version() string
	DocumentsDir() (string, error)
}

// HostPlatform 读取当前进程所在主机的信息。
type HostPlatform struct {
	// Documents 非空时直接使用该目录，否则为 $HOME/Documents。
	Documents string
}

// Version 返回形如 "Linux 6.1.0" 的平台描述。
func (p HostPlatform) Version() string {
	return osName() + " " + osRelease()
}

// DocumentsDir 返回应用文档目录。目录必须已经存在，不会被创建。
func (p HostPlatform) DocumentsDir() (string, error) {
	dir := strings.TrimSpace(p.Documents)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Documents")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

func osName() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux"
	case "darwin":
		return "macOS"
	case "ios":
		return "iOS"
	case "android":
		return "Android"
	case "windows":
		return "Windows"
	case "freebsd":
		return "FreeBSD"
	default:
		return runtime.GOOS
	}
}

var errNoDocuments = errors.New("documents directory unavailable")

// StaticPlatform 返回固定值，便于测试和嵌入场景。
type StaticPlatform struct {
	Name string
	Dir  string
	Err  error
}

// Version 实现 Platform。
func (p StaticPlatform) Version() string { return p.Name }

// DocumentsDir 实现 Platform。
func (p StaticPlatform) DocumentsDir() (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	if p.Dir == "" {
		return "", errNoDocuments
	}
	return p.Dir, nil
}
