//go:build onnx

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
)

// ortLocator finds the ONNX Runtime shared library. The filesystem, the
// environment and the executable/working directories are injected so the
// search order can be tested without touching the real machine.
type ortLocator struct {
	fs     afero.Fs
	lookup func(string) (string, bool)
	exeDir func() (string, error)
	cwd    func() (string, error)
}

func defaultORTLocator() ortLocator {
	return ortLocator{
		fs:     afero.NewOsFs(),
		lookup: os.LookupEnv,
		exeDir: func() (string, error) {
			exe, err := os.Executable()
			if err != nil {
				return "", err
			}
			return filepath.Dir(exe), nil
		},
		cwd: os.Getwd,
	}
}

// resolve returns the path to the ONNX Runtime shared library.
// Search order:
//  1. NUPI_ORT_LIB_PATH environment variable (explicit override)
//  2. lib/<goos>-<goarch>/ relative to executable
//  3. ../lib/<goos>-<goarch>/ relative to executable (bin/ layout)
//  4. lib/<goos>-<goarch>/ and ../lib/<goos>-<goarch>/ relative to CWD,
//     only if NUPI_DEV_MODE=1
//
// CWD-based lookup is disabled by default to prevent shared library hijacking.
func (l ortLocator) resolve() (string, error) {
	if envPath, ok := l.lookup("NUPI_ORT_LIB_PATH"); ok && envPath != "" {
		info, err := l.fs.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("ort: NUPI_ORT_LIB_PATH=%q does not exist", envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("ort: NUPI_ORT_LIB_PATH=%q is a directory, expected a file", envPath)
		}
		return envPath, nil
	}

	filename := ortLibFilename()
	platform := runtime.GOOS + "-" + runtime.GOARCH
	rels := []string{
		filepath.Join("lib", platform, filename),
		filepath.Join("..", "lib", platform, filename),
	}

	if dir, err := l.exeDir(); err == nil {
		if path, ok := l.firstExisting(dir, rels); ok {
			return path, nil
		}
	}

	if mode, _ := l.lookup("NUPI_DEV_MODE"); mode == "1" {
		if dir, err := l.cwd(); err == nil {
			if path, ok := l.firstExisting(dir, rels); ok {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("ort: shared library not found; searched lib/<os>-<arch>/%s relative to executable (set NUPI_ORT_LIB_PATH to override, or NUPI_DEV_MODE=1 to enable CWD lookup)", filename)
}

func (l ortLocator) firstExisting(dir string, rels []string) (string, bool) {
	for _, rel := range rels {
		path := filepath.Join(dir, rel)
		if info, err := l.fs.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// ortLibFilename returns the platform-specific ONNX Runtime library filename.
func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
