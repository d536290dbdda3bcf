//go:build onnx

package engine

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/afero"
)

func testLocator(fs afero.Fs, env map[string]string) ortLocator {
	return ortLocator{
		fs: fs,
		lookup: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
		exeDir: func() (string, error) { return "/opt/kws/bin", nil },
		cwd:    func() (string, error) { return "/work", nil },
	}
}

func libPath(dir string) string {
	return filepath.Join(dir, "lib", runtime.GOOS+"-"+runtime.GOARCH, ortLibFilename())
}

func touch(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte("fake"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveORTLibPath_EnvOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/custom/libonnxruntime.so")

	path, err := testLocator(fs, map[string]string{"NUPI_ORT_LIB_PATH": "/custom/libonnxruntime.so"}).resolve()
	if err != nil {
		t.Fatal(err)
	}
	if path != "/custom/libonnxruntime.so" {
		t.Fatalf("path = %q", path)
	}
}

func TestResolveORTLibPath_EnvOverrideMissing(t *testing.T) {
	_, err := testLocator(afero.NewMemMapFs(), map[string]string{"NUPI_ORT_LIB_PATH": "/nonexistent/ort.so"}).resolve()
	if err == nil {
		t.Fatal("expected error for non-existent NUPI_ORT_LIB_PATH")
	}
}

func TestResolveORTLibPath_EnvOverrideIsDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/custom", 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := testLocator(fs, map[string]string{"NUPI_ORT_LIB_PATH": "/custom"}).resolve(); err == nil {
		t.Fatal("expected error when NUPI_ORT_LIB_PATH is a directory")
	}
}

func TestResolveORTLibPath_ExecutableRelative(t *testing.T) {
	fs := afero.NewMemMapFs()
	want := libPath("/opt/kws")
	touch(t, fs, want)

	path, err := testLocator(fs, nil).resolve()
	if err != nil {
		t.Fatal(err)
	}
	if path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
}

func TestResolveORTLibPath_CwdRequiresDevMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	want := libPath("/work")
	touch(t, fs, want)

	if _, err := testLocator(fs, nil).resolve(); err == nil {
		t.Fatal("CWD library used without NUPI_DEV_MODE")
	}

	path, err := testLocator(fs, map[string]string{"NUPI_DEV_MODE": "1"}).resolve()
	if err != nil {
		t.Fatal(err)
	}
	if path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
}

func TestResolveORTLibPath_ExecutableLookupFailure(t *testing.T) {
	loc := testLocator(afero.NewMemMapFs(), nil)
	loc.exeDir = func() (string, error) { return "", errors.New("no executable") }
	if _, err := loc.resolve(); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestOrtLibFilename(t *testing.T) {
	name := ortLibFilename()
	switch runtime.GOOS {
	case "darwin":
		if name != "libonnxruntime.dylib" {
			t.Fatalf("got %q", name)
		}
	case "windows":
		if name != "onnxruntime.dll" {
			t.Fatalf("got %q", name)
		}
	default:
		if name != "libonnxruntime.so" {
			t.Fatalf("got %q", name)
		}
	}
}
