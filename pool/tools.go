package pool

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
	"go.uber.org/zap"
)

// CopyFile from src to dest with optional src file info
func CopyFile(src string, dest string, si fs.FileInfo) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(sf)
	df, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(df)
	if _, err = io.Copy(df, sf); err != nil {
		return
	}
	if si == nil {
		if si, err = os.Stat(src); err != nil {
			return
		}
	}
	return os.Chmod(dest, si.Mode())
}

// CopyDir from src to dest with optional src file info
func CopyDir(src string, dest string, si fs.FileInfo) (err error) {
	if si == nil {
		if si, err = os.Stat(src); err != nil {
			return err
		}
	}
	if err = os.MkdirAll(dest, si.Mode()); err != nil {
		return err
	}
	return filepath.Walk(src, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == src {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dp := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(dp, info.Mode())
		}
		return CopyFile(path, dp, info)
	})
}

// Imports writes the importcfg of the go sources to cfg, which Compile reads.
func Imports(debug bool, cfg string, src []string) (err error) {
	log := logger(debug)
	out, err := goCmd(log, append([]string{"list", "-export", "-f", "{{.Imports}}"}, src...)...)
	if err != nil {
		return fmt.Errorf("inspect imports: %w", err)
	}
	out = strings.TrimSpace(out)
	if out != "" && out[0] == '[' {
		out = out[1 : len(out)-1]
	}
	deps := strings.Fields(out)
	log.Debugw("imports", "sources", src, "deps", deps)
	out, err = goCmd(log, append([]string{"list", "-export", "-f", "{{if .Export}}packagefile {{.ImportPath}}={{.Export}}{{end}}", "std"}, deps...)...)
	if err != nil {
		return fmt.Errorf("inspect dependencies: %w", err)
	}
	return os.WriteFile(cfg, []byte(out), 0o644)
}

// Compile the go sources of package pkg into the object file out.
func Compile(debug bool, cfg, pkg, out string, src []string) (err error) {
	if pkg == "" {
		pkg = "main"
	}
	_, err = goCmd(logger(debug), append([]string{"tool", "compile", "-importcfg", cfg, "-p", pkg, "-o", out}, src...)...)
	return
}

func goCmd(log *zap.SugaredLogger, args ...string) (string, error) {
	cmd := exec.Command("go", args...)
	log.Debugf("execute: %v", cmd.Args)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return "", fmt.Errorf("%w\nerr:%s", err, stderr.String())
		}
		return "", err
	}
	return string(out), nil
}

// Inspect display symbols inside an object file
func Inspect(file, pkg string) ([]string, error) {
	return goloader.Parse(file, pkg)
}
