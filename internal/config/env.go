package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFile applies KEY=VALUE pairs from path. A missing file is ignored and
// variables already present in the environment win.
func LoadEnvFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &LoadError{Stage: StageEnvFile, Err: err}
	}
	if info.IsDir() {
		return &LoadError{Stage: StageEnvFile, Err: fmt.Errorf("%s is a directory", path)}
	}
	if err := godotenv.Load(path); err != nil {
		return &LoadError{Stage: StageEnvFile, Err: err}
	}
	return nil
}
