package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. An empty path loads ./.env.
// A missing file is not an error; malformed files are reported.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	var err error
	if path == "" {
		err = godotenv.Load()
	} else {
		err = godotenv.Load(path)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
