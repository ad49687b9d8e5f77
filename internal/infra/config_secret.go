package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// SecretEnvFile is the default dotenv file holding PERP_* credentials.
const SecretEnvFile = ".env"

// LoadSecretEnv loads PERP_* credentials from a dotenv file into the process
// environment. Variables already set are not overwritten. A missing file is not an error.
func LoadSecretEnv(path string) error {
	if path == "" {
		path = SecretEnvFile
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load secret env: %w", err)
	}
	return nil
}
