package persistence

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// RadioStore remembers the address of the last radio we connected to.
type RadioStore struct {
	filepath string
}

// NewRadioStore creates a RadioStore under the XDG data directory
func NewRadioStore() (*RadioStore, error) {
	path, err := xdg.DataFile("flexdv/last_radio")
	if err != nil {
		return nil, fmt.Errorf("failed to get data file path: %w", err)
	}
	return &RadioStore{filepath: path}, nil
}

// NewRadioStoreAt stores the address in an explicit file.
func NewRadioStoreAt(path string) *RadioStore {
	return &RadioStore{filepath: path}
}

func (rs *RadioStore) Path() string {
	return rs.filepath
}

// Load retrieves the stored address
func (rs *RadioStore) Load() (string, error) {
	file, err := os.Open(rs.filepath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	contents, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}

	addr := strings.TrimSpace(string(contents))
	if addr == "" {
		return "", fmt.Errorf("%s is empty", rs.filepath)
	}
	return addr, nil
}

// Save stores the address to disk
func (rs *RadioStore) Save(address string) error {
	if err := os.MkdirAll(filepath.Dir(rs.filepath), 0o755); err != nil {
		return err
	}
	file, err := os.Create(rs.filepath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = fmt.Fprintf(file, "%s\n", address)
	return err
}
