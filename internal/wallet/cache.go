package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AddressCache persists the active address across restarts.
type AddressCache interface {
	Load() (string, error)
	Store(address string) error
	Clear() error
}

// NopCache remembers nothing.
type NopCache struct{}

func (NopCache) Load() (string, error) { return "", nil }
func (NopCache) Store(string) error    { return nil }
func (NopCache) Clear() error          { return nil }

// FileCache keeps the address in a small JSON file.
type FileCache struct {
	Path string
}

type cachedSession struct {
	Address string `json:"address"`
}

func (c FileCache) Load() (string, error) {
	b, err := os.ReadFile(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var cs cachedSession
	if err := json.Unmarshal(b, &cs); err != nil {
		return "", fmt.Errorf("decode %s: %w", c.Path, err)
	}
	return cs.Address, nil
}

func (c FileCache) Store(address string) error {
	b, err := json.Marshal(cachedSession{Address: address})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".wallet-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.Path)
}

func (c FileCache) Clear() error {
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
