// Package config manages the persistent settings exposed to the core
// (spec.md §6: server URL, timeout, per-room autojoin, identity,
// initial nick), adapted from the teacher's
// client/internal/config/config.go (Config/Default/Load/Save) and
// supplemented from original_source/cove-config/src/lib.rs with the
// rooms-list sort order and ephemeral-mode preferences.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RoomsSortOrder selects how the external rooms list is ordered; the
// core does no sorting itself, it only carries the preference
// (original_source/cove-config/src/lib.rs RoomsSortOrder).
type RoomsSortOrder string

const (
	SortAlphabet   RoomsSortOrder = "alphabet"
	SortImportance RoomsSortOrder = "importance"
)

// RoomEntry is one configured room: its autojoin flag and the nick to
// use if it differs from the global default.
type RoomEntry struct {
	Autojoin bool   `json:"autojoin"`
	Nick     string `json:"nick,omitempty"`
}

// Config holds all persistent user preferences for the core.
type Config struct {
	ServerURL string        `json:"server_url"`
	Timeout   time.Duration `json:"timeout"`
	Identity  string        `json:"identity"`
	Nick      string        `json:"nick"`

	Ephemeral      bool                 `json:"ephemeral"`
	RoomsSortOrder RoomsSortOrder       `json:"rooms_sort_order"`
	Rooms          map[string]RoomEntry `json:"rooms"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ServerURL:      "wss://euphoria.leet.nu",
		Timeout:        10 * time.Second,
		RoomsSortOrder: SortAlphabet,
		Rooms:          map[string]RoomEntry{},
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cove", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned, never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	if cfg.Rooms == nil {
		cfg.Rooms = map[string]RoomEntry{}
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// AutojoinRooms returns the names of every room marked for autojoin,
// in the order they appear in the map's iteration (external callers
// are expected to apply RoomsSortOrder themselves).
func (c Config) AutojoinRooms() []string {
	var names []string
	for name, entry := range c.Rooms {
		if entry.Autojoin {
			names = append(names, name)
		}
	}
	return names
}

// NickFor returns the nick to use for room, falling back to the
// config's global Nick when the room doesn't override it.
func (c Config) NickFor(room string) string {
	if entry, ok := c.Rooms[room]; ok && entry.Nick != "" {
		return entry.Nick
	}
	return c.Nick
}

// Validate reports whether the config has enough information to
// launch: a server address and a positive timeout. A nick is not
// required; a room without one waits for the user to set it.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: server_url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}
	return nil
}
