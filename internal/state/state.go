package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the settings data directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the settings database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	settingsBucket = []byte("settings")
	syncBucket     = []byte("sync")

	configLocationKey = []byte("config_location")
	envLocationKey    = []byte("env_location")
)

// Settings are the operator's persisted file locations. Empty fields
// mean "use the default".
type Settings struct {
	ConfigLocation string `json:"config_location"`
	EnvLocation    string `json:"env_location"`
}

// SyncRecord describes the last completed pass in one direction.
type SyncRecord struct {
	Direction string    `json:"direction"`
	Finished  time.Time `json:"finished"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
}

// State wraps a bbolt database holding operator settings. Nothing in it
// is required for a sync pass to be correct.
type State struct {
	db *bolt.DB
}

// Load opens the settings database under the user's config directory,
// creating it if it does not exist.
func Load() (*State, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a settings database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(settingsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(syncBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Settings returns the persisted file locations.
func (s *State) Settings() Settings {
	var st Settings

	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		st.ConfigLocation = string(b.Get(configLocationKey))
		st.EnvLocation = string(b.Get(envLocationKey))

		return nil
	})

	return st
}

// SetConfigLocation persists the path of the wiki TOML file. An empty
// path clears the setting.
func (s *State) SetConfigLocation(path string) error {
	return s.putSetting(configLocationKey, path)
}

// SetEnvLocation persists the path of the credentials env file. An empty
// path clears the setting.
func (s *State) SetEnvLocation(path string) error {
	return s.putSetting(envLocationKey, path)
}

func (s *State) putSetting(key []byte, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		if value == "" {
			return b.Delete(key)
		}

		return b.Put(key, []byte(value))
	})
}

// RecordSync stores the outcome of a completed pass, replacing the
// previous record for the same direction.
func (s *State) RecordSync(rec SyncRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return tx.Bucket(syncBucket).Put([]byte(rec.Direction), data)
	})
}

// LastSync returns the last completed pass for a direction, or nil if
// none has been recorded.
func (s *State) LastSync(direction string) (*SyncRecord, error) {
	var rec *SyncRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(syncBucket).Get([]byte(direction))
		if v == nil {
			return nil
		}

		rec = &SyncRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// dbPath returns ~/.config/obsidian_to_bookstack/data/settings.db.
func dbPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".config", "obsidian_to_bookstack", "data", "settings.db"), nil
}
