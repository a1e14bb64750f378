package store

import (
	"encoding/json"
	"fmt"

	"launchctl/pkg/config"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket    = "launchctl"
	configKey = "config"
)

// Store persists the application configuration. Session state is never
// stored.
type Store struct {
	db *bolt.DB
}

// NewStore creates a new store instance and writes the default configuration
// if none is stored yet.
func NewStore(db *bolt.DB) (*Store, error) {
	st := Store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default config")
		if err := s.SetConfig(config.Default()); err != nil {
			return fmt.Errorf("failed to store default config: %w", err)
		}
	}
	return nil
}

// SetConfig validates cfg and saves it as JSON.
func (s *Store) SetConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	value, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(configKey), value)
	})
}

// GetConfig retrieves the stored configuration. Fields added since it was
// stored take their default value.
func (s *Store) GetConfig() (*config.Config, error) {
	cfg := config.Default()

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(configKey))
		if value == nil {
			return fmt.Errorf("key %s not found", configKey)
		}

		return json.Unmarshal(value, cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
