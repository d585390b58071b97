package kv

import (
	"context"
	"errors"
	"fmt"

	"buybot/internal/settings"

	"github.com/tidwall/buntdb"
)

const buntSettingsKey = "settings:bot"

// BuntSettings stores the settings blob under one key in a BuntDB file.
// Pass ":memory:" for a throwaway store.
type BuntSettings struct {
	db *buntdb.DB
}

func OpenBuntSettings(path string) (*BuntSettings, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}
	if err := db.SetConfig(buntdb.Config{SyncPolicy: buntdb.Always}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}
	return &BuntSettings{db: db}, nil
}

func (b *BuntSettings) Load(_ context.Context) ([]byte, error) {
	var body string
	err := b.db.View(func(tx *buntdb.Tx) error {
		var err error
		body, err = tx.Get(buntSettingsKey)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, settings.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return []byte(body), nil
}

func (b *BuntSettings) Save(_ context.Context, data []byte) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(buntSettingsKey, string(data), nil); err != nil {
			return fmt.Errorf("failed to store settings: %w", err)
		}
		return nil
	})
}

func (b *BuntSettings) Close() error {
	return b.db.Close()
}
