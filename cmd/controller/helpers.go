package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/config"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/explog"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/knowledge"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/logging"
)

// #region config

// loadConfig reads the config file and applies the root flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(rootFlags.config)
	if err != nil {
		return cfg, err
	}
	if rootFlags.db != "" {
		cfg.DBPath = rootFlags.db
	}
	if rootFlags.logLevel != "" {
		cfg.Log.Level = rootFlags.logLevel
	}
	return cfg, cfg.Validate()
}

// initLogging installs the default logger. The returned closer releases the
// log file, if any.
func initLogging(cfg config.Config) (io.Closer, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	writers := []io.Writer{os.Stderr}
	var closer io.Closer = io.NopCloser(nil)
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	logging.Init(level, cfg.Log.Format, writers...)
	return closer, nil
}

// #endregion config

// #region storage

type lab struct {
	db    *sql.DB
	store *knowledge.Store
	log   *explog.Log
}

// openLab opens the database and migrates the knowledge and log tables.
func openLab(cfg config.Config) (*lab, error) {
	db, err := knowledge.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	store, err := knowledge.NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	log, err := explog.New(db, cfg.LogOptions())
	if err != nil {
		db.Close()
		return nil, err
	}
	return &lab{db: db, store: store, log: log}, nil
}

func (l *lab) Close() error {
	return l.db.Close()
}

// #endregion storage

// #region output

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
