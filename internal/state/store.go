package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	logx "ipwatch/pkg/logx"
)

// Store is the durable backing medium. It keeps no cache between calls.
type Store interface {
	// Load returns the persisted record, or an empty one if nothing was saved yet.
	// Malformed data yields an error wrapping ErrCorruptState.
	Load(ctx context.Context) (Record, error)
	// Save replaces the persisted record atomically. Failures are *PersistenceError.
	Save(ctx context.Context, r Record) error
	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQL(ctx, dialectSQLite, cfg, log)
	case "postgres", "pgx":
		return openSQL(ctx, dialectPostgres, cfg, log)
	case "s3":
		return openS3(ctx, cfg, log)
	default:
		return nil, errors.New("unknown state driver: " + driver)
	}
}

func encodeRecord(r Record) ([]byte, error) {
	return json.MarshalIndent(r.normalize(), "", "  ")
}

func decodeRecord(b []byte) (Record, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return Record{}.Clone(), nil
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return r.normalize(), nil
}
