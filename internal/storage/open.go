package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	logx "remindbot/pkg/logx"
)

// Store is the persistence API used by the reminder lifecycle. Every query is
// scoped by owner except ListPending, which is used to restore triggers.
type Store interface {
	// Create persists r. An empty ID is replaced by a new UUID and a zero
	// CreatedAt by the current time. The stored record is returned.
	Create(ctx context.Context, r Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]Record, error)
	ListPending(ctx context.Context) ([]Record, error)
	MarkCompleted(ctx context.Context, id string) error
	// Delete removes a single record.
	Delete(ctx context.Context, id string) error
	// DeleteAllByOwner removes every record of ownerID and returns them.
	DeleteAllByOwner(ctx context.Context, ownerID int64) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory", "none":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// prepare validates r and fills ID and CreatedAt.
func prepare(r Record) (Record, error) {
	if r.OwnerID == 0 {
		return r, fmt.Errorf("%w: owner id required", ErrInvalidRecord)
	}
	if r.DestinationID == 0 {
		return r, fmt.Errorf("%w: destination id required", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return r, nil
}
