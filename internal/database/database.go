// Package database provides the crash-safe persistent store for swap session
// state and peer-identity mappings using SQLite.
//
// Two independent namespaces are kept: swap states and peer identities, both
// keyed by the 16-byte binary swap ID. A state transition is committed only
// once it has been durably flushed; a crash before the flush leaves the prior
// record intact.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	_ "github.com/mattn/go-sqlite3"

	"github.com/umbra-exchange/umbra/internal/swap"
	"github.com/umbra-exchange/umbra/pkg/logging"
)

// Database is the persistent swap store. It is safe for concurrent callers:
// writers to the same swap ID are serialized by the conditional-write
// discipline, and reads observe the latest committed record.
type Database struct {
	db  *sql.DB
	log *logging.Logger
}

// Open opens (or creates) the store under the given directory.
func Open(path string) (*Database, error) {
	log := logging.GetDefault().Component("database")
	log.Debug("Opening swap database", "path", path)

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrOpen, path, err)
	}

	dbPath := filepath.Join(path, "swaps.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS swap_states (
		swap_id BLOB PRIMARY KEY,
		state   BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS swap_peers (
		swap_id BLOB PRIMARY KEY,
		peer_id BLOB NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing schema: %v", ErrOpen, err)
	}

	return &Database{db: db, log: log}, nil
}

// Close closes the underlying database.
func (d *Database) Close() error {
	return d.db.Close()
}

// InsertPeerID durably stores the peer identity associated with a swap ID.
// The mapping is written once: a second insert with a different identity
// fails with ErrConflict, a repeat of the same identity is a no-op.
func (d *Database) InsertPeerID(id swap.ID, peerID peer.ID) error {
	key := id[:]
	value, err := serialize(peerID.String())
	if err != nil {
		return fmt.Errorf("could not serialize peer-id: %w", err)
	}

	res, err := d.db.Exec(
		"INSERT INTO swap_peers (swap_id, peer_id) VALUES (?, ?) ON CONFLICT(swap_id) DO NOTHING",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("could not write peer-id: %w: %v", ErrFlush, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFlush, err)
	}
	if n == 0 {
		existing, err := d.GetPeerID(id)
		if err != nil {
			return err
		}
		if existing != peerID {
			return fmt.Errorf("%w: peer-id for swap %s already set to %s", ErrConflict, id, existing)
		}
		return nil
	}

	return d.flush()
}

// GetPeerID returns the peer identity stored for the swap ID.
func (d *Database) GetPeerID(id swap.ID) (peer.ID, error) {
	var value []byte
	err := d.db.QueryRow("SELECT peer_id FROM swap_peers WHERE swap_id = ?", id[:]).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no peer-id for swap id %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("could not read peer-id: %w", err)
	}

	var encoded string
	if err := deserialize(value, &encoded); err != nil {
		return "", fmt.Errorf("could not deserialize peer-id: %w", err)
	}

	peerID, err := peer.Decode(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid stored peer-id: %v", ErrSerialize, err)
	}
	return peerID, nil
}

// InsertLatestState replaces the stored record for a swap ID with the given
// one. The write is conditional: it succeeds only if no other writer changed
// the record between the read and the write, otherwise it fails with
// ErrConflict. Conflicts indicate two concurrent owners of the same swap ID
// and must not be blindly retried. On success the record has been durably
// flushed before the call returns.
func (d *Database) InsertLatestState(id swap.ID, record SwapRecord) error {
	key := id[:]
	newValue, err := serialize(record)
	if err != nil {
		return fmt.Errorf("could not serialize new state value: %w", err)
	}

	oldValue, err := d.readState(key)
	if err != nil {
		return err
	}

	if oldValue != nil {
		var old SwapRecord
		if err := deserialize(oldValue, &old); err != nil {
			return fmt.Errorf("could not deserialize stored state: %w", err)
		}
		// Swap role is fixed at creation.
		if old.Role != record.Role {
			return fmt.Errorf("%w: role of swap %s would change from %s to %s",
				ErrConflict, id, old.Role, record.Role)
		}
	}

	if err := d.casState(key, oldValue, newValue); err != nil {
		return err
	}

	return d.flush()
}

// GetState returns the latest record stored for the swap ID.
func (d *Database) GetState(id swap.ID) (SwapRecord, error) {
	value, err := d.readState(id[:])
	if err != nil {
		return SwapRecord{}, err
	}
	if value == nil {
		return SwapRecord{}, fmt.Errorf("%w: swap with id %s", ErrNotFound, id)
	}

	var record SwapRecord
	if err := deserialize(value, &record); err != nil {
		return SwapRecord{}, fmt.Errorf("could not deserialize state: %w", err)
	}
	return record, nil
}

// InitiatorSwap pairs a swap ID with its initiator-role state.
type InitiatorSwap struct {
	ID    swap.ID
	State InitiatorState
}

// ResponderSwap pairs a swap ID with its responder-role state.
type ResponderSwap struct {
	ID    swap.ID
	State ResponderState
}

// AllInitiator returns every stored swap downcast to the initiator role. If
// any record belongs to the responder role the whole enumeration fails with
// ErrNotInitiator: a mixed store is an integrity violation, not something to
// silently filter.
func (d *Database) AllInitiator() ([]InitiatorSwap, error) {
	var out []InitiatorSwap
	err := d.forEachSwap(func(id swap.ID, record SwapRecord) error {
		state, err := record.AsInitiator()
		if err != nil {
			return err
		}
		out = append(out, InitiatorSwap{ID: id, State: state})
		return nil
	})
	return out, err
}

// AllResponder is the responder-role counterpart of AllInitiator.
func (d *Database) AllResponder() ([]ResponderSwap, error) {
	var out []ResponderSwap
	err := d.forEachSwap(func(id swap.ID, record SwapRecord) error {
		state, err := record.AsResponder()
		if err != nil {
			return err
		}
		out = append(out, ResponderSwap{ID: id, State: state})
		return nil
	})
	return out, err
}

// UnfinishedInitiator returns the initiator swaps that have not reached their
// terminal state, with the same strict role check as AllInitiator.
func (d *Database) UnfinishedInitiator() ([]InitiatorSwap, error) {
	all, err := d.AllInitiator()
	if err != nil {
		return nil, err
	}
	unfinished := all[:0]
	for _, s := range all {
		if !s.State.IsDone() {
			unfinished = append(unfinished, s)
		}
	}
	return unfinished, nil
}

// UnfinishedResponder returns the responder swaps that have not reached their
// terminal state.
func (d *Database) UnfinishedResponder() ([]ResponderSwap, error) {
	all, err := d.AllResponder()
	if err != nil {
		return nil, err
	}
	unfinished := all[:0]
	for _, s := range all {
		if !s.State.IsDone() {
			unfinished = append(unfinished, s)
		}
	}
	return unfinished, nil
}

// readState returns the raw stored value for the key, or nil if absent.
func (d *Database) readState(key []byte) ([]byte, error) {
	var value []byte
	err := d.db.QueryRow("SELECT state FROM swap_states WHERE swap_id = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read swap state: %w", err)
	}
	return value, nil
}

// casState writes newValue for key only if the stored value still equals
// oldValue (nil meaning "no entry"). Anything else is a conflict.
func (d *Database) casState(key, oldValue, newValue []byte) error {
	var (
		res sql.Result
		err error
	)
	if oldValue == nil {
		res, err = d.db.Exec(
			"INSERT INTO swap_states (swap_id, state) VALUES (?, ?) ON CONFLICT(swap_id) DO NOTHING",
			key, newValue,
		)
	} else {
		res, err = d.db.Exec(
			"UPDATE swap_states SET state = ? WHERE swap_id = ? AND state = ?",
			newValue, key, oldValue,
		)
	}
	if err != nil {
		return fmt.Errorf("could not write swap state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not write swap state: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// forEachSwap iterates over every stored record in key order.
func (d *Database) forEachSwap(fn func(swap.ID, SwapRecord) error) error {
	rows, err := d.db.Query("SELECT swap_id, state FROM swap_states ORDER BY swap_id")
	if err != nil {
		return fmt.Errorf("failed to retrieve swaps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to retrieve swap: %w", err)
		}

		id, err := uuid.FromBytes(key)
		if err != nil {
			return fmt.Errorf("%w: invalid stored swap id: %v", ErrSerialize, err)
		}

		var record SwapRecord
		if err := deserialize(value, &record); err != nil {
			return fmt.Errorf("failed to deserialize swap: %w", err)
		}

		if err := fn(id, record); err != nil {
			return err
		}
	}
	return rows.Err()
}

// flush forces the WAL to the main database file so the preceding write
// survives a crash. A write is committed only once this returns nil.
func (d *Database) flush() error {
	var busy, logPages, checkpointed int
	err := d.db.QueryRow("PRAGMA wal_checkpoint(FULL)").Scan(&busy, &logPages, &checkpointed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFlush, err)
	}
	if busy != 0 {
		return fmt.Errorf("%w: checkpoint blocked by a concurrent reader", ErrFlush)
	}
	return nil
}
