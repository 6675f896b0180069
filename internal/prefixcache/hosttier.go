package prefixcache

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// HostTier is a durable second-tier spill for entries demoted out of
// Redis under capacity pressure (SPEC_FULL.md §4.2b) — original_source
// only ever writes tier "hbm"; this completes the three-tier story
// spec.md's Prefix-cache-entry type names (hbm/host/cold).
type HostTier struct {
	db *sql.DB
}

// OpenHostTier opens (creating if absent) a sqlite-backed host tier at
// path. Pass ":memory:" for tests.
func OpenHostTier(path string) (*HostTier, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("hosttier: open %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS host_entries (
	fingerprint TEXT PRIMARY KEY,
	meta TEXT NOT NULL,
	ts REAL NOT NULL,
	nodes TEXT NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("hosttier: create schema: %w", err)
	}
	return &HostTier{db: db}, nil
}

// Close releases the underlying database handle.
func (h *HostTier) Close() error { return h.db.Close() }

// Demote copies entry's metadata into the host tier, keyed by fp.
func (h *HostTier) Demote(ctx context.Context, fp []byte, entry Entry) error {
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("hosttier: marshal meta: %w", err)
	}
	nodesJSON, err := json.Marshal(entry.Nodes)
	if err != nil {
		return fmt.Errorf("hosttier: marshal nodes: %w", err)
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO host_entries (fingerprint, meta, ts, nodes) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET meta=excluded.meta, ts=excluded.ts, nodes=excluded.nodes`,
		hex.EncodeToString(fp), string(metaJSON), entry.TS, string(nodesJSON))
	if err != nil {
		return fmt.Errorf("hosttier: insert: %w", err)
	}
	return nil
}

// Get returns a demoted entry by fingerprint, or (Entry{}, false) if it
// was never spilled to the host tier.
func (h *HostTier) Get(ctx context.Context, fp []byte) (Entry, bool) {
	row := h.db.QueryRowContext(ctx,
		`SELECT meta, ts, nodes FROM host_entries WHERE fingerprint = ?`, hex.EncodeToString(fp))

	var metaJSON, nodesJSON string
	var ts float64
	if err := row.Scan(&metaJSON, &ts, &nodesJSON); err != nil {
		return Entry{}, false
	}

	entry := Entry{TS: ts, Tier: "host"}
	_ = json.Unmarshal([]byte(metaJSON), &entry.Meta)
	_ = json.Unmarshal([]byte(nodesJSON), &entry.Nodes)
	return entry, true
}

// Evict permanently removes fp from the host tier.
func (h *HostTier) Evict(ctx context.Context, fp []byte) error {
	_, err := h.db.ExecContext(ctx, `DELETE FROM host_entries WHERE fingerprint = ?`, hex.EncodeToString(fp))
	return err
}
