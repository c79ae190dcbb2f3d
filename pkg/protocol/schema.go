package protocol

// SchemaDDL defines the SQLite schema for the ag3 state database.
// Tables: seen_events, records, log_entries, missions, agents.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Inbound event ids already consumed (dedup set)
CREATE TABLE IF NOT EXISTS seen_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL DEFAULT '',
    seen_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS seen_events_seen_at ON seen_events(seen_at);
CREATE INDEX IF NOT EXISTS seen_events_type ON seen_events(type);

-- Whole-record JSON documents keyed by logical name, optimistically versioned
CREATE TABLE IF NOT EXISTS records (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    updated_at TEXT NOT NULL
);

-- Append-only streams (missions audit, outbound, replies, launch, cycles)
CREATE TABLE IF NOT EXISTS log_entries (
    id INTEGER PRIMARY KEY,
    stream TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS log_entries_stream ON log_entries(stream, id);

-- Every mission ever created; never deleted
CREATE TABLE IF NOT EXISTS missions (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    capability TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    assigned_to TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    assigned_at TEXT,
    completed_at TEXT,
    output TEXT
);

CREATE INDEX IF NOT EXISTS missions_status ON missions(status, seq);

-- Registered agents; never deleted, staleness inferred from last_seen
CREATE TABLE IF NOT EXISTS agents (
    name TEXT PRIMARY KEY,
    role TEXT NOT NULL DEFAULT '',
    capabilities TEXT NOT NULL DEFAULT '[]',
    endpoint TEXT NOT NULL DEFAULT '',
    registered_at TEXT NOT NULL,
    last_seen TEXT NOT NULL
);
`
