package store

// schemaVersion is the current schema. Fresh installs create it directly.
const schemaVersion = 1

var schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	root       TEXT NOT NULL,
	ref        TEXT NOT NULL,
	created_at TEXT NOT NULL
);

-- One row per tracked file at the last committed snapshot.
CREATE TABLE IF NOT EXISTS manifest_entries (
	project_id   TEXT NOT NULL REFERENCES projects(id),
	path         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	role         TEXT NOT NULL DEFAULT 'other',
	PRIMARY KEY (project_id, path)
);

-- The full merged fact set, one JSON payload per project.
CREATE TABLE IF NOT EXISTS aggregates (
	project_id TEXT PRIMARY KEY REFERENCES projects(id),
	payload    BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sections (
	project_id    TEXT NOT NULL REFERENCES projects(id),
	key           TEXT NOT NULL,
	content       TEXT NOT NULL,
	commit_marker TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (project_id, key)
);

CREATE TABLE IF NOT EXISTS overrides (
	project_id TEXT NOT NULL REFERENCES projects(id),
	key        TEXT NOT NULL,
	content    TEXT NOT NULL,
	edited_at  TEXT NOT NULL,
	stale      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, key)
);

CREATE TABLE IF NOT EXISTS events (
	project_id TEXT NOT NULL REFERENCES projects(id),
	seq        INTEGER NOT NULL,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT,
	detail     TEXT,
	at         TEXT NOT NULL,
	PRIMARY KEY (project_id, seq)
);
`
