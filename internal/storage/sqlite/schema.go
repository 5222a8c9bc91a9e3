package sqlite

// Schema creates the vibe graph tables. Timestamps are stored as Unix
// nanoseconds so that ordering is numeric. Embeddings are little-endian
// float32 BLOBs with their length in embedding_dim. Edges and the keyword
// index reference vibes with ON DELETE CASCADE, so deleting a vibe removes
// everything that points at it.
const Schema = `
CREATE TABLE IF NOT EXISTS vibes (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL,
	keywords          TEXT,
	sources           TEXT,
	domains           TEXT,
	sentiment         TEXT NOT NULL DEFAULT '',
	strength          REAL NOT NULL,
	current_relevance REAL NOT NULL,
	half_life         REAL NOT NULL DEFAULT 0,
	decay_rate        REAL NOT NULL DEFAULT 0,
	first_seen        INTEGER NOT NULL,
	last_seen         INTEGER NOT NULL,
	timestamp         INTEGER NOT NULL,
	embedding         BLOB,
	embedding_dim     INTEGER NOT NULL DEFAULT 0,
	related_vibes     TEXT,
	influences        TEXT,
	metadata          TEXT,
	geography         TEXT
);

CREATE INDEX IF NOT EXISTS idx_vibes_timestamp ON vibes(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_vibes_embedding_dim ON vibes(embedding_dim);

CREATE TABLE IF NOT EXISTS vibe_keywords (
	vibe_id TEXT NOT NULL REFERENCES vibes(id) ON DELETE CASCADE,
	keyword TEXT NOT NULL,
	PRIMARY KEY (vibe_id, keyword)
);

CREATE INDEX IF NOT EXISTS idx_vibe_keywords_keyword ON vibe_keywords(keyword);

CREATE TABLE IF NOT EXISTS vibe_edges (
	from_id    TEXT NOT NULL REFERENCES vibes(id) ON DELETE CASCADE,
	to_id      TEXT NOT NULL REFERENCES vibes(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	strength   REAL NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (from_id, to_id, type)
);

CREATE INDEX IF NOT EXISTS idx_vibe_edges_to ON vibe_edges(to_id);

CREATE TABLE IF NOT EXISTS graph_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
