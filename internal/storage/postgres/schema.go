package postgres

// Schema creates the vibe graph tables. All statements are idempotent.
// Edges reference vibes with ON DELETE CASCADE.
const Schema = `
CREATE TABLE IF NOT EXISTS vibes (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    category          TEXT NOT NULL,
    keywords          JSONB,
    keywords_lower    TEXT[] NOT NULL DEFAULT '{}',
    sources           JSONB,
    domains           JSONB,
    sentiment         TEXT NOT NULL DEFAULT '',
    strength          DOUBLE PRECISION NOT NULL,
    current_relevance DOUBLE PRECISION NOT NULL,
    half_life         DOUBLE PRECISION NOT NULL DEFAULT 0,
    decay_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
    first_seen        TIMESTAMPTZ NOT NULL,
    last_seen         TIMESTAMPTZ NOT NULL,
    timestamp         TIMESTAMPTZ NOT NULL,
    embedding         REAL[],
    embedding_dim     INTEGER NOT NULL DEFAULT 0,
    related_vibes     JSONB,
    influences        JSONB,
    metadata          JSONB,
    geography         JSONB
);

CREATE INDEX IF NOT EXISTS idx_vibes_timestamp ON vibes(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_vibes_embedding_dim ON vibes(embedding_dim);
CREATE INDEX IF NOT EXISTS idx_vibes_keywords_lower ON vibes USING GIN (keywords_lower);

CREATE TABLE IF NOT EXISTS vibe_edges (
    from_id    TEXT NOT NULL REFERENCES vibes(id) ON DELETE CASCADE,
    to_id      TEXT NOT NULL REFERENCES vibes(id) ON DELETE CASCADE,
    type       TEXT NOT NULL,
    strength   DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (from_id, to_id, type)
);

CREATE INDEX IF NOT EXISTS idx_vibe_edges_to ON vibe_edges(to_id);

CREATE TABLE IF NOT EXISTS graph_meta (
    key        TEXT PRIMARY KEY,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// MigrationPgvector adds the pgvector column used for similarity search.
// The column has no fixed dimension because several embedding lengths are
// accepted; queries filter on embedding_dim first.
const MigrationPgvector = `
ALTER TABLE vibes ADD COLUMN IF NOT EXISTS embedding_vec vector;
`
