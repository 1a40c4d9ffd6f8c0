package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id           TEXT PRIMARY KEY,
    source       TEXT NOT NULL,
    feed         TEXT NOT NULL DEFAULT '',
    external_id  TEXT NOT NULL,
    title        TEXT NOT NULL,
    url          TEXT NOT NULL DEFAULT '',
    image_url    TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    author       TEXT NOT NULL DEFAULT '',
    tags         TEXT NOT NULL DEFAULT '[]',
    published_at DATETIME NOT NULL,
    collected_at DATETIME NOT NULL,
    attempts     INTEGER NOT NULL DEFAULT 0,
    UNIQUE(source, feed, external_id)
);

CREATE INDEX IF NOT EXISTS idx_items_collected_at ON items(collected_at);
CREATE INDEX IF NOT EXISTS idx_items_published_at ON items(published_at);

CREATE TABLE IF NOT EXISTS analyses (
    id               TEXT PRIMARY KEY,
    item_id          TEXT NOT NULL DEFAULT '',
    cluster_id       INTEGER NOT NULL,
    cluster_size     INTEGER NOT NULL,
    distance         REAL NOT NULL,
    similarity       REAL NOT NULL,
    score            REAL NOT NULL,
    category         TEXT NOT NULL,
    confidence       REAL NOT NULL,
    class_confidence REAL NOT NULL,
    label            TEXT NOT NULL DEFAULT '',
    snapshot_version TEXT NOT NULL DEFAULT '',
    alerted          BOOLEAN NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_item ON analyses(item_id);
CREATE INDEX IF NOT EXISTS idx_analyses_score ON analyses(score);
CREATE INDEX IF NOT EXISTS idx_analyses_category ON analyses(category);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);

CREATE TABLE IF NOT EXISTS calibrations (
    id               TEXT PRIMARY KEY,
    snapshot_version TEXT NOT NULL DEFAULT '',
    samples          INTEGER NOT NULL,
    p25              REAL NOT NULL,
    p50              REAL NOT NULL,
    p75              REAL NOT NULL,
    p90              REAL NOT NULL,
    suggested_low    REAL NOT NULL,
    suggested_high   REAL NOT NULL,
    drift            REAL NOT NULL,
    report           TEXT NOT NULL,
    created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calibrations_created ON calibrations(created_at);
`
