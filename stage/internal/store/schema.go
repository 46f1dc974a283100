package store

// Schema contains the DDL for the artifact tables.
const Schema = `
-- Export artifacts: one row per export, payload is the full JSON document
CREATE TABLE IF NOT EXISTS artifacts (
    id            TEXT PRIMARY KEY,
    page_url      TEXT NOT NULL,
    captured_at   TEXT NOT NULL,
    patch_count   INTEGER NOT NULL DEFAULT 0,
    warning_count INTEGER NOT NULL DEFAULT 0,
    critical      INTEGER NOT NULL DEFAULT 0,
    payload       TEXT NOT NULL,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_url ON artifacts(page_url);
CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at DESC);
`
