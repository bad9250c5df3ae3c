package store

// PostgresSchema is the DDL for the outbox table and the indexes that make
// the claim scan and the per-entity lookups cheap.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS notification_outbox (
    id                UUID PRIMARY KEY,
    type              TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    related_entity_id UUID,
    recipient         TEXT NOT NULL,
    subject           TEXT NOT NULL DEFAULT '',
    body              TEXT NOT NULL DEFAULT '',
    retry_count       INT  NOT NULL DEFAULT 0,
    last_error        TEXT NOT NULL DEFAULT '',
    next_retry_at     TIMESTAMPTZ,
    lease_owner       TEXT,
    lease_expires_at  TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notification_outbox_status ON notification_outbox (status);
CREATE INDEX IF NOT EXISTS idx_notification_outbox_due ON notification_outbox (status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_notification_outbox_created_at ON notification_outbox (created_at);
CREATE INDEX IF NOT EXISTS idx_notification_outbox_type ON notification_outbox (type);
CREATE INDEX IF NOT EXISTS idx_notification_outbox_entity ON notification_outbox (related_entity_id);
`
