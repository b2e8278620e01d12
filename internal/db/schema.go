package db

const schemaSQL = `
-- ===========================================================================
-- AUDIT EVENTS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS audit_events (
  event_id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  type TEXT NOT NULL,
  level TEXT NOT NULL DEFAULT 'INFO',
  speaker_ip TEXT,
  request_id TEXT,
  fields TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(type, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_speaker ON audit_events(speaker_ip, timestamp) WHERE speaker_ip IS NOT NULL;
`
