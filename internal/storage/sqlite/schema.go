package sqlite

// Schema creates the exchange table and its indexes. Idempotent; executed on
// every open.
const Schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	owner_id           TEXT NOT NULL,
	conversation_id    TEXT NOT NULL,
	message_id         TEXT NOT NULL,
	role               TEXT NOT NULL,
	content            TEXT NOT NULL,
	embedding          BLOB NOT NULL,
	dimension          INTEGER NOT NULL,
	conversation_title TEXT NOT NULL DEFAULT '',
	metadata           TEXT,
	created_at         INTEGER NOT NULL,
	PRIMARY KEY (owner_id, conversation_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_exchanges_owner_created
	ON exchanges(owner_id, created_at DESC);
`
