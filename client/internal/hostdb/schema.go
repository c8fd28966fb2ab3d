package hostdb

const schema = `
CREATE TABLE IF NOT EXISTS installed_packages (
    package_id TEXT PRIMARY KEY,
    version_code INTEGER NOT NULL,
    version_name TEXT NOT NULL,
    installer TEXT NOT NULL,
    installed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS package_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    package_id TEXT NOT NULL,
    action TEXT NOT NULL,
    version_code INTEGER NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_package ON package_events(package_id);
CREATE INDEX IF NOT EXISTS idx_events_occurred ON package_events(occurred_at);
`
