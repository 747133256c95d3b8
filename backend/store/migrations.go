package store

var schemaStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA foreign_keys=ON;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA temp_store=MEMORY;`,
	`CREATE TABLE IF NOT EXISTS admin_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS admin_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES admin_users(id) ON DELETE CASCADE,
		token TEXT NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS cookie_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		content TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS overlay_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		room_id INTEGER NOT NULL DEFAULT 0,
		sse_port INTEGER NOT NULL DEFAULT 8081,
		sse_public INTEGER NOT NULL DEFAULT 0,
		sse_token TEXT NOT NULL DEFAULT '',
		ws_debug INTEGER NOT NULL DEFAULT 0,
		reconnect_interval_ms INTEGER NOT NULL DEFAULT 3000,
		max_reconnect_attempts INTEGER NOT NULL DEFAULT 5,
		use_open_live INTEGER NOT NULL DEFAULT 0,
		auth_code TEXT NOT NULL DEFAULT '',
		filter_min_length INTEGER NOT NULL DEFAULT 0,
		filter_max_length INTEGER NOT NULL DEFAULT 0,
		filter_keywords TEXT NOT NULL DEFAULT '[]',
		filter_only_own_badge INTEGER NOT NULL DEFAULT 0,
		filter_only_streamer INTEGER NOT NULL DEFAULT 0,
		filter_hide_streamer INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS style_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		body TEXT NOT NULL DEFAULT '{}',
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS danmaku_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL DEFAULT 0,
		event_type TEXT NOT NULL DEFAULT '',
		uid INTEGER NOT NULL DEFAULT 0,
		uname TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		gift_name TEXT NOT NULL DEFAULT '',
		gift_count INTEGER NOT NULL DEFAULT 0,
		price REAL NOT NULL DEFAULT 0,
		raw_payload TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_danmaku_events_room_created ON danmaku_events(room_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS api_error_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT '',
		http_status INTEGER NOT NULL DEFAULT 0,
		attempt INTEGER NOT NULL DEFAULT 0,
		retryable INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

var seedStatements = []string{
	`INSERT OR IGNORE INTO cookie_settings (id, content) VALUES (1, '');`,
	`INSERT OR IGNORE INTO overlay_settings (id) VALUES (1);`,
	// Default admin account is created with an empty hash; the auth service
	// fills in the initial password on startup.
	`INSERT OR IGNORE INTO admin_users (username, password_hash) VALUES ('admin', '');`,
	`INSERT OR IGNORE INTO style_profiles (name, body, is_active) VALUES ('default', '{}', 1);`,
}
