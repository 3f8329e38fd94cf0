package storage

const sqliteSchema = `
-- The 'sources' table tracks where decks come from, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned DATETIME
);

-- One row per course deck.
CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    icon TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    sort_order INTEGER NOT NULL DEFAULT 0,
    source_id INTEGER,
    updated_at DATETIME NOT NULL,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);

-- Items keep their payload as JSON; hash is the content fingerprint used by sync.
CREATE TABLE IF NOT EXISTS items (
    course_id TEXT NOT NULL,
    id TEXT NOT NULL,
    sort_order INTEGER NOT NULL,
    fields TEXT NOT NULL,
    fake_words TEXT NOT NULL,
    hash TEXT NOT NULL,
    source_id INTEGER,

    PRIMARY KEY (course_id, id),
    FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS progress (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    is_finished BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME NOT NULL,
    last_updated DATETIME NOT NULL,

    PRIMARY KEY (user_id, course_id)
);

CREATE TABLE IF NOT EXISTS learned_items (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    item_id TEXT NOT NULL,

    PRIMARY KEY (user_id, course_id, item_id)
);

-- Correct-answer streaks of sentence items, kept in [0,3].
CREATE TABLE IF NOT EXISTS item_streaks (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    correct INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (user_id, course_id, item_id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sources (
    id SERIAL PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    icon TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    sort_order INTEGER NOT NULL DEFAULT 0,
    source_id INTEGER REFERENCES sources(id),
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    sort_order INTEGER NOT NULL,
    fields TEXT NOT NULL,
    fake_words TEXT NOT NULL,
    hash TEXT NOT NULL,
    source_id INTEGER,
    PRIMARY KEY (course_id, id)
);

CREATE TABLE IF NOT EXISTS progress (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    is_finished BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, course_id)
);

CREATE TABLE IF NOT EXISTS learned_items (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    PRIMARY KEY (user_id, course_id, item_id)
);

CREATE TABLE IF NOT EXISTS item_streaks (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    correct INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, course_id, item_id)
);
`
