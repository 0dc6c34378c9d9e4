package sqlite

const schema = `
-- Repos mirrored by this instance.
CREATE TABLE IF NOT EXISTS repo (
    organization TEXT NOT NULL,
    name TEXT NOT NULL,
    PRIMARY KEY (organization, name)
);

-- Mirrored upstream accounts.
CREATE TABLE IF NOT EXISTS user (
    external_id INTEGER PRIMARY KEY,
    login TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    avatar_url TEXT NOT NULL DEFAULT ''
);

-- Shared attributes of an issue or pull request.
CREATE TABLE IF NOT EXISTS shared (
    number INTEGER NOT NULL,
    repo_organization TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    author_external_id INTEGER,
    author_association TEXT NOT NULL DEFAULT '',
    state_reason TEXT NOT NULL DEFAULT '',
    closed INTEGER NOT NULL DEFAULT 0 CHECK (closed IN (0, 1)),
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    closed_at INTEGER,
    closed_by_id INTEGER,
    lock_reason TEXT,
    PRIMARY KEY (repo_organization, repo_name, number),
    CHECK ((closed = 1) = (closed_at IS NOT NULL)),
    FOREIGN KEY (repo_organization, repo_name) REFERENCES repo(organization, name)
);

CREATE INDEX IF NOT EXISTS idx_shared_updated_at ON shared(repo_organization, repo_name, updated_at);

-- 1:1 extension of shared for issues; presence of this row marks the
-- variant as Issue.
CREATE TABLE IF NOT EXISTS issue (
    repo_organization TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    number INTEGER NOT NULL,
    PRIMARY KEY (repo_organization, repo_name, number),
    FOREIGN KEY (repo_organization, repo_name, number) REFERENCES shared(repo_organization, repo_name, number)
);

-- 1:1 extension of shared for pull requests; presence of this row marks
-- the variant as PullRequest.
CREATE TABLE IF NOT EXISTS pull_request (
    repo_organization TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    number INTEGER NOT NULL,
    draft INTEGER NOT NULL DEFAULT 0 CHECK (draft IN (0, 1)),
    maintainer_can_modify INTEGER NOT NULL DEFAULT 0 CHECK (maintainer_can_modify IN (0, 1)),
    additions INTEGER NOT NULL DEFAULT 0,
    deletions INTEGER NOT NULL DEFAULT 0,
    changed_files INTEGER NOT NULL DEFAULT 0,
    commits INTEGER NOT NULL DEFAULT 0,
    merged_at INTEGER,
    merge_commit_sha TEXT,
    merged_by_id INTEGER,
    head_sha TEXT NOT NULL DEFAULT '',
    base_sha TEXT NOT NULL DEFAULT '',
    mergeable INTEGER,
    rebaseable INTEGER,
    mergeable_state TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (repo_organization, repo_name, number),
    CHECK ((merged_at IS NULL) = (merge_commit_sha IS NULL)),
    CHECK ((merged_at IS NULL) = (merged_by_id IS NULL)),
    FOREIGN KEY (repo_organization, repo_name, number) REFERENCES shared(repo_organization, repo_name, number)
);

CREATE TABLE IF NOT EXISTS label (
    name TEXT PRIMARY KEY,
    color TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS comment (
    external_id INTEGER PRIMARY KEY,
    parent_repo_organization TEXT NOT NULL,
    parent_repo_name TEXT NOT NULL,
    parent_number INTEGER NOT NULL,
    author_external_id INTEGER,
    body TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (parent_repo_organization, parent_repo_name, parent_number) REFERENCES shared(repo_organization, repo_name, number)
);

CREATE INDEX IF NOT EXISTS idx_comment_parent ON comment(parent_repo_organization, parent_repo_name, parent_number);

-- Membership link tables. Each carries the transient outdated flag used
-- by mark-and-sweep reconciliation (see reconcileLinks and
-- reconcileLabelLinks in reconcile.go).
CREATE TABLE IF NOT EXISTS assignment (
    repo_organization TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    shared_number INTEGER NOT NULL,
    user_external_id INTEGER NOT NULL,
    outdated INTEGER NOT NULL DEFAULT 0 CHECK (outdated IN (0, 1)),
    PRIMARY KEY (repo_organization, repo_name, shared_number, user_external_id),
    FOREIGN KEY (repo_organization, repo_name, shared_number) REFERENCES shared(repo_organization, repo_name, number)
);

CREATE TABLE IF NOT EXISTS label_link (
    repo_organization TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    shared_number INTEGER NOT NULL,
    label_name TEXT NOT NULL,
    outdated INTEGER NOT NULL DEFAULT 0 CHECK (outdated IN (0, 1)),
    PRIMARY KEY (repo_organization, repo_name, shared_number, label_name),
    FOREIGN KEY (repo_organization, repo_name, shared_number) REFERENCES shared(repo_organization, repo_name, number)
);

CREATE TABLE IF NOT EXISTS review_request (
    repo_organization TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    pr_number INTEGER NOT NULL,
    user_external_id INTEGER NOT NULL,
    outdated INTEGER NOT NULL DEFAULT 0 CHECK (outdated IN (0, 1)),
    PRIMARY KEY (repo_organization, repo_name, pr_number, user_external_id),
    FOREIGN KEY (repo_organization, repo_name, pr_number) REFERENCES pull_request(repo_organization, repo_name, number)
);

CREATE TABLE IF NOT EXISTS issue_pr_link (
    repo_organization TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    from_number INTEGER NOT NULL,
    to_number INTEGER NOT NULL,
    pr_closes_issue INTEGER NOT NULL DEFAULT 0 CHECK (pr_closes_issue IN (0, 1)),
    PRIMARY KEY (repo_organization, repo_name, from_number, to_number)
);

-- Durable work queue. sequence_number is allocated from a process-wide
-- monotonic counter seeded from MAX(sequence_number) at startup.
CREATE TABLE IF NOT EXISTS request (
    sequence_number INTEGER PRIMARY KEY,
    category INTEGER NOT NULL,
    name TEXT NOT NULL,
    data BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_category_sequence ON request(category, sequence_number);

-- Singleton key/value table for schema version and budgeter carry state.
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT OR IGNORE INTO config (key, value) VALUES
    ('schema_version', '0'),
    ('budgeter_saved_up', '0');
`
