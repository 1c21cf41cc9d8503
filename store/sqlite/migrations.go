package sqlite

// migrations are applied in order by Migrate. Each statement is idempotent
// so re-running migration on startup is safe.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS dunning_customers (
    id                   TEXT PRIMARY KEY,
    tenant_id            TEXT NOT NULL DEFAULT '',
    name                 TEXT NOT NULL DEFAULT '',
    email                TEXT NOT NULL DEFAULT '',
    phone_number         TEXT NOT NULL DEFAULT '',
    failed_payment_count INTEGER NOT NULL DEFAULT 0,
    metadata             TEXT NOT NULL DEFAULT '{}',
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_dunning_customers_tenant ON dunning_customers (tenant_id);
`,
	`
CREATE TABLE IF NOT EXISTS dunning_subscriptions (
    id                        TEXT PRIMARY KEY,
    tenant_id                 TEXT NOT NULL DEFAULT '',
    customer_id               TEXT NOT NULL DEFAULT '',
    plan_name                 TEXT NOT NULL DEFAULT '',
    reference_number          TEXT NOT NULL DEFAULT '',
    status                    TEXT NOT NULL DEFAULT 'active',
    amount_cents              INTEGER NOT NULL DEFAULT 0,
    amount_currency           TEXT NOT NULL DEFAULT '',
    outstanding_amount_cents  INTEGER NOT NULL DEFAULT 0,
    outstanding_currency      TEXT NOT NULL DEFAULT '',
    current_period_start      TEXT NOT NULL DEFAULT (datetime('now')),
    current_period_end        TEXT NOT NULL DEFAULT (datetime('now')),
    last_payment_attempt      TEXT,
    suspended_at              TEXT,
    cancelled_at              TEXT,
    cancel_reason             TEXT NOT NULL DEFAULT '',
    metadata                  TEXT NOT NULL DEFAULT '{}',
    created_at                TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at                TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dunning_subs_reference ON dunning_subscriptions (reference_number);
CREATE INDEX IF NOT EXISTS idx_dunning_subs_customer ON dunning_subscriptions (customer_id);
CREATE INDEX IF NOT EXISTS idx_dunning_subs_status ON dunning_subscriptions (tenant_id, status);
`,
	`
CREATE TABLE IF NOT EXISTS dunning_attempts (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL DEFAULT '',
    subscription_id TEXT NOT NULL DEFAULT '',
    customer_id     TEXT NOT NULL DEFAULT '',
    amount_cents    INTEGER NOT NULL DEFAULT 0,
    amount_currency TEXT NOT NULL DEFAULT '',
    invoice_number  TEXT NOT NULL DEFAULT '',
    payment_method  TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    attempt_number  INTEGER NOT NULL DEFAULT 0,
    attempted_at    TEXT NOT NULL DEFAULT (datetime('now')),
    next_retry_at   TEXT NOT NULL DEFAULT (datetime('now')),
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_dunning_attempts_sub ON dunning_attempts (subscription_id, attempt_number);
CREATE INDEX IF NOT EXISTS idx_dunning_attempts_status ON dunning_attempts (subscription_id, status);
`,
	`
CREATE TABLE IF NOT EXISTS dunning_invoices (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL DEFAULT '',
    subscription_id TEXT NOT NULL DEFAULT '',
    customer_id     TEXT NOT NULL DEFAULT '',
    number          TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'sent',
    amount_cents    INTEGER NOT NULL DEFAULT 0,
    amount_currency TEXT NOT NULL DEFAULT '',
    line_items      TEXT NOT NULL DEFAULT '[]',
    issue_date      TEXT NOT NULL DEFAULT (datetime('now')),
    due_date        TEXT NOT NULL DEFAULT (datetime('now')),
    paid_at         TEXT,
    payment_ref     TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dunning_invoices_number ON dunning_invoices (number);
CREATE INDEX IF NOT EXISTS idx_dunning_invoices_sub ON dunning_invoices (subscription_id);
`,
	`
CREATE TABLE IF NOT EXISTS dunning_invoice_sequences (
    month TEXT PRIMARY KEY,
    seq   INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS dunning_tasks (
    id           TEXT PRIMARY KEY,
    handler      TEXT NOT NULL DEFAULT '',
    payload      TEXT NOT NULL DEFAULT '',
    run_at       TEXT NOT NULL DEFAULT (datetime('now')),
    status       TEXT NOT NULL DEFAULT 'pending',
    attempts     INTEGER NOT NULL DEFAULT 0,
    delivered_at TEXT,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_dunning_tasks_due ON dunning_tasks (status, run_at);
CREATE INDEX IF NOT EXISTS idx_dunning_tasks_delivered ON dunning_tasks (status, delivered_at);
`,
}
