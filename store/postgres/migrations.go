package postgres

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
    metadata             JSONB NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
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
    amount_cents              BIGINT NOT NULL DEFAULT 0,
    amount_currency           TEXT NOT NULL DEFAULT '',
    outstanding_amount_cents  BIGINT NOT NULL DEFAULT 0,
    outstanding_currency      TEXT NOT NULL DEFAULT '',
    current_period_start      TIMESTAMPTZ NOT NULL DEFAULT now(),
    current_period_end        TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_payment_attempt      TIMESTAMPTZ,
    suspended_at              TIMESTAMPTZ,
    cancelled_at              TIMESTAMPTZ,
    cancel_reason             TEXT NOT NULL DEFAULT '',
    metadata                  JSONB NOT NULL DEFAULT '{}',
    created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
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
    amount_cents    BIGINT NOT NULL DEFAULT 0,
    amount_currency TEXT NOT NULL DEFAULT '',
    invoice_number  TEXT NOT NULL DEFAULT '',
    payment_method  TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    attempt_number  INTEGER NOT NULL DEFAULT 0,
    attempted_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    next_retry_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
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
    amount_cents    BIGINT NOT NULL DEFAULT 0,
    amount_currency TEXT NOT NULL DEFAULT '',
    line_items      JSONB NOT NULL DEFAULT '[]',
    issue_date      TIMESTAMPTZ NOT NULL DEFAULT now(),
    due_date        TIMESTAMPTZ NOT NULL DEFAULT now(),
    paid_at         TIMESTAMPTZ,
    payment_ref     TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dunning_invoices_number ON dunning_invoices (number);
CREATE INDEX IF NOT EXISTS idx_dunning_invoices_sub ON dunning_invoices (subscription_id);
`,
	`
CREATE TABLE IF NOT EXISTS dunning_invoice_sequences (
    month TEXT PRIMARY KEY,
    seq   BIGINT NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS dunning_tasks (
    id           TEXT PRIMARY KEY,
    handler      TEXT NOT NULL DEFAULT '',
    payload      BYTEA NOT NULL DEFAULT ''::bytea,
    run_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    status       TEXT NOT NULL DEFAULT 'pending',
    attempts     INTEGER NOT NULL DEFAULT 0,
    delivered_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dunning_tasks_due ON dunning_tasks (status, run_at);
CREATE INDEX IF NOT EXISTS idx_dunning_tasks_delivered ON dunning_tasks (status, delivered_at);
`,
}
