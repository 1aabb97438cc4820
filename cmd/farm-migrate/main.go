// Command farm-migrate applies the embedded store's schema using the
// cgo sqlite3 driver rather than the pure-Go runtime driver the daemon
// itself uses. Operators without CGO_ENABLED=0 constraints can use this
// standalone tool to pre-migrate a database file before first start, or
// to inspect/repair it with sqlite3-native tooling compatibility.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	path := flag.String("db", "", "path to the sqlite database file to migrate")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "farm-migrate: -db is required")
		os.Exit(2)
	}

	conn, err := sql.Open("sqlite3", *path+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		fmt.Fprintf(os.Stderr, "farm-migrate: open %s: %v\n", *path, err)
		os.Exit(3)
	}
	defer conn.Close()

	if err := conn.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "farm-migrate: ping %s: %v\n", *path, err)
		os.Exit(3)
	}

	if _, err := conn.Exec(migrationSQL); err != nil {
		fmt.Fprintf(os.Stderr, "farm-migrate: apply schema: %v\n", err)
		os.Exit(3)
	}

	fmt.Printf("farm-migrate: schema applied to %s\n", *path)
}

// migrationSQL mirrors internal/store's embedded schema. Kept as a
// separate literal (rather than importing internal/store, which pulls in
// the pure-Go driver this binary deliberately avoids) so this tool has no
// dependency on the daemon's runtime driver choice.
const migrationSQL = `
CREATE TABLE IF NOT EXISTS task_definitions (
	id              TEXT PRIMARY KEY,
	version         INTEGER NOT NULL,
	action_kind     TEXT NOT NULL,
	protocol_id     TEXT NOT NULL,
	trigger_json    TEXT NOT NULL,
	priority        INTEGER NOT NULL,
	max_retries     INTEGER NOT NULL,
	timeout_ns      INTEGER NOT NULL,
	depends_on_json TEXT NOT NULL,
	params_json     TEXT NOT NULL,
	disabled        INTEGER NOT NULL DEFAULT 0,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS task_instances (
	id              TEXT PRIMARY KEY,
	definition_id   TEXT NOT NULL,
	correlation_id  TEXT NOT NULL,
	scheduled_for   INTEGER NOT NULL,
	attempt         INTEGER NOT NULL,
	state           TEXT NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	cancel_reason   TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	FOREIGN KEY (definition_id) REFERENCES task_definitions(id)
);
CREATE INDEX IF NOT EXISTS idx_task_instances_definition ON task_instances(definition_id, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_task_instances_state ON task_instances(state);

CREATE TABLE IF NOT EXISTS risk_state_history (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT NOT NULL,
	reason       TEXT NOT NULL,
	activated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_state_history_time ON risk_state_history(activated_at);

CREATE TABLE IF NOT EXISTS allocation_history (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	computed_at  INTEGER NOT NULL,
	algorithm    TEXT NOT NULL,
	weights_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_allocation_history_time ON allocation_history(computed_at);

CREATE TABLE IF NOT EXISTS action_outcomes (
	task_instance_id  TEXT PRIMARY KEY,
	success           INTEGER NOT NULL,
	tx_hashes_json     TEXT NOT NULL,
	error_kind        TEXT NOT NULL DEFAULT '',
	realized_notional REAL NOT NULL,
	realized_gas_gwei REAL NOT NULL,
	timestamp         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_outcomes_time ON action_outcomes(timestamp);
`
