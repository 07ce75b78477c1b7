package sqlconcat

import (
	"context"
	"fmt"
)

type DB struct{}

func (DB) Exec(ctx context.Context, sql string, args ...interface{}) error { return nil }

func (DB) QueryRow(ctx context.Context, sql string, args ...interface{}) error { return nil }

type StdDB struct{}

func (StdDB) Query(query string, args ...interface{}) error { return nil }

const table = "state_server.ss_client_state_log"

func queries(ctx context.Context, db DB, std StdDB, clientID string) {
	_ = db.Exec(ctx, "insert into "+table+" (client_id, status) values ($1, $2)", clientID, "up")
	_ = db.Exec(ctx, "select * from t where client_id = '"+clientID+"'")                  // want "sql built with string concatenation"
	_ = db.QueryRow(ctx, fmt.Sprintf("select * from t where client_id = '%s'", clientID)) // want "sql built with fmt.Sprintf"
	_ = std.Query(("delete from t where client_id = " + clientID))                        // want "sql built with string concatenation"
	_ = std.Query("select to_regclass($1) is not null", table)

	query := "select 1"
	_ = std.Query(query)
}
