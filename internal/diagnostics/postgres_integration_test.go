package diagnostics

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPostgresSinkIntegration(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("GTASKFS_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set GTASKFS_TEST_POSTGRES_DSN to run postgres integration tests")
	}

	sink, err := NewPostgresSink(dsn)
	if err != nil {
		t.Fatalf("new postgres sink failed: %v", err)
	}
	sink.tableName = "gtaskfs_diagnostics_test_" + strings.ReplaceAll(time.Now().UTC().Format("20060102150405.000000000"), ".", "")
	defer func() {
		if sink.db != nil {
			_, _ = sink.db.Exec("DROP TABLE IF EXISTS " + postgresQuoteIdentifier(sink.tableName))
		}
		_ = sink.Close()
	}()

	ctx := context.Background()
	for _, address := range []string{"gtask-json:/L1/T1.json", "gtask-json:/L1/T2.json"} {
		if err := sink.Record(ctx, Entry{Time: time.Now().UTC(), Op: "write", Address: address, Message: "boom"}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	entries, err := sink.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Address != "gtask-json:/L1/T2.json" {
		t.Fatalf("expected newest entry only, got %+v", entries)
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	if got := postgresQuoteIdentifier(`weird"name`); got != `"weird""name"` {
		t.Fatalf("unexpected quoted identifier %s", got)
	}
	if got := postgresQuoteIdentifier(" "); got != `""` {
		t.Fatalf("unexpected quoted blank identifier %s", got)
	}
}
