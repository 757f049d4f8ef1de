//go:build integration

package db

import (
	"os"
	"testing"
	"time"

	"github.com/zulandar/agentbus/internal/models"
)

// TestMySQL_Migrate runs against the server named by AGENTBUS_MYSQL_DSN,
// e.g. "root@tcp(127.0.0.1:3306)/agentbus_test?parseTime=true".
func TestMySQL_Migrate(t *testing.T) {
	dsn := os.Getenv("AGENTBUS_MYSQL_DSN")
	if dsn == "" {
		t.Skip("AGENTBUS_MYSQL_DSN not set")
	}

	gdb, err := Open(DriverMySQL, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		gdb.Migrator().DropTable(&models.Event{})
	})

	ev := models.Event{Kind: models.EventSent, Agent: "a", Counterpart: "b", CreatedAt: time.Now()}
	if err := gdb.Create(&ev).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	var got models.Event
	if err := gdb.First(&got, ev.ID).Error; err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Kind != models.EventSent || got.Counterpart != "b" {
		t.Errorf("event = %+v", got)
	}
}
