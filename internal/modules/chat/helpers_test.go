package chat

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/campuslink/core/internal/database"
	"github.com/campuslink/core/internal/config"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type emitted struct {
	Subject string
	Event   string
	Payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) EmitToSubject(subjectID, event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{Subject: subjectID, Event: event, Payload: payload})
}

func (e *recordingEmitter) For(subjectID, event string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.Subject == subjectID && ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := database.Open(config.DriverSQLite, dsn, logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestService(t *testing.T) (*Service, *GormStore, *recordingEmitter) {
	t.Helper()
	store := NewGormStore(newTestDB(t))
	emitter := &recordingEmitter{}
	return NewService(store, emitter), store, emitter
}
