package server

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/friendlyhq/friendly/config"
	"github.com/friendlyhq/friendly/internal/store"
)

func newTestScheduler(t *testing.T, idle time.Duration) (*Scheduler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	cfg := config.RetentionConfig{Enabled: true, CronSpec: "0 * * * *", IdleFor: idle}
	s := NewScheduler(&store.Store{DB: db}, nil, cfg, log.New(io.Discard, "", 0))
	return s, mock, func() { db.Close() }
}

func TestSweepEndsIdleConversations(t *testing.T) {
	s, mock, done := newTestScheduler(t, 24*time.Hour)
	defer done()

	now := time.Now()
	mock.ExpectQuery(`SELECT c.id FROM conversations c`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("conv-1").AddRow("conv-2"))
	mock.ExpectExec(`UPDATE conversations SET ended_at=\$1`).
		WithArgs(now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("ended %d conversations, want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSweepNothingIdle(t *testing.T) {
	s, mock, done := newTestScheduler(t, 24*time.Hour)
	defer done()

	mock.ExpectQuery(`SELECT c.id FROM conversations c`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	n, err := s.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("ended %d conversations, want 0", n)
	}
	// no UPDATE expected when nothing is idle
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSchedulerDue(t *testing.T) {
	s, _, done := newTestScheduler(t, time.Hour)
	defer done()

	if !s.due(time.Now()) {
		t.Fatal("first run should always be due")
	}

	s.lastRun = time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	s.Cfg.CronSpec = "0 * * * *"
	if !s.due(s.lastRun.Add(2 * time.Hour)) {
		t.Fatal("cron boundary passed, sweep should be due")
	}
	if s.due(s.lastRun.Add(time.Second)) {
		t.Fatal("sweep should not be due immediately after the last run")
	}

	// invalid spec falls back to hourly
	s.Cfg.CronSpec = "bananas"
	if s.due(s.lastRun.Add(30 * time.Minute)) {
		t.Fatal("fallback should wait an hour")
	}
	if !s.due(s.lastRun.Add(2 * time.Hour)) {
		t.Fatal("fallback should fire after an hour")
	}
}
