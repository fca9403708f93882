package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	watchdogCheckInterval = 10 * time.Second
	watchdogQueryTimeout  = 2 * time.Second
)

// startWatchdog begins a background connection-health loop: periodically
// pings the server and reconnects with exponential backoff on failure.
// Grounded on the teacher's storage/dolt watchdog, trimmed from "restart the
// server process" (the teacher owns the Dolt server's lifecycle; Lix's Dolt
// backend only ever connects to one the host already runs) to "reconnect the
// pool", which is the only part Lix's own Backend contract cares about.
func (s *Store) startWatchdog(cfg *Config) {
	ctx, cancel := context.WithCancel(context.Background())
	s.watchdogCancel = cancel
	go s.watchdogLoop(ctx, cfg)
}

func (s *Store) watchdogLoop(ctx context.Context, cfg *Config) {
	ticker := time.NewTicker(watchdogCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.isHealthy(ctx) {
				if err := s.reconnect(ctx, cfg); err != nil {
					fmt.Fprintf(os.Stderr, "lix: dolt backend reconnect failed: %v\n", err)
				} else {
					doltMetrics.reconnects.Add(ctx, 1)
				}
			}
		}
	}
}

func (s *Store) isHealthy(ctx context.Context) bool {
	qctx, cancel := context.WithTimeout(ctx, watchdogQueryTimeout)
	defer cancel()

	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return false
	}
	var one int
	return db.QueryRowContext(qctx, "SELECT 1").Scan(&one) == nil && one == 1
}

func (s *Store) reconnect(ctx context.Context, cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_ = s.db.Close()
	}
	db, err := sqlOpenWithBackoff(ctx, cfg.dsn())
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func sqlOpenWithBackoff(ctx context.Context, dsn string) (*sql.DB, error) {
	var db *sql.DB
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	err := backoff.Retry(func() error {
		opened, err := sql.Open("mysql", dsn)
		if err != nil {
			return err
		}
		opened.SetMaxOpenConns(1)
		if err := opened.PingContext(ctx); err != nil {
			_ = opened.Close()
			return err
		}
		db = opened
		return nil
	}, backoff.WithContext(bo, ctx))
	return db, err
}

// stopWatchdog cancels the watchdog goroutine. Close() calls this before
// tearing down the connection so the loop never reconnects a closing Store.
func (s *Store) stopWatchdog() {
	if s.watchdogCancel != nil {
		s.watchdogCancel()
	}
}
