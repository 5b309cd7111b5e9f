package autosave

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Backups copies the autosave file on a cron schedule.
type Backups struct {
	saver *Saver
	dir   string
	now   func() time.Time
	cron  *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewBackups creates a scheduler copying saver's file into dir.
func NewBackups(saver *Saver, dir string, now func() time.Time) *Backups {
	if now == nil {
		now = time.Now
	}
	return &Backups{saver: saver, dir: dir, now: now, cron: cron.New()}
}

// Start schedules backups with a standard five-field cron spec.
func (b *Backups) Start(spec string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	if _, err := b.cron.AddFunc(spec, b.Run); err != nil {
		return fmt.Errorf("schedule backup: %w", err)
	}
	b.cron.Start()
	b.running = true
	log.Printf("autosave: backups scheduled %q into %s", spec, b.dir)
	return nil
}

// Run makes one backup now.
func (b *Backups) Run() {
	path, err := b.saver.Backup(b.dir, b.now())
	if err != nil {
		log.Printf("autosave: backup failed: %v", err)
		return
	}
	if path != "" {
		log.Printf("autosave: backup written to %s", path)
	}
}

// Stop stops the scheduler and waits for a running backup.
func (b *Backups) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		<-b.cron.Stop().Done()
		b.running = false
	}
}
