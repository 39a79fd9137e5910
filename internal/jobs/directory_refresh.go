// directory_refresh.go implements the DirectoryRefreshJob background job,
// which periodically re-scrapes the licensed-provider directory and swaps
// the in-memory index. Each successful refresh is also persisted so the
// index can be restored on startup without waiting for a scrape.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/directory"
)

// SnapshotStore is the persistence slice the refresh job needs. It is
// satisfied by repositories.DirectoryRepository.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot *directory.Snapshot) (uuid.UUID, error)
}

// DirectoryRefreshJob keeps the provider directory index current.
type DirectoryRefreshJob struct {
	scraper  *directory.Scraper
	index    *directory.Index
	store    SnapshotStore // nil disables persistence
	interval time.Duration
	stopChan chan struct{}
}

// NewDirectoryRefreshJob creates a new refresh job. intervalHours controls
// how often the directory is re-scraped (default 6h). store may be nil.
func NewDirectoryRefreshJob(scraper *directory.Scraper, index *directory.Index, store SnapshotStore, intervalHours int) *DirectoryRefreshJob {
	hours := intervalHours
	if hours <= 0 {
		hours = 6
	}
	return &DirectoryRefreshJob{
		scraper:  scraper,
		index:    index,
		store:    store,
		interval: time.Duration(hours) * time.Hour,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background refresh loop. It runs an initial refresh
// immediately, then repeats on the configured interval. The loop exits
// when ctx is cancelled or Stop() is called.
func (j *DirectoryRefreshJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("Directory refresh job started (interval: %v)", j.interval)

	j.runRefresh(ctx)

	for {
		select {
		case <-ticker.C:
			j.runRefresh(ctx)
		case <-j.stopChan:
			log.Println("Directory refresh job stopped")
			return
		case <-ctx.Done():
			log.Println("Directory refresh job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *DirectoryRefreshJob) Stop() {
	close(j.stopChan)
}

// runRefresh executes one scrape cycle and persists the result. A failed
// refresh leaves the previous index installed; a failed persist keeps the
// fresh index and only logs.
func (j *DirectoryRefreshJob) runRefresh(ctx context.Context) {
	if err := j.scraper.Refresh(ctx, j.index); err != nil {
		log.Printf("Directory refresh job: refresh failed: %v", err)
		return
	}

	snapshot := j.index.Snapshot()
	log.Printf("Directory refresh job: refreshed %d towns, %d providers",
		len(snapshot.Towns), snapshot.ProviderCount())

	if j.store == nil {
		return
	}
	if _, err := j.store.SaveSnapshot(ctx, snapshot); err != nil {
		log.Printf("Directory refresh job: failed to persist snapshot: %v", err)
	}
}
