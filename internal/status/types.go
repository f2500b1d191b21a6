package status

import "time"

// MaxHistoryEntries bounds the per-source run history
const MaxHistoryEntries = 100

// SyncPhase represents the state a source's last sync left behind
type SyncPhase string

const (
	// SyncPhaseSyncing means a sync is in progress (or the process died during one)
	SyncPhaseSyncing SyncPhase = "Syncing"

	// SyncPhaseComplete means the last sync walked the whole listing
	SyncPhaseComplete SyncPhase = "Complete"

	// SyncPhasePartial means the last sync stopped early (limit or interruption)
	// and left a resume position behind
	SyncPhasePartial SyncPhase = "Partial"

	// SyncPhaseFailed means the last sync ended with an error
	SyncPhaseFailed SyncPhase = "Failed"
)

// SyncProgress is the durable per-source progress record
type SyncProgress struct {
	// Phase is the outcome of the most recent run
	Phase SyncPhase `json:"phase,omitempty"`

	// Cursor is the opaque position to resume a cursor-paginated listing from
	Cursor string `json:"cursor,omitempty"`

	// Page is the next page to fetch when resuming a page-paginated listing
	Page int `json:"page,omitempty"`

	// Offset is the number of entries of the resume page that were already consumed
	Offset int `json:"offset,omitempty"`

	// ResumeSince is the updated-since filter of the run that left the resume position
	ResumeSince *time.Time `json:"resumeSince,omitempty"`

	// ResumeStartedAt is the start time of the run that left the resume position.
	// It becomes LastSync once a resumed run completes.
	ResumeStartedAt *time.Time `json:"resumeStartedAt,omitempty"`

	// LastSync is the start time of the last run that completed the listing
	LastSync *time.Time `json:"lastSync,omitempty"`

	// TotalRecords is the number of records stored for the source after the last run
	TotalRecords int `json:"totalRecords"`

	// History holds the most recent runs, oldest first
	History []SyncRecord `json:"history,omitempty"`
}

// SyncRecord describes one sync run
type SyncRecord struct {
	RunID           string    `json:"runId"`
	Mode            string    `json:"mode"`
	StartedAt       time.Time `json:"startedAt"`
	Fetched         int       `json:"fetched"`
	Skipped         int       `json:"skipped"`
	DurationSeconds float64   `json:"durationSeconds"`
	Completed       bool      `json:"completed"`
	Error           string    `json:"error,omitempty"`
}

// HasResumePoint reports whether an earlier run left a position to resume from
func (p *SyncProgress) HasResumePoint() bool {
	return p.Cursor != "" || p.Page > 1 || p.Offset > 0
}

// ClearResumePoint forgets any resume position
func (p *SyncProgress) ClearResumePoint() {
	p.Cursor = ""
	p.Page = 0
	p.Offset = 0
	p.ResumeSince = nil
	p.ResumeStartedAt = nil
}

// AppendHistory records a run, keeping at most MaxHistoryEntries entries
func (p *SyncProgress) AppendHistory(rec SyncRecord) {
	p.History = append(p.History, rec)
	if over := len(p.History) - MaxHistoryEntries; over > 0 {
		p.History = append([]SyncRecord(nil), p.History[over:]...)
	}
}

// LastRun returns the most recent history entry, if any
func (p *SyncProgress) LastRun() *SyncRecord {
	if len(p.History) == 0 {
		return nil
	}
	return &p.History[len(p.History)-1]
}
