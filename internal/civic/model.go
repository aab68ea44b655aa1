// model.go defines the civic workflow tables
package civic

import "time"

// ReportStatus is the lifecycle state of a citizen report.
type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportAssigned ReportStatus = "assigned"
	ReportFixed    ReportStatus = "fixed"
)

// TaskStatus is the lifecycle state of a repair task.
type TaskStatus string

const (
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled" // report released or closed by an admin
)

// openTaskStatuses are the states in which a task still holds its report.
var openTaskStatuses = []TaskStatus{TaskAssigned, TaskInProgress}

// Severities accepted on reports.
var Severities = []string{"low", "medium", "high", "critical"}

// MaxComplaintLength is the longest complaint text, in characters.
const MaxComplaintLength = 2000

// Report is a citizen complaint about a pothole, optionally linked to the
// prediction that detected it.
type Report struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	UserID        string       `gorm:"index;not null" json:"userId"`
	PredictionID  string       `gorm:"index" json:"predictionId,omitempty"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	Severity      string       `gorm:"type:varchar(16)" json:"severity"`
	ComplaintText string       `json:"complaintText"`
	AISummary     string       `json:"aiSummary,omitempty"`
	Status        ReportStatus `gorm:"type:varchar(16);index" json:"status"`
	CreatedAt     time.Time    `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Task assigns a report to a field worker.
type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ReportID    uint       `gorm:"index;not null" json:"reportId"`
	WorkerID    string     `gorm:"index;not null" json:"workerId"`
	Status      TaskStatus `gorm:"type:varchar(16);index" json:"status"`
	Notes       string     `json:"notes,omitempty"`
	ProofURL    string     `json:"proofUrl,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// LeaderboardEntry holds one contributor's standing. There is one row per
// user, recomputed from the reports table.
type LeaderboardEntry struct {
	UserID        string    `gorm:"primaryKey;type:varchar(128)" json:"userId"`
	ReportsCount  int       `json:"reportsCount"`
	ResolvedCount int       `json:"resolvedCount"`
	Score         int       `gorm:"index" json:"score"`
	Month         string    `gorm:"type:varchar(7)" json:"month"` // YYYY-MM of the last refresh
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Score weights.
const (
	PointsPerReport   = 10
	PointsPerResolved = 50
)

// Score computes a contributor score.
func Score(reports, resolved int) int {
	return reports*PointsPerReport + resolved*PointsPerResolved
}

var reportTransitions = map[ReportStatus][]ReportStatus{
	ReportPending:  {ReportAssigned, ReportFixed},
	ReportAssigned: {ReportPending, ReportFixed},
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskAssigned:   {TaskInProgress, TaskCompleted, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskCancelled},
}

// CanTransition reports whether a report may move from one status to another.
func (s ReportStatus) CanTransition(to ReportStatus) bool {
	for _, next := range reportTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known report status.
func (s ReportStatus) Valid() bool {
	return s == ReportPending || s == ReportAssigned || s == ReportFixed
}

func (s TaskStatus) canTransition(to TaskStatus) bool {
	for _, next := range taskTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
