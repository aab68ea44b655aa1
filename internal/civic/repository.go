// Package civic stores citizen reports, repair tasks and the contributor
// leaderboard.
package civic

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/k3a/html2text"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/potholewatch/potholewatch/internal/datastore"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
)

// ReportFilter narrows ListReports. Zero values match everything.
type ReportFilter struct {
	Status ReportStatus
	Limit  int
}

// Repository is the gorm backed civic store.
type Repository struct {
	db      *gorm.DB
	metrics metrics.Recorder
	log     logger.Logger
	now     func() time.Time
}

// NewRepository migrates the civic tables and returns a repository. rec may
// be nil.
func NewRepository(store *datastore.Store, rec metrics.Recorder, log logger.Logger) (*Repository, error) {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	if log == nil {
		log = logger.Global().Module("civic")
	}
	if err := store.Migrate(&Report{}, &Task{}, &LeaderboardEntry{}); err != nil {
		return nil, err
	}
	return &Repository{db: store.DB, metrics: rec, log: log, now: time.Now}, nil
}

// observe records the outcome of a civic operation.
func (r *Repository) observe(op string, start time.Time, err error) {
	r.metrics.RecordDuration(op, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordOperation(op, metrics.StatusError)
		var ee *errors.EnhancedError
		category := string(errors.CategoryDatabase)
		if errors.As(err, &ee) {
			category = string(ee.Category)
		}
		r.metrics.RecordError(op, category)
		return
	}
	r.metrics.RecordOperation(op, metrics.StatusSuccess)
}

func dbError(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(err).
			Component("civic").
			Category(errors.CategoryNotFound).
			Context("operation", op).
			Build()
	}
	return errors.New(err).
		Component("civic").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

func validationError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("civic").
		Category(errors.CategoryValidation).
		Build()
}

func validateReport(rep *Report) error {
	if rep.UserID == "" {
		return validationError("report requires a user")
	}
	if rep.Latitude < -90 || rep.Latitude > 90 || rep.Longitude < -180 || rep.Longitude > 180 {
		return validationError("coordinates out of range: %f, %f", rep.Latitude, rep.Longitude)
	}
	if rep.Severity == "" {
		rep.Severity = "medium"
	}
	if !slices.Contains(Severities, rep.Severity) {
		return validationError("unknown severity %q", rep.Severity)
	}
	rep.ComplaintText = plainText(rep.ComplaintText)
	if n := utf8.RuneCountInString(rep.ComplaintText); n > MaxComplaintLength {
		return validationError("complaint text is %d characters, limit is %d", n, MaxComplaintLength)
	}
	return nil
}

// plainText strips markup pasted into a complaint so that reports,
// notifications and the AI prompt only ever see text.
func plainText(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = html2text.HTML2Text(s)
	}
	return strings.TrimSpace(s)
}

// CreateReport stores a new pending report and refreshes the author's
// leaderboard row.
func (r *Repository) CreateReport(ctx context.Context, rep *Report) (err error) {
	defer func(start time.Time) { r.observe(metrics.OpReportCreate, start, err) }(time.Now())

	if err := validateReport(rep); err != nil {
		return err
	}
	rep.ID = 0
	rep.Status = ReportPending
	if err := r.db.WithContext(ctx).Create(rep).Error; err != nil {
		return dbError(err, "create_report")
	}
	r.log.Info("report created",
		logger.Int("report_id", int(rep.ID)),
		logger.String("user_id", rep.UserID),
		logger.String("severity", rep.Severity))

	_, err = r.RefreshLeaderboard(ctx, rep.UserID, r.now())
	return err
}

// GetReport loads a report by id.
func (r *Repository) GetReport(ctx context.Context, id uint) (*Report, error) {
	var rep Report
	if err := r.db.WithContext(ctx).First(&rep, id).Error; err != nil {
		return nil, dbError(err, "get_report")
	}
	return &rep, nil
}

// ListReports returns reports newest first.
func (r *Repository) ListReports(ctx context.Context, filter ReportFilter) ([]Report, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, validationError("unknown report status %q", filter.Status)
		}
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []Report
	if err := q.Find(&out).Error; err != nil {
		return nil, dbError(err, "list_reports")
	}
	return out, nil
}

// ListReportsByUser returns a user's reports newest first.
func (r *Repository) ListReportsByUser(ctx context.Context, userID string) ([]Report, error) {
	var out []Report
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, dbError(err, "list_reports_by_user")
	}
	return out, nil
}

// UpdateReportStatus moves a report along its lifecycle. Setting the current
// status again is a no-op.
func (r *Repository) UpdateReportStatus(ctx context.Context, id uint, status ReportStatus) (rep *Report, err error) {
	defer func(start time.Time) { r.observe(metrics.OpReportUpdate, start, err) }(time.Now())

	if !status.Valid() {
		return nil, validationError("unknown report status %q", status)
	}
	rep, err = r.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.Status == status {
		return rep, nil
	}
	if !rep.Status.CanTransition(status) {
		return nil, validationError("report %d cannot move from %s to %s", id, rep.Status, status)
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(rep).Update("status", status).Error; err != nil {
			return dbError(err, "update_report_status")
		}
		// leaving assigned, by release or by manual closure, ends the open task
		if rep.Status == ReportAssigned {
			err := tx.Model(&Task{}).
				Where("report_id = ? AND status IN ?", rep.ID, openTaskStatuses).
				Update("status", TaskCancelled).Error
			if err != nil {
				return dbError(err, "update_report_status")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rep.Status = status

	if status == ReportFixed {
		if _, err := r.RefreshLeaderboard(ctx, rep.UserID, r.now()); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// AssignTask creates a task for workerID and marks the report assigned.
func (r *Repository) AssignTask(ctx context.Context, reportID uint, workerID string) (task *Task, err error) {
	defer func(start time.Time) { r.observe(metrics.OpTaskAssign, start, err) }(time.Now())

	if workerID == "" {
		return nil, validationError("task requires a worker")
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rep Report
		if err := tx.First(&rep, reportID).Error; err != nil {
			return dbError(err, "assign_task")
		}
		if rep.Status != ReportPending {
			return validationError("report %d is %s, only pending reports can be assigned", reportID, rep.Status)
		}
		task = &Task{ReportID: reportID, WorkerID: workerID, Status: TaskAssigned}
		if err := tx.Create(task).Error; err != nil {
			return dbError(err, "assign_task")
		}
		if err := tx.Model(&rep).Update("status", ReportAssigned).Error; err != nil {
			return dbError(err, "assign_task")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("task assigned",
		logger.Int("task_id", int(task.ID)),
		logger.Int("report_id", int(reportID)),
		logger.String("worker_id", workerID))
	return task, nil
}

// ListTasks returns a worker's tasks, open ones first.
func (r *Repository) ListTasks(ctx context.Context, workerID string) ([]Task, error) {
	var out []Task
	err := r.db.WithContext(ctx).
		Where("worker_id = ?", workerID).
		Order("completed_at ASC").Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, dbError(err, "list_tasks")
	}
	return out, nil
}

// loadOwnTask fetches a task and checks it belongs to workerID.
func loadOwnTask(tx *gorm.DB, taskID uint, workerID string) (*Task, error) {
	var task Task
	if err := tx.First(&task, taskID).Error; err != nil {
		return nil, dbError(err, "load_task")
	}
	if task.WorkerID != workerID {
		return nil, errors.Newf("task %d is not assigned to %s", taskID, workerID).
			Component("civic").
			Category(errors.CategoryAuth).
			Build()
	}
	return &task, nil
}

// loadActiveTask loads a task owned by workerID that may move to next. The
// task's report must still be assigned and the task must be the report's
// newest open task, so a worker holding a superseded task cannot act on a
// report that was released and reassigned. Callers run it inside the
// transaction that performs the update.
func loadActiveTask(tx *gorm.DB, taskID uint, workerID string, next TaskStatus) (*Task, *Report, error) {
	task, err := loadOwnTask(tx, taskID, workerID)
	if err != nil {
		return nil, nil, err
	}
	if !task.Status.canTransition(next) {
		return nil, nil, validationError("task %d cannot move from %s to %s", taskID, task.Status, next)
	}

	var rep Report
	if err := tx.First(&rep, task.ReportID).Error; err != nil {
		return nil, nil, dbError(err, "load_task_report")
	}
	if rep.Status != ReportAssigned {
		return nil, nil, validationError("report %d is %s, task %d is no longer active", rep.ID, rep.Status, taskID)
	}

	var current Task
	err = tx.Where("report_id = ? AND status IN ?", rep.ID, openTaskStatuses).
		Order("id DESC").
		First(&current).Error
	if err != nil {
		return nil, nil, dbError(err, "load_task_report")
	}
	if current.ID != task.ID {
		return nil, nil, validationError("task %d was superseded by task %d", taskID, current.ID)
	}
	return task, &rep, nil
}

// StartTask moves an assigned task to in_progress.
func (r *Repository) StartTask(ctx context.Context, taskID uint, workerID string) (task *Task, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, _, err := loadActiveTask(tx, taskID, workerID, TaskInProgress)
		if err != nil {
			return err
		}
		if err := tx.Model(t).Update("status", TaskInProgress).Error; err != nil {
			return dbError(err, "start_task")
		}
		t.Status = TaskInProgress
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CompleteTask closes the task with the worker's notes and proof, marks the
// report fixed and credits the reporter on the leaderboard.
func (r *Repository) CompleteTask(ctx context.Context, taskID uint, workerID, notes, proofURL string) (task *Task, err error) {
	defer func(start time.Time) { r.observe(metrics.OpTaskComplete, start, err) }(time.Now())

	now := r.now().UTC()
	var reporter string
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, rep, err := loadActiveTask(tx, taskID, workerID, TaskCompleted)
		if err != nil {
			return err
		}
		err = tx.Model(t).Updates(map[string]any{
			"status":       TaskCompleted,
			"notes":        notes,
			"proof_url":    proofURL,
			"completed_at": now,
		}).Error
		if err != nil {
			return dbError(err, "complete_task")
		}
		t.Status, t.Notes, t.ProofURL, t.CompletedAt = TaskCompleted, notes, proofURL, &now

		if err := tx.Model(rep).Update("status", ReportFixed).Error; err != nil {
			return dbError(err, "complete_task")
		}
		reporter = rep.UserID
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("task completed",
		logger.Int("task_id", int(taskID)),
		logger.String("worker_id", workerID))
	if _, err := r.RefreshLeaderboard(ctx, reporter, now); err != nil {
		return nil, err
	}
	return task, nil
}

// RefreshLeaderboard recomputes a user's counts and score from the reports
// table and upserts the row.
func (r *Repository) RefreshLeaderboard(ctx context.Context, userID string, now time.Time) (*LeaderboardEntry, error) {
	db := r.db.WithContext(ctx)

	var reports, resolved int64
	if err := db.Model(&Report{}).Where("user_id = ?", userID).Count(&reports).Error; err != nil {
		return nil, dbError(err, "refresh_leaderboard")
	}
	err := db.Model(&Report{}).
		Where("user_id = ? AND status = ?", userID, ReportFixed).
		Count(&resolved).Error
	if err != nil {
		return nil, dbError(err, "refresh_leaderboard")
	}

	entry := &LeaderboardEntry{
		UserID:        userID,
		ReportsCount:  int(reports),
		ResolvedCount: int(resolved),
		Score:         Score(int(reports), int(resolved)),
		Month:         now.UTC().Format("2006-01"),
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reports_count", "resolved_count", "score", "month", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return nil, dbError(err, "refresh_leaderboard")
	}
	return entry, nil
}

// Leaderboard returns the top entries by score. limit <= 0 returns all.
func (r *Repository) Leaderboard(ctx context.Context, limit int) (out []LeaderboardEntry, err error) {
	defer func(start time.Time) { r.observe(metrics.OpLeaderboard, start, err) }(time.Now())

	q := r.db.WithContext(ctx).Order("score DESC").Order("user_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, dbError(err, "leaderboard")
	}
	return out, nil
}
