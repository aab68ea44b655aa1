package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/potholewatch/potholewatch/internal/aireport"
	"github.com/potholewatch/potholewatch/internal/api/auth"
	"github.com/potholewatch/potholewatch/internal/civic"
	"github.com/potholewatch/potholewatch/internal/logger"
)

func (c *Controller) initCivicRoutes() {
	citizen := c.auth.RequireRole(auth.RoleCitizen)
	admin := c.auth.RequireRole(auth.RoleAdmin)
	worker := c.auth.RequireRole(auth.RoleWorker)

	c.Group.POST("/reports", c.CreateReport, citizen)
	c.Group.GET("/reports/mine", c.ListMyReports, citizen)
	c.Group.GET("/reports", c.ListReports, admin)
	c.Group.PATCH("/reports/:id/status", c.UpdateReportStatus, admin)
	c.Group.POST("/reports/:id/assign", c.AssignTask, admin)

	c.Group.GET("/tasks", c.ListTasks, worker)
	c.Group.POST("/tasks/:id/start", c.StartTask, worker)
	c.Group.POST("/tasks/:id/complete", c.CompleteTask, worker)

	c.Group.GET("/leaderboard", c.Leaderboard)
}

// CreateReportRequest is the body of POST /reports.
type CreateReportRequest struct {
	PredictionID    string   `json:"predictionId"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	Severity        string   `json:"severity"`
	ComplaintText   string   `json:"complaintText"`
	GenerateSummary bool     `json:"generateSummary"`
}

// CreateReport files a civic report. Coordinates missing from the body are
// taken from the linked prediction when it has a location.
func (c *Controller) CreateReport(ctx echo.Context) error {
	var req CreateReportRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	rep := &civic.Report{
		UserID:        auth.PrincipalFrom(ctx).UserID,
		PredictionID:  req.PredictionID,
		Severity:      req.Severity,
		ComplaintText: req.ComplaintText,
	}

	var confidence, area *float64
	if req.PredictionID != "" {
		rec, ok := c.store.Lookup(req.PredictionID)
		if !ok {
			return c.HandleError(ctx, nil, "Linked prediction not found", http.StatusNotFound)
		}
		if rec.Location != nil {
			rep.Latitude, rep.Longitude = rec.Location.Lat, rec.Location.Lng
		}
		value := rec.Confidence
		confidence = &value
		if rec.Metrics != nil {
			area = rec.Metrics.AreaPixels
		}
	}
	if req.Latitude != nil && req.Longitude != nil {
		rep.Latitude, rep.Longitude = *req.Latitude, *req.Longitude
	}

	if req.GenerateSummary && c.ai != nil {
		summary := c.ai.Summarize(ctx.Request().Context(), aireport.Request{
			Complaint:  req.ComplaintText,
			Severity:   req.Severity,
			Lat:        rep.Latitude,
			Lng:        rep.Longitude,
			Confidence: confidence,
			AreaPixels: area,
		})
		rep.AISummary = summary.Summary
	}

	if err := c.civic.CreateReport(ctx.Request().Context(), rep); err != nil {
		return c.HandleServiceError(ctx, err, "Failed to create report")
	}
	c.notify(fmt.Sprintf("New pothole report #%d (%s)", rep.ID, rep.Severity),
		fmt.Sprintf("Location: %.5f, %.5f\n%s", rep.Latitude, rep.Longitude, rep.ComplaintText))
	return ctx.JSON(http.StatusCreated, rep)
}

// ListMyReports lists the caller's reports.
func (c *Controller) ListMyReports(ctx echo.Context) error {
	reports, err := c.civic.ListReportsByUser(ctx.Request().Context(), auth.PrincipalFrom(ctx).UserID)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to list reports")
	}
	return ctx.JSON(http.StatusOK, reports)
}

// ListReports lists all reports, optionally filtered by ?status=.
func (c *Controller) ListReports(ctx echo.Context) error {
	limit, err := queryLimit(ctx)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Invalid limit")
	}
	reports, err := c.civic.ListReports(ctx.Request().Context(), civic.ReportFilter{
		Status: civic.ReportStatus(ctx.QueryParam("status")),
		Limit:  limit,
	})
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to list reports")
	}
	return ctx.JSON(http.StatusOK, reports)
}

// UpdateReportStatus handles PATCH /reports/:id/status.
func (c *Controller) UpdateReportStatus(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Invalid report id")
	}
	var body struct {
		Status civic.ReportStatus `json:"status"`
	}
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	rep, err := c.civic.UpdateReportStatus(ctx.Request().Context(), id, body.Status)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to update report")
	}
	return ctx.JSON(http.StatusOK, rep)
}

// AssignTask handles POST /reports/:id/assign.
func (c *Controller) AssignTask(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Invalid report id")
	}
	var body struct {
		WorkerID string `json:"workerId"`
	}
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	task, err := c.civic.AssignTask(ctx.Request().Context(), id, body.WorkerID)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to assign task")
	}
	c.logger.Info("task assigned via API",
		logger.Int("report_id", int(id)),
		logger.String("admin", auth.PrincipalFrom(ctx).UserID))
	return ctx.JSON(http.StatusCreated, task)
}

// ListTasks lists the calling worker's tasks.
func (c *Controller) ListTasks(ctx echo.Context) error {
	tasks, err := c.civic.ListTasks(ctx.Request().Context(), auth.PrincipalFrom(ctx).UserID)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to list tasks")
	}
	return ctx.JSON(http.StatusOK, tasks)
}

// StartTask handles POST /tasks/:id/start.
func (c *Controller) StartTask(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Invalid task id")
	}
	task, err := c.civic.StartTask(ctx.Request().Context(), id, auth.PrincipalFrom(ctx).UserID)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to start task")
	}
	return ctx.JSON(http.StatusOK, task)
}

// CompleteTask handles POST /tasks/:id/complete.
func (c *Controller) CompleteTask(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Invalid task id")
	}
	var body struct {
		Notes    string `json:"notes"`
		ProofURL string `json:"proofUrl"`
	}
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	task, err := c.civic.CompleteTask(ctx.Request().Context(), id, auth.PrincipalFrom(ctx).UserID, body.Notes, body.ProofURL)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to complete task")
	}
	c.notify(fmt.Sprintf("Pothole report #%d fixed", task.ReportID),
		fmt.Sprintf("Task #%d completed by %s. %s", task.ID, task.WorkerID, task.Notes))
	return ctx.JSON(http.StatusOK, task)
}

// Leaderboard returns contributors ordered by score.
func (c *Controller) Leaderboard(ctx echo.Context) error {
	limit, err := queryLimit(ctx)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Invalid limit")
	}
	entries, err := c.civic.Leaderboard(ctx.Request().Context(), limit)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to load leaderboard")
	}
	return ctx.JSON(http.StatusOK, entries)
}
