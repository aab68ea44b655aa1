package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/potholewatch/potholewatch/internal/aireport"
	"github.com/potholewatch/potholewatch/internal/buildinfo"
	"github.com/potholewatch/potholewatch/internal/civic"
	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/datastore"
	"github.com/potholewatch/potholewatch/internal/detection"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/imaging"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	citizenToken = "Bearer citizen-token"
	workerToken  = "Bearer worker-token"
	adminToken   = "Bearer admin-token"
)

// fakeDetector records straight into the store.
type fakeDetector struct {
	store *predictions.Store
	err   error

	mu      sync.Mutex
	uploads []detection.Upload
}

func (f *fakeDetector) Detect(_ context.Context, up detection.Upload) (predictions.Record, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, up)
	f.mu.Unlock()
	if f.err != nil {
		return predictions.Record{}, f.err
	}
	img := imaging.DataURL(imaging.MIMEJPEG, up.Data)
	return f.store.AddPrediction(predictions.Draft{
		ImageDataURL: &img,
		IsPothole:    true,
		Confidence:   0.9,
		Location:     up.Location,
	}), nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeGenerator struct{ reply string }

func (f fakeGenerator) Generate(context.Context, string, []aireport.Turn) (string, error) {
	return f.reply, nil
}

type testEnv struct {
	e        *echo.Echo
	ctrl     *Controller
	store    *predictions.Store
	detector *fakeDetector
	civic    *civic.Repository
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	settings := &conf.Settings{}
	settings.Detection.MaxUploadBytes = 1 << 20
	settings.Predictions.MaxInlineImageLength = predictions.DefaultMaxInlineImageLength
	settings.Security.Tokens = []conf.TokenSettings{
		{Token: "citizen-token", UserID: "alice", Role: "citizen"},
		{Token: "worker-token", UserID: "wendy", Role: "worker"},
		{Token: "admin-token", UserID: "root", Role: "admin"},
	}

	dbCfg := &conf.DatabaseSettings{Type: "sqlite"}
	dbCfg.SQLite.Path = ":memory:"
	db, err := datastore.Open(dbCfg, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo, err := civic.NewRepository(db, nil, logger.NewDiscard())
	require.NoError(t, err)

	httpMetrics, err := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	store := predictions.NewStore(nil)
	detector := &fakeDetector{store: store}
	deps := Deps{
		Settings:    settings,
		Store:       store,
		Detector:    detector,
		Inference:   fakePinger{},
		Civic:       repo,
		AI:          aireport.NewService(fakeGenerator{reply: `{"summary":"Road hazard","riskLevel":"high"}`}, 0, logger.NewDiscard()),
		HTTPMetrics: httpMetrics,
		BuildInfo:   &buildinfo.Context{Version: "1.2.3", BuildDate: "2025-01-01"},
		Logger:      logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	e := echo.New()
	ctrl, err := New(e, deps)
	require.NoError(t, err)
	t.Cleanup(ctrl.Shutdown)
	return &testEnv{e: e, ctrl: ctrl, store: store, detector: detector, civic: repo}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func multipartUpload(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if image != nil {
		fw, err := w.CreateFormFile("image", "road.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func (env *testEnv) upload(t *testing.T, token string, fields map[string]string, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, fields, image)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresCoreDeps(t *testing.T) {
	t.Parallel()
	_, err := New(echo.New(), Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.store.AddPrediction(predictions.Draft{})

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, 1, health.Predictions)
	assert.Equal(t, "ok", health.Inference)

	degraded := newTestEnv(t, func(d *Deps) { d.Inference = fakePinger{err: errors.NewStd("down")} })
	rec = degraded.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health = decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unavailable", health.Inference)
}

func TestSystemInfoIsAdminOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/system", citizenToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/system", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[SystemInfo](t, rec)
	assert.Positive(t, info.NumCPU)
	assert.NotEmpty(t, info.GoVersion)
	assert.Nil(t, info.Storage, "no local storage configured")
}

func TestListAndLookupPredictions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	first := env.store.AddPrediction(predictions.Draft{IsPothole: true, Confidence: 0.8})
	second := env.store.AddPrediction(predictions.Draft{Confidence: 0.4})

	rec := env.do(t, http.MethodGet, "/api/v1/predictions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]predictions.Record](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	rec = env.do(t, http.MethodGet, "/api/v1/predictions?limit=1", "", nil)
	assert.Len(t, decode[[]predictions.Record](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/v1/predictions?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusBadRequest, errResp.Code)
	assert.Len(t, errResp.CorrelationID, 8)

	rec = env.do(t, http.MethodGet, "/api/v1/predictions/"+first.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.ID, decode[predictions.Record](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/v1/predictions/pred-missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/predictions/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[predictions.Summary](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Potholes)
}

func TestListPredictionsOmitsLargeImages(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	large := "data:image/jpeg;base64," + strings.Repeat("A", predictions.DefaultMaxInlineImageLength)
	small := "data:image/png;base64,AAAA"
	rec := env.store.AddPrediction(predictions.Draft{
		ImageDataURL:   &large,
		OverlayDataURL: predictions.StringPtr("data:image/png;base64,b3Zlcg=="),
		MaskDataURL:    predictions.StringPtr("data:image/png;base64,bWFzaw=="),
		IsPothole:      true,
		Confidence:     0.8,
	})
	kept := env.store.AddPrediction(predictions.Draft{ImageDataURL: &small, Confidence: 0.3})

	res := env.do(t, http.MethodGet, "/api/v1/predictions", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotContains(t, res.Body.String(), "b3Zlcg==")
	list := decode[[]predictions.Record](t, res)
	require.Len(t, list, 2)
	assert.Equal(t, kept.ID, list[0].ID)
	require.NotNil(t, list[0].ImageDataURL)
	assert.Equal(t, small, *list[0].ImageDataURL)
	assert.Equal(t, rec.ID, list[1].ID)
	assert.Nil(t, list[1].ImageDataURL)
	assert.Nil(t, list[1].OverlayDataURL)
	assert.Nil(t, list[1].MaskDataURL)
	assert.InDelta(t, 0.8, list[1].Confidence, 1e-9)

	res = env.do(t, http.MethodGet, "/api/v1/predictions/"+rec.ID, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	full := decode[predictions.Record](t, res)
	require.NotNil(t, full.ImageDataURL)
	assert.Equal(t, large, *full.ImageDataURL)
	require.NotNil(t, full.OverlayDataURL)
	require.NotNil(t, full.MaskDataURL)

	// the store itself keeps the full record
	stored, ok := env.store.Lookup(rec.ID)
	require.True(t, ok)
	assert.NotNil(t, stored.OverlayDataURL)
}

func TestExportPrediction(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	img := imaging.DataURL(imaging.MIMEJPEG, []byte("jpeg-bytes"))
	withImage := env.store.AddPrediction(predictions.Draft{ImageDataURL: &img, IsPothole: true})
	bare := env.store.AddPrediction(predictions.Draft{})

	rec := env.do(t, http.MethodGet, "/api/v1/predictions/"+withImage.ID+"/export/json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "pothole-report-"+withImage.ID+".json")
	assert.NotContains(t, rec.Body.String(), "imageDataUrl")

	rec = env.do(t, http.MethodGet, "/api/v1/predictions/"+withImage.ID+"/export/png", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, imaging.MIMEJPEG, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), ".jpg")

	rec = env.do(t, http.MethodGet, "/api/v1/predictions/"+bare.ID+"/export/png", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/predictions/"+bare.ID+"/export/pdf", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))

	rec = env.do(t, http.MethodGet, "/api/v1/predictions/"+bare.ID+"/export/docx", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePrediction(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.upload(t, "", nil, []byte("img"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.upload(t, workerToken, nil, []byte("img"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.upload(t, citizenToken, map[string]string{"lat": "12.5"}, []byte("img"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.upload(t, citizenToken, map[string]string{"lat": "95", "lng": "10"}, []byte("img"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.upload(t, citizenToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.upload(t, citizenToken, map[string]string{"lat": "12.5", "lng": "77.25"}, []byte("img"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[predictions.Record](t, rec)
	require.NotNil(t, created.Location)
	assert.InDelta(t, 12.5, created.Location.Lat, 1e-9)
	assert.Equal(t, 1, env.store.Len())
	require.Len(t, env.detector.uploads, 1)
	assert.Equal(t, "road.jpg", env.detector.uploads[0].Filename)

	rec = env.upload(t, adminToken, nil, []byte("img"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreatePredictionMapsServiceErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		category errors.ErrorCategory
		status   int
	}{
		{errors.CategoryInference, http.StatusBadGateway},
		{errors.CategoryValidation, http.StatusBadRequest},
		{errors.CategoryLimit, http.StatusRequestEntityTooLarge},
		{errors.CategoryTimeout, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			env.detector.err = errors.Newf("boom").Component("test").Category(tt.category).Build()
			rec := env.upload(t, citizenToken, nil, []byte("img"))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, 0, env.store.Len())
		})
	}
}

func TestUploadRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(d *Deps) {
		d.Settings.WebServer.RateLimit = conf.RateLimitSettings{Enabled: true, Rate: 0.001, Burst: 1}
	})
	assert.Equal(t, http.StatusCreated, env.upload(t, citizenToken, nil, []byte("img")).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.upload(t, citizenToken, nil, []byte("img")).Code)
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func TestCivicWorkflow(t *testing.T) {
	t.Parallel()
	notifier := &recordingNotifier{}
	env := newTestEnv(t, func(d *Deps) { d.Notifier = notifier })
	pred := env.store.AddPrediction(predictions.Draft{
		IsPothole: true, Confidence: 0.9, Location: &predictions.Location{Lat: 40.7, Lng: -74},
	})

	rec := env.do(t, http.MethodPost, "/api/v1/reports", citizenToken, map[string]any{
		"predictionId": pred.ID, "severity": "high", "complaintText": "Deep hole", "generateSummary": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rep := decode[civic.Report](t, rec)
	assert.Equal(t, "alice", rep.UserID)
	assert.InDelta(t, 40.7, rep.Latitude, 1e-9)
	assert.Equal(t, "Road hazard", rep.AISummary)
	assert.Equal(t, civic.ReportPending, rep.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/reports", citizenToken, map[string]any{"predictionId": "pred-nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/reports/mine", citizenToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]civic.Report](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/v1/reports", citizenToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/reports?status=pending", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]civic.Report](t, rec), 1)

	path := "/api/v1/reports/" + itoa(rep.ID)
	rec = env.do(t, http.MethodPost, path+"/assign", adminToken, map[string]string{"workerId": "wendy"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decode[civic.Task](t, rec)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks", workerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]civic.Task](t, rec), 1)

	taskPath := "/api/v1/tasks/" + itoa(task.ID)
	rec = env.do(t, http.MethodPost, taskPath+"/start", workerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, taskPath+"/start", workerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, taskPath+"/complete", workerToken, map[string]string{
		"notes": "patched", "proofUrl": "https://proofs.example/1.jpg",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, civic.TaskCompleted, decode[civic.Task](t, rec).Status)

	notifier.mu.Lock()
	assert.Equal(t, []string{
		"New pothole report #" + itoa(rep.ID) + " (high)",
		"Pothole report #" + itoa(rep.ID) + " fixed",
	}, notifier.titles)
	notifier.mu.Unlock()

	rec = env.do(t, http.MethodGet, "/api/v1/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[[]civic.LeaderboardEntry](t, rec)
	require.Len(t, board, 1)
	assert.Equal(t, 60, board[0].Score)

	rec = env.do(t, http.MethodPatch, path+"/status", adminToken, map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPatch, "/api/v1/reports/abc/status", adminToken, map[string]string{"status": "fixed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskOwnership(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rep := &civic.Report{UserID: "alice", Latitude: 1, Longitude: 1}
	require.NoError(t, env.civic.CreateReport(context.Background(), rep))
	task, err := env.civic.AssignTask(context.Background(), rep.ID, "someone-else")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks/"+itoa(task.ID)+"/start", workerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/tasks/999/start", workerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCivicRoutesAbsentWhenDisabled(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(d *Deps) { d.Civic = nil; d.AI = nil })
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/leaderboard", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/ai/chat", citizenToken, nil).Code)
}

func TestAIEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/ai/report", citizenToken, aireport.Request{Complaint: "hole", Severity: "low"})
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[aireport.Summary](t, rec)
	assert.Equal(t, "Road hazard", summary.Summary)
	assert.Equal(t, "high", summary.RiskLevel)

	rec = env.do(t, http.MethodPost, "/api/v1/ai/report", workerToken, aireport.Request{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/ai/chat", workerToken, ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["reply"], "Road hazard")

	rec = env.do(t, http.MethodPost, "/api/v1/ai/chat", workerToken, ChatRequest{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/ai/chat", "", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.NewStd("plain")))
	build := func(c errors.ErrorCategory) error { return errors.Newf("x").Component("t").Category(c).Build() }
	assert.Equal(t, http.StatusNotFound, statusFor(build(errors.CategoryNotFound)))
	assert.Equal(t, http.StatusForbidden, statusFor(build(errors.CategoryAuth)))
	assert.Equal(t, http.StatusConflict, statusFor(build(errors.CategoryConflict)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(build(errors.CategoryDatabase)))
}

func itoa(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}
