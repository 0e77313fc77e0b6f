package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-match-api/internal/middleware"
	"github.com/noah-isme/tutor-match-api/internal/models"
	"github.com/noah-isme/tutor-match-api/internal/service"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

func newTestContext(t *testing.T, method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

var (
	studentClaims = &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	teacherClaims = &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}
	parentClaims  = &models.JWTClaims{UserID: "parent-1", Role: models.RoleParent}
)

type requestBoardStub struct {
	items  []models.Request
	err    error
	viewer models.Viewer
}

func (s *requestBoardStub) Snapshot(ctx context.Context, viewer models.Viewer) ([]models.Request, error) {
	s.viewer = viewer
	return s.items, s.err
}

type requestServiceStub struct {
	fulfillErr error
	deleted    []int64
}

func (s *requestServiceStub) Create(ctx context.Context, viewer models.Viewer, req service.CreateRequestRequest) (*models.Request, error) {
	return &models.Request{ID: 7, RequesterID: viewer.ID, Text: req.Text, Status: models.RequestStatusOpen}, nil
}

func (s *requestServiceStub) UpdateText(ctx context.Context, viewer models.Viewer, id int64, req service.UpdateRequestRequest) (*models.Request, error) {
	return &models.Request{ID: id, RequesterID: viewer.ID, Text: req.Text, Status: models.RequestStatusOpen}, nil
}

func (s *requestServiceStub) Fulfill(ctx context.Context, viewer models.Viewer, id int64) (*models.Request, error) {
	if s.fulfillErr != nil {
		return nil, s.fulfillErr
	}
	return &models.Request{ID: id, Status: models.RequestStatusFulfilled}, nil
}

func (s *requestServiceStub) Delete(ctx context.Context, viewer models.Viewer, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func TestRequestHandlerListUsesViewer(t *testing.T) {
	board := &requestBoardStub{items: []models.Request{{ID: 2, Text: "Math", Status: models.RequestStatusOpen, CreatedAt: time.Now()}}}
	h := NewRequestHandler(board, &requestServiceStub{})
	c, w := newTestContext(t, http.MethodGet, "/requests", nil, teacherClaims)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	var items []models.Request
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Len(t, items, 1)
	assert.EqualValues(t, 1, env.Meta["count"])
	assert.Equal(t, models.Viewer{ID: "t1", Role: models.RoleTeacher}, board.viewer)
}

func TestRequestHandlerRequiresClaims(t *testing.T) {
	h := NewRequestHandler(&requestBoardStub{}, &requestServiceStub{})
	c, w := newTestContext(t, http.MethodGet, "/requests", nil, nil)

	h.List(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestHandlerStoreFailureIsBadGateway(t *testing.T) {
	h := NewRequestHandler(&requestBoardStub{err: appErrors.Clone(appErrors.ErrTransport, "failed to load request board")}, &requestServiceStub{})
	c, w := newTestContext(t, http.MethodGet, "/requests", nil, studentClaims)

	h.List(c)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "STORE_UNAVAILABLE", decodeEnvelope(t, w).Error.Code)
}

func TestRequestHandlerFulfillConflict(t *testing.T) {
	h := NewRequestHandler(&requestBoardStub{}, &requestServiceStub{fulfillErr: appErrors.Clone(appErrors.ErrConflict, "request already fulfilled")})
	c, w := newTestContext(t, http.MethodPost, "/requests/3/fulfill", nil, parentClaims)
	c.Params = gin.Params{{Key: "id", Value: "3"}}

	h.Fulfill(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRequestHandlerRejectsBadIDAndBody(t *testing.T) {
	svc := &requestServiceStub{}
	h := NewRequestHandler(&requestBoardStub{}, svc)

	c, w := newTestContext(t, http.MethodDelete, "/requests/abc", nil, parentClaims)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.Delete(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(t, http.MethodPost, "/requests", `{"text":`, parentClaims)
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(t, http.MethodDelete, "/requests/4", nil, parentClaims)
	c.Params = gin.Params{{Key: "id", Value: "4"}}
	h.Delete(c)
	// CreateTestContext does not flush the status until a body is written.
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []int64{4}, svc.deleted)
}

type applicationServiceStub struct {
	applied bool
}

func (s *applicationServiceStub) HasApplied(ctx context.Context, requestID int64, teacherID string) (bool, error) {
	return s.applied, nil
}

func (s *applicationServiceStub) Apply(ctx context.Context, viewer models.Viewer, requestID int64, req service.ApplyRequest) (*models.Application, error) {
	return &models.Application{ID: 1, RequestID: requestID, TeacherID: viewer.ID, MonthlyRate: *req.MonthlyRate, Status: models.ApplicationStatusPending}, nil
}

func (s *applicationServiceStub) ListByRequest(ctx context.Context, viewer models.Viewer, requestID int64) ([]models.Application, error) {
	return []models.Application{}, nil
}

func TestApplicationHandlerApplyAndMine(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceStub{applied: true})

	c, w := newTestContext(t, http.MethodPost, "/requests/5/applications", map[string]float64{"monthly_rate": 150}, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	h.Apply(c)
	require.Equal(t, http.StatusCreated, w.Code)
	var app models.Application
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &app))
	assert.Equal(t, "t1", app.TeacherID)
	assert.Equal(t, 150.0, app.MonthlyRate)

	c, w = newTestContext(t, http.MethodGet, "/requests/5/applications/me", nil, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	h.Mine(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"request_id":5,"applied":true}`, string(decodeEnvelope(t, w).Data))
}

type registrationServiceStub struct {
	lastReq service.RegistrationRequest
}

func (s *registrationServiceStub) CanRegister(ctx context.Context, viewer models.Viewer, req service.RegistrationRequest) (*models.RegistrationDecision, error) {
	s.lastReq = req
	return &models.RegistrationDecision{Allowed: true}, nil
}

func (s *registrationServiceStub) Register(ctx context.Context, viewer models.Viewer, req service.RegistrationRequest) (*models.TeacherStudent, error) {
	return nil, appErrors.EngagementActive(time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC))
}

func (s *registrationServiceStub) RegisterChild(ctx context.Context, viewer models.Viewer, req service.ChildRegistrationRequest) (*models.ParentChildTeacher, error) {
	return &models.ParentChildTeacher{ID: 1, ParentID: viewer.ID, ChildID: req.ChildID, TeacherID: req.TeacherID}, nil
}

func TestRegistrationHandlerCheckBindsQuery(t *testing.T) {
	svc := &registrationServiceStub{}
	h := NewRegistrationHandler(svc)
	c, w := newTestContext(t, http.MethodGet, "/registrations/check?teacher_id=t1&subject=Math&level=JHS", nil, studentClaims)

	h.Check(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.RegistrationRequest{TeacherID: "t1", Subject: "Math", Level: "JHS"}, svc.lastReq)
}

func TestRegistrationHandlerActiveEngagementIsConflict(t *testing.T) {
	h := NewRegistrationHandler(&registrationServiceStub{})
	c, w := newTestContext(t, http.MethodPost, "/registrations", service.RegistrationRequest{TeacherID: "t1", Subject: "Math", Level: "JHS"}, studentClaims)

	h.Register(c)
	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, "ENGAGEMENT_ACTIVE", env.Error.Code)
	assert.Equal(t, "already active until 2026-11-15", env.Error.Message)
}

type engagementServiceStub struct{}

func (engagementServiceStub) Load(ctx context.Context, viewer models.Viewer, teacherID string) (*models.EngagementView, error) {
	return &models.EngagementView{TeacherID: teacherID, Students: []models.Engagement{{ID: 1}}, Parents: []models.ParentContact{}, RequestStudents: []models.Engagement{}, All: []models.Engagement{{ID: 1}}}, nil
}

type exporterStub struct {
	format service.ExportFormat
}

func (s *exporterStub) Export(ctx context.Context, viewer models.Viewer, teacherID string, format service.ExportFormat) (*service.RosterExport, error) {
	s.format = format
	return &service.RosterExport{Filename: "students_t1_20261015.csv", ContentType: "text/csv", Body: []byte("Student\n")}, nil
}

func TestEngagementHandlerLoadAndExport(t *testing.T) {
	exporter := &exporterStub{}
	h := NewEngagementHandler(engagementServiceStub{}, exporter)

	c, w := newTestContext(t, http.MethodGet, "/teachers/t1/engagements", nil, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}
	h.Load(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeEnvelope(t, w).Meta["students"])

	c, w = newTestContext(t, http.MethodGet, "/teachers/t1/engagements/export", nil, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}
	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ExportFormatCSV, exporter.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "students_t1_20261015.csv")
}

type teacherRateServiceStub struct{}

func (teacherRateServiceStub) List(ctx context.Context, teacherID string) ([]models.TeacherRate, error) {
	return []models.TeacherRate{{ID: 1, TeacherID: teacherID, Subject: "Math", Level: "JHS", MonthlyRate: 150}}, nil
}

func (teacherRateServiceStub) Upsert(ctx context.Context, viewer models.Viewer, teacherID string, req service.UpsertTeacherRateRequest) (*models.TeacherRate, error) {
	return &models.TeacherRate{ID: 1, TeacherID: teacherID, Subject: req.Subject, Level: req.Level, MonthlyRate: *req.MonthlyRate}, nil
}

func TestTeacherRateHandler(t *testing.T) {
	h := NewTeacherRateHandler(teacherRateServiceStub{})

	c, w := newTestContext(t, http.MethodPut, "/teachers/t1/rates", `{"subject":"Math","level":"JHS","monthly_rate":175}`, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}
	h.Upsert(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = newTestContext(t, http.MethodPut, "/teachers/t1/rates", `not json`, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}
	h.Upsert(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(t, http.MethodGet, "/teachers/t1/rates", nil, studentClaims)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}
	h.List(c)
	assert.Equal(t, http.StatusOK, w.Code)
}
