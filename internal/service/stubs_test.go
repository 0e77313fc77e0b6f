package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

type requestRepoStub struct {
	items  map[int64]*models.Request
	nextID int64
	err    error
	calls  int
}

func newRequestRepoStub(items ...models.Request) *requestRepoStub {
	stub := &requestRepoStub{items: map[int64]*models.Request{}, nextID: 100}
	for i := range items {
		item := items[i]
		stub.items[item.ID] = &item
	}
	return stub
}

func (s *requestRepoStub) FindByID(ctx context.Context, id int64) (*models.Request, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	item, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *item
	return &cp, nil
}

func (s *requestRepoStub) Create(ctx context.Context, req *models.Request) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.nextID++
	req.ID = s.nextID
	req.CreatedAt = time.Now().UTC()
	cp := *req
	s.items[req.ID] = &cp
	return nil
}

func (s *requestRepoStub) UpdateText(ctx context.Context, id int64, text string) (*models.Request, error) {
	s.calls++
	item, ok := s.items[id]
	if !ok || item.Fulfilled() {
		return nil, sql.ErrNoRows
	}
	item.Text = text
	cp := *item
	return &cp, nil
}

func (s *requestRepoStub) MarkFulfilled(ctx context.Context, id int64) (*models.Request, error) {
	s.calls++
	item, ok := s.items[id]
	if !ok || item.Fulfilled() {
		return nil, sql.ErrNoRows
	}
	item.Status = models.RequestStatusFulfilled
	cp := *item
	return &cp, nil
}

func (s *requestRepoStub) Delete(ctx context.Context, id int64) error {
	s.calls++
	delete(s.items, id)
	return nil
}

type applicationRepoStub struct {
	items  []models.Application
	err    error
	nextID int64
	calls  int
}

func (s *applicationRepoStub) FindByID(ctx context.Context, id int64) (*models.Application, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	for _, item := range s.items {
		if item.ID == id {
			cp := item
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *applicationRepoStub) FindByPair(ctx context.Context, requestID int64, teacherID string) (*models.Application, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].RequestID == requestID && s.items[i].TeacherID == teacherID {
			cp := s.items[i]
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *applicationRepoStub) Create(ctx context.Context, app *models.Application) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.nextID++
	app.ID = s.nextID
	s.items = append(s.items, *app)
	return nil
}

func (s *applicationRepoStub) ListByRequest(ctx context.Context, requestID int64) ([]models.Application, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Application
	for _, item := range s.items {
		if item.RequestID == requestID {
			out = append(out, item)
		}
	}
	return out, nil
}

// engagementStoreStub records direct and parent-linked rows in memory.
type engagementStoreStub struct {
	direct      []models.TeacherStudent
	parentLinks []models.ParentChildTeacher
	err         error
	writes      int
}

func (s *engagementStoreStub) FindLatestDirect(ctx context.Context, studentID, teacherID, subject, level string) (*models.TeacherStudent, error) {
	if s.err != nil {
		return nil, s.err
	}
	var latest *models.TeacherStudent
	for i := range s.direct {
		row := s.direct[i]
		if row.StudentID != studentID || row.TeacherID != teacherID || row.Subject != subject || row.Level != level {
			continue
		}
		if latest == nil || row.ExpiryDate.After(latest.ExpiryDate) {
			latest = &row
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (s *engagementStoreStub) CreateDirect(ctx context.Context, row *models.TeacherStudent) error {
	s.writes++
	row.ID = int64(len(s.direct) + 1)
	s.direct = append(s.direct, *row)
	return nil
}

func (s *engagementStoreStub) FindLatestParentLink(ctx context.Context, childID, teacherID string) (*models.ParentChildTeacher, error) {
	if s.err != nil {
		return nil, s.err
	}
	var latest *models.ParentChildTeacher
	for i := range s.parentLinks {
		row := s.parentLinks[i]
		if row.ChildID != childID || row.TeacherID != teacherID {
			continue
		}
		if latest == nil || row.ExpiryDate.After(latest.ExpiryDate) {
			latest = &row
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (s *engagementStoreStub) CreateParentLink(ctx context.Context, row *models.ParentChildTeacher) error {
	s.writes++
	row.ID = int64(len(s.parentLinks) + 1)
	s.parentLinks = append(s.parentLinks, *row)
	return nil
}

// rosterStub counts batch lookups so tests can assert query bounds.
type rosterStub struct {
	users       map[string]models.User
	children    map[string]models.Child
	userCalls   [][]string
	childCalls  [][]string
	userErr     error
	findUserErr error
}

func (s *rosterStub) FindUser(ctx context.Context, id string) (*models.User, error) {
	if s.findUserErr != nil {
		return nil, s.findUserErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (s *rosterStub) FindUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	s.userCalls = append(s.userCalls, ids)
	if s.userErr != nil {
		return nil, s.userErr
	}
	out := map[string]models.User{}
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s *rosterStub) FindChild(ctx context.Context, id string) (*models.Child, error) {
	c, ok := s.children[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (s *rosterStub) FindChildrenByIDs(ctx context.Context, ids []string) (map[string]models.Child, error) {
	s.childCalls = append(s.childCalls, ids)
	out := map[string]models.Child{}
	for _, id := range ids {
		if c, ok := s.children[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type cacheRepoStub struct {
	values  map[string][]byte
	deleted []string
}

func (s *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := s.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (s *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if s.values == nil {
		s.values = map[string][]byte{}
	}
	s.values[key] = raw
	return nil
}

func (s *cacheRepoStub) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
		s.deleted = append(s.deleted, key)
	}
	return nil
}
