package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

type engagementSourceStub struct {
	mu          sync.Mutex
	direct      []models.DirectEngagementRow
	linked      []models.ParentChildTeacher
	accepted    []models.AcceptedRequestRow
	linkedErr   error
	directCalls int
}

func (s *engagementSourceStub) ListDirectByTeacher(ctx context.Context, teacherID string) ([]models.DirectEngagementRow, error) {
	s.mu.Lock()
	s.directCalls++
	s.mu.Unlock()
	return s.direct, nil
}

func (s *engagementSourceStub) ListParentLinksByTeacher(ctx context.Context, teacherID string) ([]models.ParentChildTeacher, error) {
	if s.linkedErr != nil {
		return nil, s.linkedErr
	}
	return s.linked, nil
}

func (s *engagementSourceStub) ListAcceptedRequestsByTeacher(ctx context.Context, teacherID string) ([]models.AcceptedRequestRow, error) {
	return s.accepted, nil
}

type requestTextStub struct {
	texts map[int64]string
	calls [][]int64
}

func (s *requestTextStub) FindTextsByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	s.calls = append(s.calls, ids)
	return s.texts, nil
}

type imageResolverStub struct{}

func (imageResolverStub) ResolveImageURL(ref string) (string, error) {
	if strings.HasPrefix(ref, "broken") {
		return "", errors.New("unsigned")
	}
	return "https://cdn.test/" + ref, nil
}

const placeholderImage = "https://cdn.test/placeholder.png"

var teacherT1 = models.Viewer{ID: "t1", Role: models.RoleTeacher}

func strPtr(v string) *string { return &v }

func directEngagement(id int64, studentID string, added time.Time) models.DirectEngagementRow {
	return models.DirectEngagementRow{
		TeacherStudent: models.TeacherStudent{
			ID:         id,
			TeacherID:  "t1",
			StudentID:  studentID,
			Subject:    "Math",
			Level:      "JHS",
			DateAdded:  added,
			ExpiryDate: ExpiryFor(added),
		},
		StudentName: strPtr("Student " + studentID),
	}
}

func newEngagementServiceForTest(sources *engagementSourceStub, roster *rosterStub, texts *requestTextStub, cache viewCache) *EngagementService {
	if texts == nil {
		texts = &requestTextStub{}
	}
	svc := NewEngagementService(sources, roster, texts, EngagementServiceConfig{
		Images:         imageResolverStub{},
		PlaceholderURL: placeholderImage,
		Cache:          cache,
		Logger:         zap.NewNop(),
	})
	svc.now = func() time.Time { return date(2026, 10, 15) }
	return svc
}

func TestEngagementLoadDedupesRegularStudents(t *testing.T) {
	sources := &engagementSourceStub{direct: []models.DirectEngagementRow{
		directEngagement(1, "s1", date(2026, 10, 1)),
		directEngagement(2, "s1", date(2026, 10, 5)),
	}}
	sources.direct[1].Subject = "English"
	svc := newEngagementServiceForTest(sources, &rosterStub{}, nil, nil)

	view, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)
	require.Len(t, view.Students, 1)
	assert.Equal(t, "English", view.Students[0].Subject)
	assert.Equal(t, date(2026, 10, 5), view.Students[0].DateAdded)
	assert.Len(t, view.All, 2)
	assert.Empty(t, view.RequestStudents)
	assert.Empty(t, view.Parents)
}

func TestEngagementLoadBatchesRosterLookups(t *testing.T) {
	linked := make([]models.ParentChildTeacher, 0, 5)
	pairs := [][2]string{{"p1", "c1"}, {"p1", "c2"}, {"p2", "c3"}, {"p1", "c1"}, {"p2", "c3"}}
	for i, pair := range pairs {
		added := date(2026, 10, 1+i)
		linked = append(linked, models.ParentChildTeacher{
			ID: int64(i + 1), TeacherID: "t1", ParentID: pair[0], ChildID: pair[1],
			DateAdded: added, ExpiryDate: ExpiryFor(added),
		})
	}
	roster := &rosterStub{
		users: map[string]models.User{
			"p1": {ID: "p1", FullName: "Ama", Role: models.RoleParent},
			"p2": {ID: "p2", FullName: "Yaw", Role: models.RoleParent},
		},
		children: map[string]models.Child{
			"c1": {ID: "c1", ParentID: "p1", FullName: "Kofi"},
			"c2": {ID: "c2", ParentID: "p1", FullName: "Esi"},
			"c3": {ID: "c3", ParentID: "p2", FullName: "Kwame"},
		},
	}
	svc := newEngagementServiceForTest(&engagementSourceStub{linked: linked}, roster, nil, nil)

	view, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)

	require.Len(t, roster.userCalls, 1)
	assert.Equal(t, []string{"p1", "p2"}, roster.userCalls[0])
	require.Len(t, roster.childCalls, 1)
	assert.Equal(t, []string{"c1", "c2", "c3"}, roster.childCalls[0])

	assert.Len(t, view.All, 5)
	require.Len(t, view.Parents, 2)
	assert.Equal(t, "Yaw", view.Parents[0].Parent.FullName)
	assert.Len(t, view.Parents[0].Children, 1)
	assert.Len(t, view.Parents[1].Children, 2)
	for _, e := range view.All {
		assert.Equal(t, models.SourceParentLinked, e.Source)
		require.NotNil(t, e.Parent)
		assert.NotEmpty(t, e.Student.FullName)
	}
}

func TestEngagementLoadOrdersByDateAddedAcrossSources(t *testing.T) {
	sources := &engagementSourceStub{
		direct: []models.DirectEngagementRow{directEngagement(1, "s1", date(2026, 10, 3))},
		linked: []models.ParentChildTeacher{{ID: 2, TeacherID: "t1", ParentID: "p1", ChildID: "c1", DateAdded: date(2026, 10, 9), ExpiryDate: date(2026, 11, 9)}},
		accepted: []models.AcceptedRequestRow{
			{ID: 3, TeacherID: "t1", ParentID: "p1", ChildID: "c1", RequestID: int64Ptr(7), DateAdded: date(2026, 8, 1), ExpiryDate: date(2026, 9, 1)},
		},
	}
	texts := &requestTextStub{texts: map[int64]string{7: "Need SHS Physics tutor"}}
	svc := newEngagementServiceForTest(sources, &rosterStub{}, texts, nil)

	view, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)
	require.Len(t, view.All, 3)
	assert.Equal(t, []int64{2, 1, 3}, []int64{view.All[0].ID, view.All[1].ID, view.All[2].ID})
	for i := 1; i < len(view.All); i++ {
		assert.False(t, view.All[i].DateAdded.After(view.All[i-1].DateAdded))
	}

	require.Len(t, view.RequestStudents, 1)
	req := view.RequestStudents[0]
	assert.Equal(t, models.RequestLevel, req.Level)
	assert.Equal(t, "Need SHS Physics tutor", req.Subject)
	assert.False(t, req.Active)
	assert.Equal(t, [][]int64{{7}}, texts.calls)

	assert.Len(t, view.Students, 2)
	assert.True(t, view.Students[0].Active)
}

func TestEngagementLoadFallsBackToPlaceholderImage(t *testing.T) {
	withImage := directEngagement(1, "s1", date(2026, 10, 1))
	withImage.StudentImage = strPtr("avatars/s1.png")
	broken := directEngagement(2, "s2", date(2026, 10, 2))
	broken.StudentImage = strPtr("broken/s2.png")
	none := directEngagement(3, "s3", date(2026, 10, 3))
	svc := newEngagementServiceForTest(&engagementSourceStub{direct: []models.DirectEngagementRow{withImage, broken, none}}, &rosterStub{}, nil, nil)

	view, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)
	images := map[string]string{}
	for _, e := range view.Students {
		images[e.Student.ID] = e.Student.ImageURL
	}
	assert.Equal(t, "https://cdn.test/avatars/s1.png", images["s1"])
	assert.Equal(t, placeholderImage, images["s2"])
	assert.Equal(t, placeholderImage, images["s3"])
}

func TestEngagementLoadFailsWhenAnySourceFails(t *testing.T) {
	sources := &engagementSourceStub{
		direct:    []models.DirectEngagementRow{directEngagement(1, "s1", date(2026, 10, 1))},
		linkedErr: errors.New("relation does not exist"),
	}
	svc := newEngagementServiceForTest(sources, &rosterStub{}, nil, nil)

	view, err := svc.Load(context.Background(), teacherT1, "t1")
	assert.Nil(t, view)
	assert.ErrorIs(t, err, appErrors.ErrTransport)
}

func TestEngagementLoadFailsWhenLookupFails(t *testing.T) {
	sources := &engagementSourceStub{linked: []models.ParentChildTeacher{{ID: 1, TeacherID: "t1", ParentID: "p1", ChildID: "c1", DateAdded: date(2026, 10, 1), ExpiryDate: date(2026, 11, 1)}}}
	roster := &rosterStub{userErr: errors.New("timeout")}
	svc := newEngagementServiceForTest(sources, roster, nil, nil)

	_, err := svc.Load(context.Background(), teacherT1, "t1")
	assert.ErrorIs(t, err, appErrors.ErrTransport)
}

func TestEngagementLoadRequiresSelfOrAdmin(t *testing.T) {
	svc := newEngagementServiceForTest(&engagementSourceStub{}, &rosterStub{}, nil, nil)

	_, err := svc.Load(context.Background(), models.Viewer{ID: "t2", Role: models.RoleTeacher}, "t1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	view, err := svc.Load(context.Background(), models.Viewer{ID: "admin", Role: models.RoleAdmin}, "t1")
	require.NoError(t, err)
	assert.NotNil(t, view.Students)
	assert.NotNil(t, view.All)
}

func TestEngagementLoadServesFromCache(t *testing.T) {
	sources := &engagementSourceStub{direct: []models.DirectEngagementRow{directEngagement(1, "s1", date(2026, 10, 1))}}
	repo := &cacheRepoStub{}
	cache := NewCacheService(repo, nil, time.Minute, nil, true)
	svc := newEngagementServiceForTest(sources, &rosterStub{}, nil, cache)

	first, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)
	second, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, sources.directCalls)
	assert.Contains(t, repo.values, engagementCacheKey("t1"))
	require.Len(t, second.Students, 1)
	assert.Equal(t, first.Students[0].Student.ID, second.Students[0].Student.ID)
	assert.True(t, first.Students[0].DateAdded.Equal(second.Students[0].DateAdded))
}

func TestEngagementCachedViewRecomputesActive(t *testing.T) {
	added := date(2026, 9, 15)
	sources := &engagementSourceStub{direct: []models.DirectEngagementRow{directEngagement(1, "s1", added)}}
	cache := NewCacheService(&cacheRepoStub{}, nil, time.Hour, nil, true)
	svc := newEngagementServiceForTest(sources, &rosterStub{}, nil, cache)

	first, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)
	require.True(t, first.Students[0].Active)

	svc.now = func() time.Time { return date(2026, 10, 16) }
	second, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, sources.directCalls)
	assert.False(t, second.Students[0].Active)
	assert.False(t, second.All[0].Active)
}

func TestEngagementLoadManyRowsKeepsQueryCountBounded(t *testing.T) {
	var accepted []models.AcceptedRequestRow
	for i := 0; i < 40; i++ {
		accepted = append(accepted, models.AcceptedRequestRow{
			ID: int64(i + 1), TeacherID: "t1",
			ParentID:  fmt.Sprintf("p%d", i%4),
			ChildID:   fmt.Sprintf("c%d", i%10),
			RequestID: int64Ptr(int64(i%5 + 1)),
			DateAdded: date(2026, 10, 1), ExpiryDate: date(2026, 11, 1),
		})
	}
	roster := &rosterStub{}
	texts := &requestTextStub{texts: map[int64]string{}}
	svc := newEngagementServiceForTest(&engagementSourceStub{accepted: accepted}, roster, texts, nil)

	view, err := svc.Load(context.Background(), teacherT1, "t1")
	require.NoError(t, err)
	assert.Len(t, view.RequestStudents, 40)
	assert.Len(t, roster.userCalls, 1)
	assert.Len(t, roster.childCalls, 1)
	require.Len(t, texts.calls, 1)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, texts.calls[0])
}

func int64Ptr(v int64) *int64 { return &v }
