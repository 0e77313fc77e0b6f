package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

type engagementSourceRepository interface {
	ListDirectByTeacher(ctx context.Context, teacherID string) ([]models.DirectEngagementRow, error)
	ListParentLinksByTeacher(ctx context.Context, teacherID string) ([]models.ParentChildTeacher, error)
	ListAcceptedRequestsByTeacher(ctx context.Context, teacherID string) ([]models.AcceptedRequestRow, error)
}

type rosterLookup interface {
	FindUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
	FindChildrenByIDs(ctx context.Context, ids []string) (map[string]models.Child, error)
}

type requestTextLookup interface {
	FindTextsByIDs(ctx context.Context, ids []int64) (map[int64]string, error)
}

type imageResolver interface {
	ResolveImageURL(ref string) (string, error)
}

type viewCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

func engagementCacheKey(teacherID string) string {
	return "engagements:" + teacherID
}

// EngagementService merges direct, parent-linked and accepted-request engagements into one view per teacher.
// Each Load issues at most three source queries and three batched lookups, whatever the row count.
type EngagementService struct {
	sources     engagementSourceRepository
	roster      rosterLookup
	requests    requestTextLookup
	images      imageResolver
	placeholder string
	cache       viewCache
	cacheTTL    time.Duration
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// EngagementServiceConfig carries the optional collaborators of the aggregator.
type EngagementServiceConfig struct {
	Images         imageResolver
	PlaceholderURL string
	Cache          viewCache
	CacheTTL       time.Duration
	Metrics        *MetricsService
	Logger         *zap.Logger
}

// NewEngagementService builds the aggregator.
func NewEngagementService(sources engagementSourceRepository, roster rosterLookup, requests requestTextLookup, cfg EngagementServiceConfig) *EngagementService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &EngagementService{
		sources:     sources,
		roster:      roster,
		requests:    requests,
		images:      cfg.Images,
		placeholder: cfg.PlaceholderURL,
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// Load returns the aggregated view for teacherID. Any failed fetch fails the whole load.
func (s *EngagementService) Load(ctx context.Context, viewer models.Viewer, teacherID string) (*models.EngagementView, error) {
	if teacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher id is required")
	}
	if viewer.ID != teacherID && !viewer.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "engagements belong to another teacher")
	}

	key := engagementCacheKey(teacherID)
	if s.cache != nil {
		var cached models.EngagementView
		if s.cache.Get(ctx, key, &cached) {
			refreshActive(&cached, DateOf(s.now()))
			return &cached, nil
		}
	}

	rows, err := s.fetchSources(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	idx, err := s.resolve(ctx, rows)
	if err != nil {
		return nil, err
	}

	view := s.assemble(teacherID, rows.all(), idx)
	if s.cache != nil {
		s.cache.Set(ctx, key, view, s.cacheTTL)
	}
	return view, nil
}

type sourceRows struct {
	direct   []models.DirectEngagementRow
	linked   []models.ParentChildTeacher
	accepted []models.AcceptedRequestRow
}

// all wraps every row in its source variant, direct first.
func (r sourceRows) all() []engagementRow {
	out := make([]engagementRow, 0, len(r.direct)+len(r.linked)+len(r.accepted))
	for _, row := range r.direct {
		out = append(out, directRow{row})
	}
	for _, row := range r.linked {
		out = append(out, parentLinkedRow{row})
	}
	for _, row := range r.accepted {
		out = append(out, acceptedRequestRow{row})
	}
	return out
}

func (s *EngagementService) fetchSources(ctx context.Context, teacherID string) (sourceRows, error) {
	var rows sourceRows
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		direct, err := s.sources.ListDirectByTeacher(gctx, teacherID)
		s.metrics.ObserveDBQuery("engagements_direct", time.Since(start))
		rows.direct = direct
		return err
	})
	g.Go(func() error {
		start := time.Now()
		linked, err := s.sources.ListParentLinksByTeacher(gctx, teacherID)
		s.metrics.ObserveDBQuery("engagements_parent_linked", time.Since(start))
		rows.linked = linked
		return err
	})
	g.Go(func() error {
		start := time.Now()
		accepted, err := s.sources.ListAcceptedRequestsByTeacher(gctx, teacherID)
		s.metrics.ObserveDBQuery("engagements_accepted_request", time.Since(start))
		rows.accepted = accepted
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("engagement source fetch failed", zap.String("teacher_id", teacherID), zap.Error(err))
		return sourceRows{}, appErrors.Transport(err, "failed to load engagements")
	}
	return rows, nil
}

// rosterIndex holds the batched lookups shared by the normalizers.
type rosterIndex struct {
	users    map[string]models.User
	children map[string]models.Child
	texts    map[int64]string
}

func (s *EngagementService) resolve(ctx context.Context, rows sourceRows) (*rosterIndex, error) {
	parents := newIDSet()
	children := newIDSet()
	requestIDs := map[int64]struct{}{}
	for _, row := range rows.linked {
		parents.add(row.ParentID)
		children.add(row.ChildID)
	}
	for _, row := range rows.accepted {
		parents.add(row.ParentID)
		children.add(row.ChildID)
		if row.RequestID != nil {
			requestIDs[*row.RequestID] = struct{}{}
		}
	}

	idx := &rosterIndex{
		users:    map[string]models.User{},
		children: map[string]models.Child{},
		texts:    map[int64]string{},
	}
	g, gctx := errgroup.WithContext(ctx)
	if ids := parents.sorted(); len(ids) > 0 {
		g.Go(func() error {
			users, err := s.roster.FindUsersByIDs(gctx, ids)
			idx.users = users
			return err
		})
	}
	if ids := children.sorted(); len(ids) > 0 {
		g.Go(func() error {
			found, err := s.roster.FindChildrenByIDs(gctx, ids)
			idx.children = found
			return err
		})
	}
	if len(requestIDs) > 0 {
		ids := make([]int64, 0, len(requestIDs))
		for id := range requestIDs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		g.Go(func() error {
			texts, err := s.requests.FindTextsByIDs(gctx, ids)
			idx.texts = texts
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, appErrors.Transport(err, "failed to resolve engagement identities")
	}
	return idx, nil
}

// refreshActive recomputes expiry state for a view that may have been cached on an earlier day.
func refreshActive(view *models.EngagementView, today time.Time) {
	for _, list := range [][]models.Engagement{view.All, view.Students, view.RequestStudents} {
		for i := range list {
			list[i].Active = IsActive(list[i].ExpiryDate, today)
		}
	}
}

func (s *EngagementService) assemble(teacherID string, rows []engagementRow, idx *rosterIndex) *models.EngagementView {
	today := DateOf(s.now())
	all := make([]models.Engagement, 0, len(rows))
	for _, row := range rows {
		e := row.normalize(idx, s.profile)
		e.Active = IsActive(e.ExpiryDate, today)
		all = append(all, e)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].DateAdded.After(all[j].DateAdded)
	})

	view := &models.EngagementView{
		TeacherID:       teacherID,
		Students:        []models.Engagement{},
		Parents:         []models.ParentContact{},
		RequestStudents: []models.Engagement{},
		All:             all,
	}
	seenStudents := map[string]struct{}{}
	parentPos := map[string]int{}
	seenChild := map[string]struct{}{}
	for _, e := range all {
		if e.Level == models.RequestLevel {
			view.RequestStudents = append(view.RequestStudents, e)
		} else if _, dup := seenStudents[e.Student.ID]; !dup {
			seenStudents[e.Student.ID] = struct{}{}
			view.Students = append(view.Students, e)
		}

		if e.Parent == nil {
			continue
		}
		pos, ok := parentPos[e.Parent.ID]
		if !ok {
			pos = len(view.Parents)
			parentPos[e.Parent.ID] = pos
			view.Parents = append(view.Parents, models.ParentContact{Parent: *e.Parent, Children: []models.Profile{}})
		}
		childKey := e.Parent.ID + "/" + e.Student.ID
		if _, dup := seenChild[childKey]; !dup {
			seenChild[childKey] = struct{}{}
			view.Parents[pos].Children = append(view.Parents[pos].Children, e.Student)
		}
	}
	return view
}

// profile builds a display profile, resolving the image reference or falling back to the placeholder.
func (s *EngagementService) profile(id string, name, email, phone, imageRef *string) models.Profile {
	return models.Profile{
		ID:       id,
		FullName: deref(name),
		Email:    deref(email),
		Phone:    deref(phone),
		ImageURL: s.imageURL(imageRef),
	}
}

func (s *EngagementService) imageURL(ref *string) string {
	if ref == nil || *ref == "" || s.images == nil {
		return s.placeholder
	}
	url, err := s.images.ResolveImageURL(*ref)
	if err != nil || url == "" {
		s.logger.Debug("image reference unresolved", zap.String("ref", *ref), zap.Error(err))
		return s.placeholder
	}
	return url
}

type profileFunc func(id string, name, email, phone, imageRef *string) models.Profile

// engagementRow is one source row; each variant knows how to project itself.
type engagementRow interface {
	normalize(idx *rosterIndex, profile profileFunc) models.Engagement
}

type directRow struct{ models.DirectEngagementRow }

func (r directRow) normalize(_ *rosterIndex, profile profileFunc) models.Engagement {
	return models.Engagement{
		Source:     models.SourceDirect,
		ID:         r.ID,
		Subject:    r.Subject,
		Level:      r.Level,
		Student:    profile(r.StudentID, r.StudentName, r.StudentEmail, r.StudentPhone, r.StudentImage),
		DateAdded:  r.DateAdded,
		ExpiryDate: r.ExpiryDate,
	}
}

type parentLinkedRow struct{ models.ParentChildTeacher }

func (r parentLinkedRow) normalize(idx *rosterIndex, profile profileFunc) models.Engagement {
	return models.Engagement{
		Source:     models.SourceParentLinked,
		ID:         r.ID,
		Student:    childProfile(idx, r.ChildID, profile),
		Parent:     parentProfile(idx, r.ParentID, profile),
		DateAdded:  r.DateAdded,
		ExpiryDate: r.ExpiryDate,
	}
}

type acceptedRequestRow struct{ models.AcceptedRequestRow }

func (r acceptedRequestRow) normalize(idx *rosterIndex, profile profileFunc) models.Engagement {
	subject := ""
	if r.RequestID != nil {
		subject = idx.texts[*r.RequestID]
	}
	return models.Engagement{
		Source:     models.SourceAcceptedRequest,
		ID:         r.ID,
		Subject:    subject,
		Level:      models.RequestLevel,
		Student:    childProfile(idx, r.ChildID, profile),
		Parent:     parentProfile(idx, r.ParentID, profile),
		DateAdded:  r.DateAdded,
		ExpiryDate: r.ExpiryDate,
	}
}

func childProfile(idx *rosterIndex, id string, profile profileFunc) models.Profile {
	child, ok := idx.children[id]
	if !ok {
		return profile(id, nil, nil, nil, nil)
	}
	return profile(child.ID, &child.FullName, child.Email, child.Phone, child.ImageRef)
}

func parentProfile(idx *rosterIndex, id string, profile profileFunc) *models.Profile {
	user, ok := idx.users[id]
	var p models.Profile
	if !ok {
		p = profile(id, nil, nil, nil, nil)
	} else {
		p = profile(user.ID, &user.FullName, user.Email, user.Phone, user.ImageRef)
	}
	return &p
}

type idSet map[string]struct{}

func newIDSet() idSet { return idSet{} }

func (s idSet) add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
