package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/repository"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

// memoryDB backs the fake stores used across service tests. It mirrors the repository
// contracts: optimistic versions, unique (student, course) keys and append-only logs.
type memoryDB struct {
	mu sync.Mutex

	progress     map[string]*models.StudentProgress
	logs         []models.TrackingLog
	students     map[string]*models.Student
	access       map[string]map[string]time.Time
	semesters    []models.Semester
	courses      []models.Course
	majors       map[string]*models.Major
	majorCourses map[string][]models.MajorCourse
	requirements map[string]*models.LabRequirement
	labs         map[string]*models.StudentLabProgress

	// conflicts makes the next N saves fail with a version conflict.
	conflicts int
	saves     int
	seq       int
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		progress:     map[string]*models.StudentProgress{},
		students:     map[string]*models.Student{},
		access:       map[string]map[string]time.Time{},
		majors:       map[string]*models.Major{},
		majorCourses: map[string][]models.MajorCourse{},
		requirements: map[string]*models.LabRequirement{},
		labs:         map[string]*models.StudentLabProgress{},
	}
}

func progressKey(studentID, courseID string) string {
	return studentID + "|" + courseID
}

func (db *memoryDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func (db *memoryDB) appendLogs(logs []models.TrackingLog) {
	for _, entry := range logs {
		entry.ID = db.nextID("log")
		db.logs = append(db.logs, entry)
	}
}

// seed stores a record directly, bypassing the ledger.
func (db *memoryDB) seed(record models.StudentProgress) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if record.Version == 0 {
		record.Version = 1
	}
	if record.ID == "" {
		record.ID = db.nextID("progress")
	}
	db.progress[progressKey(record.StudentID, record.CourseID)] = record.Clone()
}

func (db *memoryDB) record(studentID, courseID string) *models.StudentProgress {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.progress[progressKey(studentID, courseID)].Clone()
}

func (db *memoryDB) logsFor(studentID, courseID string) []models.TrackingLog {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.TrackingLog
	for _, entry := range db.logs {
		if entry.StudentID == studentID && (courseID == "" || entry.CourseID == courseID) {
			out = append(out, entry)
		}
	}
	return out
}

func (db *memoryDB) actions(studentID, courseID string) []models.TrackingAction {
	var out []models.TrackingAction
	for _, entry := range db.logsFor(studentID, courseID) {
		out = append(out, entry.Action)
	}
	return out
}

func (db *memoryDB) hasAccess(studentID, semesterID string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.access[studentID][semesterID]
	return ok
}

type memoryProgressStore struct{ db *memoryDB }

func (s memoryProgressStore) Get(ctx context.Context, studentID, courseID string) (*models.StudentProgress, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	record, ok := s.db.progress[progressKey(studentID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return record.Clone(), nil
}

func (s memoryProgressStore) List(ctx context.Context, filter models.ProgressFilter) ([]models.StudentProgress, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	semesterOf := map[string]string{}
	for _, c := range s.db.courses {
		semesterOf[c.ID] = c.SemesterID
	}
	var out []models.StudentProgress
	for _, record := range s.db.progress {
		if filter.StudentID != "" && record.StudentID != filter.StudentID {
			continue
		}
		if filter.SemesterID != "" && semesterOf[record.CourseID] != filter.SemesterID {
			continue
		}
		if len(filter.Status) > 0 {
			match := false
			for _, status := range filter.Status {
				match = match || status == record.Status
			}
			if !match {
				continue
			}
		}
		out = append(out, *record.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

func (s memoryProgressStore) ListForCourses(ctx context.Context, studentID string, courseIDs []string) ([]models.StudentProgress, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.StudentProgress
	for _, id := range courseIDs {
		if record, ok := s.db.progress[progressKey(studentID, id)]; ok {
			out = append(out, *record.Clone())
		}
	}
	return out, nil
}

func (s memoryProgressStore) Create(ctx context.Context, progress *models.StudentProgress, logs []models.TrackingLog) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := progressKey(progress.StudentID, progress.CourseID)
	if _, ok := s.db.progress[key]; ok {
		return repository.ErrAlreadyExists
	}
	progress.ID = s.db.nextID("progress")
	progress.Version = 1
	s.db.progress[key] = progress.Clone()
	s.db.appendLogs(logs)
	return nil
}

func (s memoryProgressStore) Save(ctx context.Context, progress *models.StudentProgress, expectedVersion int, logs []models.TrackingLog) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.saves++
	if s.db.conflicts > 0 {
		s.db.conflicts--
		return repository.ErrVersionConflict
	}
	key := progressKey(progress.StudentID, progress.CourseID)
	current, ok := s.db.progress[key]
	if !ok || current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	progress.Version = expectedVersion + 1
	s.db.progress[key] = progress.Clone()
	s.db.appendLogs(logs)
	return nil
}

type memoryTrackingStore struct{ db *memoryDB }

func (s memoryTrackingStore) Append(ctx context.Context, logs ...models.TrackingLog) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.appendLogs(logs)
	return nil
}

func (s memoryTrackingStore) List(ctx context.Context, filter models.TrackingLogFilter) ([]models.TrackingLog, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	matched := s.match(filter)
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s memoryTrackingStore) Count(ctx context.Context, filter models.TrackingLogFilter) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.match(filter)), nil
}

func (s memoryTrackingStore) match(filter models.TrackingLogFilter) []models.TrackingLog {
	var matched []models.TrackingLog
	for _, entry := range s.db.logs {
		if filter.StudentID != "" && entry.StudentID != filter.StudentID {
			continue
		}
		if filter.CourseID != "" && entry.CourseID != filter.CourseID {
			continue
		}
		if filter.PerformedBy != "" && entry.PerformedBy != filter.PerformedBy {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		matched = append(matched, entry)
	}
	return matched
}

type memoryCatalogStore struct {
	db    *memoryDB
	calls map[string]int
}

func (s *memoryCatalogStore) count(name string) {
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[name]++
}

func (s *memoryCatalogStore) ListSemesters(ctx context.Context) ([]models.Semester, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.count("ListSemesters")
	out := append([]models.Semester(nil), s.db.semesters...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *memoryCatalogStore) GetSemester(ctx context.Context, id string) (*models.Semester, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, semester := range s.db.semesters {
		if semester.ID == id {
			cp := semester
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memoryCatalogStore) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, course := range s.db.courses {
		if course.ID == id {
			cp := course
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memoryCatalogStore) ListCoursesBySemester(ctx context.Context, semesterID string) ([]models.Course, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.count("ListCoursesBySemester")
	var out []models.Course
	for _, course := range s.db.courses {
		if course.SemesterID == semesterID {
			out = append(out, course)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *memoryCatalogStore) GetMajor(ctx context.Context, id string) (*models.Major, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	major, ok := s.db.majors[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *major
	return &cp, nil
}

func (s *memoryCatalogStore) ListMajorCourses(ctx context.Context, majorID string) ([]models.MajorCourse, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.count("ListMajorCourses")
	return append([]models.MajorCourse(nil), s.db.majorCourses[majorID]...), nil
}

func (s *memoryCatalogStore) GetLabRequirement(ctx context.Context, id string) (*models.LabRequirement, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	requirement, ok := s.db.requirements[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *requirement
	return &cp, nil
}

type memoryStudentStore struct{ db *memoryDB }

func (s memoryStudentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	student, ok := s.db.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *student
	return &cp, nil
}

func (s memoryStudentStore) SetSelectedMajor(ctx context.Context, studentID, majorID string, selectedAt time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	student, ok := s.db.students[studentID]
	if !ok || student.HasSelectedMajor() {
		return repository.ErrMajorAlreadySet
	}
	student.SelectedMajorID = &majorID
	student.MajorSelectedAt = &selectedAt
	return nil
}

func (s memoryStudentStore) ListSemesterAccess(ctx context.Context, studentID string) ([]models.SemesterAccess, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.SemesterAccess
	for semesterID, at := range s.db.access[studentID] {
		out = append(out, models.SemesterAccess{StudentID: studentID, SemesterID: semesterID, UnlockedAt: at})
	}
	return out, nil
}

func (s memoryStudentStore) HasSemesterAccess(ctx context.Context, studentID, semesterID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	_, ok := s.db.access[studentID][semesterID]
	return ok, nil
}

func (s memoryStudentStore) GrantSemesterAccess(ctx context.Context, studentID, semesterID string, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.access[studentID] == nil {
		s.db.access[studentID] = map[string]time.Time{}
	}
	if _, ok := s.db.access[studentID][semesterID]; ok {
		return false, nil
	}
	s.db.access[studentID][semesterID] = at
	return true, nil
}

type memoryLabStore struct{ db *memoryDB }

func (s memoryLabStore) ListForStudent(ctx context.Context, studentID string) ([]models.StudentLabProgress, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.StudentLabProgress
	for _, row := range s.db.labs {
		if row.StudentID == studentID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s memoryLabStore) Complete(ctx context.Context, studentID, requirementID string, completedAt time.Time, logs []models.TrackingLog) (*models.StudentLabProgress, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := progressKey(studentID, requirementID)
	if row, ok := s.db.labs[key]; ok && row.Status == models.LabProgressCompleted {
		return nil, repository.ErrLabAlreadyCompleted
	}
	row := &models.StudentLabProgress{
		ID:            s.db.nextID("lab"),
		StudentID:     studentID,
		RequirementID: requirementID,
		Status:        models.LabProgressCompleted,
		CompletedAt:   &completedAt,
		CreatedAt:     completedAt,
		UpdatedAt:     completedAt,
	}
	s.db.labs[key] = row
	s.db.appendLogs(logs)
	cp := *row
	return &cp, nil
}

func (s memoryLabStore) DeleteRequirement(ctx context.Context, requirementID string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.requirements[requirementID]; !ok {
		return 0, repository.ErrNotFound
	}
	var removed int64
	for key, row := range s.db.labs {
		if row.RequirementID == requirementID {
			delete(s.db.labs, key)
			removed++
		}
	}
	delete(s.db.requirements, requirementID)
	return removed, nil
}

// memoryCache is a JSON round-tripping CacheRepository.
type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items[key] = raw
	return nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, event models.ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []models.ProgressEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.ProgressEventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}
