package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/facegate/attendance/internal/logging"
	"github.com/facegate/attendance/internal/models"
	"github.com/facegate/attendance/internal/mykafka"
	"github.com/facegate/attendance/internal/repo"
	"github.com/facegate/attendance/internal/service/search"
)

const StatusPresent = "present"

// timeFormat matches the human-readable stamp shown to the kiosk client.
const timeFormat = "Mon, Jan 2, 2006, 3:04:05 PM"

type AttendanceService struct {
	Repo     *repo.GormRepo
	Producer *mykafka.Producer
	ES       *elasticsearch.Client

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

type MarkResult struct {
	AlreadyMarked     bool
	Record            *models.AttendanceRecord
	FormattedDateTime string
}

// MarkAttendance records the user as present at most once per local calendar
// day. Two concurrent calls for the same user serialize on a per-user mutex
// held only across the check-and-create, so exactly one record wins; the
// loser observes it and reports AlreadyMarked.
func (s *AttendanceService) MarkAttendance(ctx context.Context, userID uint) (*MarkResult, error) {
	l := logging.FromContext(ctx).With("svc", "attendance.mark", "user_id", userID)

	user, err := s.Repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("mark_failed", "reason", "user_not_found")
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	result, err := func() (*MarkResult, error) {
		lock := s.userLock(userID)
		lock.Lock()
		defer lock.Unlock()

		existing, err := s.Repo.FindAttendanceInWindow(ctx, userID, dayStart, dayEnd)
		if err == nil {
			return &MarkResult{
				AlreadyMarked:     true,
				Record:            existing,
				FormattedDateTime: now.Format(timeFormat),
			}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}

		rec := models.AttendanceRecord{
			UserID: userID,
			Date:   now,
			Status: StatusPresent,
		}
		if err := s.Repo.CreateAttendance(ctx, &rec); err != nil {
			return nil, err
		}
		return &MarkResult{
			AlreadyMarked:     false,
			Record:            &rec,
			FormattedDateTime: now.Format(timeFormat),
		}, nil
	}()
	if err != nil {
		l.Error("mark_failed", "reason", "db_error", "error", err)
		return nil, err
	}

	if result.AlreadyMarked {
		l.Info("mark_noop", "record_id", result.Record.ID)
		return result, nil
	}

	s.emit(ctx, user, result.Record, dayStart)
	l.Info("mark_success", "record_id", result.Record.ID)
	return result, nil
}

func (s *AttendanceService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AttendanceService) userLock(userID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[uint]*sync.Mutex)
	}
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// emit pushes the fresh marking to Kafka and Elasticsearch. Both are best
// effort and run after the per-user lock is released.
func (s *AttendanceService) emit(ctx context.Context, user *models.User, rec *models.AttendanceRecord, dayStart time.Time) {
	l := logging.FromContext(ctx)

	if s.Producer != nil {
		event := map[string]interface{}{
			"type":      "attendance_marked",
			"user_id":   user.ID,
			"record_id": rec.ID,
			"status":    rec.Status,
			"date":      rec.Date,
		}
		if err := s.Producer.PublishEvent(ctx, mykafka.TopicAttendanceEvents, fmt.Sprint(user.ID), event); err != nil {
			l.Error("kafka_publish_failed", "topic", mykafka.TopicAttendanceEvents, "error", err)
		}
	}

	if s.ES != nil {
		doc := search.Doc{
			RecordID:  rec.ID,
			UserID:    user.ID,
			UserName:  user.Name,
			UserEmail: user.Email,
			Status:    rec.Status,
			Date:      rec.Date,
			Day:       dayStart.Format("2006-01-02"),
		}
		if err := search.IndexAttendance(ctx, s.ES, doc); err != nil {
			l.Error("es_index_failed", "error", err)
		}
	}
}
