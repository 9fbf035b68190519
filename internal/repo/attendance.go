package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/facegate/attendance/internal/models"
)

// FindAttendanceInWindow returns the record for the user whose date falls in
// [start, end), or ErrNotFound.
func (r *GormRepo) FindAttendanceInWindow(ctx context.Context, userID uint, start, end time.Time) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND date >= ? AND date < ?", userID, start, end).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *GormRepo) CreateAttendance(ctx context.Context, rec *models.AttendanceRecord) error {
	return r.DB.WithContext(ctx).Create(rec).Error
}

func (r *GormRepo) ListAttendanceForUser(ctx context.Context, userID uint) ([]models.AttendanceRecord, error) {
	var recs []models.AttendanceRecord
	if err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
