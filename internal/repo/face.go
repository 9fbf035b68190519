package repo

import (
	"context"

	"github.com/facegate/attendance/internal/models"
)

func (r *GormRepo) CreateFaceProfile(ctx context.Context, p *models.FaceProfile) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

func (r *GormRepo) ListFaceProfiles(ctx context.Context) ([]models.FaceProfile, error) {
	var profiles []models.FaceProfile
	if err := r.DB.WithContext(ctx).Preload("User").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}
