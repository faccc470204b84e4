package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// CountActiveInterpreters returns how many active members of companyID hold
// an interpreter role.
func CountActiveInterpreters(ctx context.Context, db *gorm.DB, companyID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CompanyMember{}).
		Where("company_id = ? AND status = ? AND role IN ?", companyID, domain.MemberActive, domain.InterpreterRoles).
		Count(&n).Error
	return n, err
}

// GetClient fetches a client by ID.
func GetClient(ctx context.Context, db *gorm.DB, id string) (*domain.Client, error) {
	var c domain.Client
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
