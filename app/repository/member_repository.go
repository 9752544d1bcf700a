package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/inkpress/inkpress/app/models"
)

// memberRepository implements the MemberRepository interface
type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new member repository instance
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

// Create creates a new member in the database
func (r *memberRepository) Create(member *models.Member) error {
	return r.db.Create(member).Error
}

// GetByID retrieves a member by their ID
func (r *memberRepository) GetByID(id uint) (*models.Member, error) {
	var member models.Member
	err := r.db.First(&member, id).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// GetByEmail retrieves a member by their email address
func (r *memberRepository) GetByEmail(email string) (*models.Member, error) {
	var member models.Member
	err := r.db.Where("email = ?", email).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// UpdateLastLogin stamps the member's last login time
func (r *memberRepository) UpdateLastLogin(id uint) error {
	now := time.Now()
	return r.db.Model(&models.Member{}).Where("id = ?", id).
		Update("last_login_at", &now).Error
}

// List retrieves members with pagination
func (r *memberRepository) List(offset, limit int) ([]models.Member, error) {
	var members []models.Member
	err := r.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&members).Error
	return members, err
}

// Count returns the total number of members
func (r *memberRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Member{}).Count(&count).Error
	return count, err
}
