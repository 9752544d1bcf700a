package repository

import (
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/app/models"
)

// MemberRepository defines the interface for member-related database operations
type MemberRepository interface {
	Create(member *models.Member) error
	GetByID(id uint) (*models.Member, error)
	GetByEmail(email string) (*models.Member, error)
	UpdateLastLogin(id uint) error
	List(offset, limit int) ([]models.Member, error)
	Count() (int64, error)
}

// ArticleRepository defines the interface for article-related database operations
type ArticleRepository interface {
	Create(article *models.Article) error
	GetByID(id uint) (*models.Article, error)
	GetBySlug(slug string) (*models.Article, error)
	Update(article *models.Article) error
	Delete(id uint) error
	ListPublished(offset, limit int) ([]models.Article, error)
	CountPublished() (int64, error)
}

// Repositories bundles all repository instances
type Repositories struct {
	Member  MemberRepository
	Article ArticleRepository
}

// NewRepositories creates all repository instances with the given database connection
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Member:  NewMemberRepository(db),
		Article: NewArticleRepository(db),
	}
}
