package repository

import (
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/app/models"
)

// articleRepository implements the ArticleRepository interface
type articleRepository struct {
	db *gorm.DB
}

// NewArticleRepository creates a new article repository instance
func NewArticleRepository(db *gorm.DB) ArticleRepository {
	return &articleRepository{db: db}
}

// Create creates a new article in the database
func (r *articleRepository) Create(article *models.Article) error {
	return r.db.Create(article).Error
}

// GetByID retrieves an article by its ID
func (r *articleRepository) GetByID(id uint) (*models.Article, error) {
	var article models.Article
	err := r.db.First(&article, id).Error
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// GetBySlug retrieves an article by its slug
func (r *articleRepository) GetBySlug(slug string) (*models.Article, error) {
	var article models.Article
	err := r.db.Where("slug = ?", slug).First(&article).Error
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// Update persists changes to an article
func (r *articleRepository) Update(article *models.Article) error {
	return r.db.Save(article).Error
}

// Delete removes an article
func (r *articleRepository) Delete(id uint) error {
	return r.db.Delete(&models.Article{}, id).Error
}

// ListPublished retrieves published articles with pagination, newest first
func (r *articleRepository) ListPublished(offset, limit int) ([]models.Article, error) {
	var articles []models.Article
	err := r.db.Where("published = ?", true).
		Offset(offset).Limit(limit).
		Order("created_at DESC").
		Find(&articles).Error
	return articles, err
}

// CountPublished returns the number of published articles
func (r *articleRepository) CountPublished() (int64, error) {
	var count int64
	err := r.db.Model(&models.Article{}).Where("published = ?", true).Count(&count).Error
	return count, err
}
