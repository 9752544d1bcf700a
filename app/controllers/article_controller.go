package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/app/models"
	"github.com/inkpress/inkpress/app/repository"
	"github.com/inkpress/inkpress/internal/pkg/database"
	"github.com/inkpress/inkpress/internal/pkg/entitlements"
	"github.com/inkpress/inkpress/internal/pkg/metrics/counter"
	"github.com/inkpress/inkpress/internal/pkg/usercontext"
)

const articlePageSize = 20

// HandleListArticles lists published articles. Bodies are never included
// in the listing; gating happens on the detail view.
func HandleListArticles(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}

	repo := repository.GetGlobalFactory(database.GetDB()).GetArticleRepository()
	articles, err := repo.ListPublished((page-1)*articlePageSize, articlePageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	total, err := repo.CountPublished()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	items := make([]fiber.Map, 0, len(articles))
	for _, a := range articles {
		items = append(items, fiber.Map{
			"title":      a.Title,
			"slug":       a.Slug,
			"excerpt":    a.Excerpt,
			"access":     a.Access,
			"created_at": a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	return c.JSON(fiber.Map{
		"articles": items,
		"page":     page,
		"total":    total,
	})
}

// HandleGetArticle returns one article. Paid articles come back with the
// excerpt only unless the member's tier and billing status entitle them to
// the full body.
func HandleGetArticle(c *fiber.Ctx) error {
	slug := c.Params("slug")

	repo := repository.GetGlobalFactory(database.GetDB()).GetArticleRepository()
	article, err := repo.GetBySlug(slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	if !article.Published && !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}

	if err := counter.AddArticleView(article.ID); err != nil {
		log.Warnf("[Articles] Failed to count view for %s: %v", article.Slug, err)
	}

	memberCtx := usercontext.GetMemberContext(c)
	full := entitlements.CanReadArticle(memberCtx.Tier, memberCtx.Status, article.Access)

	resp := fiber.Map{
		"title":      article.Title,
		"slug":       article.Slug,
		"excerpt":    article.Excerpt,
		"access":     article.Access,
		"full":       full,
		"created_at": article.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if full {
		resp["body"] = article.Body
	}
	return c.JSON(resp)
}

// HandleCreateArticle lets an admin publish a new article.
func HandleCreateArticle(c *fiber.Ctx) error {
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}

	var article models.Article
	if err := c.BodyParser(&article); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if article.Title == "" || article.Slug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": "Title and slug are required"})
	}
	switch article.Access {
	case models.ArticleAccessPublic, models.ArticleAccessPremium, models.ArticleAccessVIP:
	case "":
		article.Access = models.ArticleAccessPublic
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": "Unknown access level"})
	}

	repo := repository.GetGlobalFactory(database.GetDB()).GetArticleRepository()
	if err := repo.Create(&article); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": article.ID, "slug": article.Slug})
}
