package packages

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"learnhub/internal/apperr"
	"learnhub/pkg/models"
)

// Taxonomy lists every subject area and tag, for upload forms picking ids.
func (r *Repo) Taxonomy(ctx context.Context) ([]models.SubjectArea, []models.Tag, error) {
	areas := make([]models.SubjectArea, 0)
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, slug FROM subject_areas ORDER BY name`)
	if err != nil {
		return nil, nil, fmt.Errorf("subject areas query: %w", err)
	}
	for rows.Next() {
		var a models.SubjectArea
		if err := rows.Scan(&a.ID, &a.Name, &a.Slug); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("subject areas scan: %w", err)
		}
		areas = append(areas, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows err: %w", err)
	}

	tags := make([]models.Tag, 0)
	rows, err = r.DB.QueryContext(ctx, `SELECT id, name, slug FROM tags ORDER BY name`)
	if err != nil {
		return nil, nil, fmt.Errorf("tags query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug); err != nil {
			return nil, nil, fmt.Errorf("tags scan: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows err: %w", err)
	}
	return areas, tags, nil
}

// RegisterTaxonomyRoutes mounts the read-only taxonomy listing.
func (h *Handler) RegisterTaxonomyRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.taxonomy) // GET /taxonomy
}

func (h *Handler) taxonomy(c *gin.Context) {
	areas, tags, err := h.Service.Ledger.Taxonomy(c.Request.Context())
	if err != nil {
		apperr.Respond(c, apperr.New(apperr.Internal, "list taxonomy", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_areas": areas, "tags": tags})
}
