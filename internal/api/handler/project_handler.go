package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/refminer-intake/internal/api/dto"
	"github.com/cuongbtq/refminer-intake/internal/api/model"
	"github.com/cuongbtq/refminer-intake/internal/api/storage"
	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListProjects handles GET /api/v1/projects
// Lists dedup records newest first, optionally filtered by dataset
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	h.logger.Debug("ListProjects called",
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListProjectsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeProjectCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	projects, err := h.projects.ListProjects(c.Request.Context(), storage.ProjectFilter{
		Dataset:  req.Dataset,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list projects", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list projects",
		})
		return
	}

	hasMore := len(projects) > req.PageSize
	if hasMore {
		projects = projects[:req.PageSize]
	}

	resp := dto.ListProjectsResponse{
		Projects: make([]dto.ProjectDTO, len(projects)),
	}
	for i := range projects {
		resp.Projects[i] = toProjectDTO(&projects[i])
	}

	if hasMore {
		last := projects[len(projects)-1]
		resp.NextCursor = EncodeProjectCursor(&storage.ProjectCursor{ID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

// LookupProject handles GET /api/v1/projects/lookup?git_url=
// Answers the same question the intake loop asks before mining a repository
func (h *ProjectHandler) LookupProject(c *gin.Context) {
	var req dto.LookupProjectRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "git_url is required",
		})
		return
	}

	project, err := h.projects.GetProjectByGitURL(c.Request.Context(), req.GitURL)
	if errors.Is(err, domain.ErrProjectNotFound) {
		c.JSON(http.StatusOK, dto.LookupProjectResponse{
			GitURL:    req.GitURL,
			Processed: false,
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to look up project",
			slog.String("git_url", req.GitURL),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up project",
		})
		return
	}

	projectDTO := toProjectDTO(project)
	c.JSON(http.StatusOK, dto.LookupProjectResponse{
		GitURL:    req.GitURL,
		Processed: true,
		Project:   &projectDTO,
	})
}

func toProjectDTO(p *model.Project) dto.ProjectDTO {
	projectDTO := dto.ProjectDTO{
		ID:      p.ID,
		GitURL:  p.GitURL,
		Dataset: p.DatasetName,
	}
	if p.ProcessedAt.Valid {
		projectDTO.ProcessedAt = p.ProcessedAt.Time.UTC().Format(time.RFC3339)
	}
	return projectDTO
}
