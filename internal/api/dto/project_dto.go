package dto

type ListProjectsRequest struct {
	Dataset  string `form:"dataset"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListProjectsResponse struct {
	Projects   []ProjectDTO `json:"projects"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type ProjectDTO struct {
	ID          int64  `json:"id"`
	GitURL      string `json:"git_url"`
	Dataset     string `json:"dataset"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

type LookupProjectRequest struct {
	GitURL string `form:"git_url" binding:"required"`
}

type LookupProjectResponse struct {
	GitURL    string      `json:"git_url"`
	Processed bool        `json:"processed"`
	Project   *ProjectDTO `json:"project,omitempty"`
}
