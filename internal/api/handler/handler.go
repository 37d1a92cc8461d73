package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/refminer-intake/internal/api/model"
	"github.com/cuongbtq/refminer-intake/internal/api/storage"
	"github.com/cuongbtq/refminer-intake/internal/worker"
)

// ProjectStore reads dedup records
type ProjectStore interface {
	GetProjectByGitURL(ctx context.Context, gitURL string) (*model.Project, error)
	ListProjects(ctx context.Context, filter storage.ProjectFilter) ([]model.Project, error)
}

// DatabaseChecker is satisfied by *postgresql.Client
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// QueueChecker is satisfied by *rabbitmq.Client
type QueueChecker interface {
	IsConnected() bool
}

// WorkerStatus is satisfied by *worker.Worker
type WorkerStatus interface {
	ID() string
	Stats() worker.Stats
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Service  string
	Projects ProjectStore
	Database DatabaseChecker
	Queue    QueueChecker
	Worker   WorkerStatus
}

// ProjectHandler handles dedup record lookups
type ProjectHandler struct {
	logger   *slog.Logger
	projects ProjectStore
}

// NewProjectHandler creates a new ProjectHandler instance
func NewProjectHandler(deps *Dependencies) *ProjectHandler {
	return &ProjectHandler{
		logger:   deps.Logger,
		projects: deps.Projects,
	}
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	logger   *slog.Logger
	service  string
	database DatabaseChecker
	queue    QueueChecker
	worker   WorkerStatus
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:   deps.Logger,
		service:  deps.Service,
		database: deps.Database,
		queue:    deps.Queue,
		worker:   deps.Worker,
	}
}
