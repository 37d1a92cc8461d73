package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
)

// stderrTailBytes bounds how much of the command's stderr ends up in errors
const stderrTailBytes = 2048

// Config holds the external mining command
type Config struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

// ExecPipeline mines a repository by running an external command per job
type ExecPipeline struct {
	command string
	args    []string
	logger  *slog.Logger
}

// NewExecPipeline creates a new ExecPipeline
func NewExecPipeline(cfg Config) *ExecPipeline {
	return &ExecPipeline{
		command: cfg.Command,
		args:    cfg.Args,
		logger:  cfg.Logger,
	}
}

// Process runs the command for one job and waits for it. The command is
// killed when ctx is done. Its output is logged line by line as it arrives.
func (p *ExecPipeline) Process(ctx context.Context, job domain.Job, opts domain.Options) error {
	opts.StoragePath = NormalizeStoragePath(opts.StoragePath)

	args := expandArgs(p.args, job, opts)
	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Env = append(os.Environ(), jobEnv(job, opts)...)
	cmd.WaitDelay = 10 * time.Second

	logger := p.logger.With(slog.String("git_url", job.GitURL))
	stderrTail := newTailBuffer(stderrTailBytes)
	stdout := newLineWriter(logger, "stdout", nil)
	stderr := newLineWriter(logger, "stderr", stderrTail)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("Starting pipeline command",
		slog.String("command", p.command),
		slog.Any("args", args),
	)

	start := time.Now()
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("pipeline command interrupted: %w", ctxErr)
		}
		return fmt.Errorf("pipeline command failed: %w: %s", err, stderrTail.String())
	}

	logger.Debug("Pipeline command finished",
		slog.Duration("duration", time.Since(start)),
		slog.Int("output_lines", stdout.lines+stderr.lines),
	)

	return nil
}

// NormalizeStoragePath makes sure the storage path ends with a slash
func NormalizeStoragePath(path string) string {
	if path == "" || strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

func jobEnv(job domain.Job, opts domain.Options) []string {
	return []string{
		"DATASET=" + job.Dataset,
		"GIT_URL=" + job.GitURL,
		"STORAGE_PATH=" + opts.StoragePath,
		"THRESHOLD=" + strconv.Itoa(opts.Threshold),
		"TEST_ONLY=" + strconv.FormatBool(opts.TestFilesOnly),
		"STORE_FILES=" + strconv.FormatBool(opts.StoreFullSourceCode),
		"EXTRA_FIELDS=" + strings.Join(job.Extra, ","),
	}
}

func expandArgs(templates []string, job domain.Job, opts domain.Options) []string {
	replacer := strings.NewReplacer(
		"{dataset}", job.Dataset,
		"{git_url}", job.GitURL,
		"{storage_path}", opts.StoragePath,
		"{threshold}", strconv.Itoa(opts.Threshold),
	)

	args := make([]string, len(templates))
	for i, tmpl := range templates {
		args[i] = replacer.Replace(tmpl)
	}
	return args
}
