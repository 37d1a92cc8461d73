package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
)

const contentType = "text/plain"

type publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

type summary struct {
	Published int
	Invalid   int
}

// enqueue publishes every valid job line read from r. Blank lines and lines
// starting with '#' are ignored, invalid lines are logged and skipped. A
// publish failure stops the run.
func enqueue(ctx context.Context, r io.Reader, pub publisher, logger *slog.Logger) (summary, error) {
	var sum summary

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		job, err := domain.ParseJob([]byte(line))
		if err != nil {
			sum.Invalid++
			logger.Warn("Skipping invalid job line",
				slog.Int("line", lineNo),
				slog.Any("error", err),
			)
			continue
		}

		if err := pub.PublishWithRetry(ctx, []byte(job.Line()), contentType); err != nil {
			return sum, fmt.Errorf("failed to publish line %d (%s): %w", lineNo, job.GitURL, err)
		}
		sum.Published++

		logger.Debug("Job enqueued",
			slog.String("git_url", job.GitURL),
			slog.String("dataset", job.Dataset),
		)
	}

	if err := scanner.Err(); err != nil {
		return sum, fmt.Errorf("failed to read input: %w", err)
	}

	return sum, nil
}
