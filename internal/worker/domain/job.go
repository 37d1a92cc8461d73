package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	fieldSeparator = ","
	minFields      = 3
)

// Job is one unit of mining work decoded from a queue message
type Job struct {
	// ID is the producer's field 0; opaque to the worker
	ID string
	// GitURL identifies the repository and is the dedup key
	GitURL string
	// Dataset tags the project with the dataset it belongs to
	Dataset string
	// Extra holds any fields after the dataset, in order
	Extra []string
}

// Options is the static pipeline configuration shared by every job
type Options struct {
	StoragePath         string
	Threshold           int
	TestFilesOnly       bool
	StoreFullSourceCode bool
}

// ParseJob decodes one "id,git_url,dataset[,extra...]" line
func ParseJob(body []byte) (*Job, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedMessage)
	}

	line := strings.TrimSpace(string(body))
	fields := strings.Split(line, fieldSeparator)
	if len(fields) < minFields {
		return nil, fmt.Errorf("%w: expected at least %d fields, got %d", ErrMalformedMessage, minFields, len(fields))
	}

	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if fields[1] == "" {
		return nil, fmt.Errorf("%w: empty git url", ErrMalformedMessage)
	}

	job := &Job{
		ID:      fields[0],
		GitURL:  fields[1],
		Dataset: fields[2],
	}
	if len(fields) > minFields {
		job.Extra = fields[minFields:]
	}

	return job, nil
}

// Line encodes the job back into its wire format
func (j *Job) Line() string {
	fields := append([]string{j.ID, j.GitURL, j.Dataset}, j.Extra...)
	return strings.Join(fields, fieldSeparator)
}
