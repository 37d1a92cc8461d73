package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cuongbtq/refminer-intake/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	bodies []string
	failOn int
}

func (p *recordingPublisher) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	if p.failOn > 0 && len(p.bodies)+1 == p.failOn {
		return errors.New("channel closed")
	}
	if contentType != "text/plain" {
		return errors.New("unexpected content type " + contentType)
	}
	p.bodies = append(p.bodies, string(body))
	return nil
}

func TestEnqueue_PublishesValidLines(t *testing.T) {
	input := strings.Join([]string{
		"# id,git_url,dataset",
		"1, https://github.com/apache/ant.git ,apache",
		"",
		"not-a-job",
		"2,https://github.com/eclipse/jgit.git,eclipse,master",
		"3,,apache",
	}, "\n")

	pub := &recordingPublisher{}
	sum, err := enqueue(context.Background(), strings.NewReader(input), pub, logger.Discard())

	require.NoError(t, err)
	assert.Equal(t, 2, sum.Published)
	assert.Equal(t, 2, sum.Invalid)
	assert.Equal(t, []string{
		"1,https://github.com/apache/ant.git,apache",
		"2,https://github.com/eclipse/jgit.git,eclipse,master",
	}, pub.bodies)
}

func TestEnqueue_StopsOnPublishFailure(t *testing.T) {
	input := "1,https://a.example/x.git,d\n2,https://a.example/y.git,d\n3,https://a.example/z.git,d\n"

	pub := &recordingPublisher{failOn: 2}
	sum, err := enqueue(context.Background(), strings.NewReader(input), pub, logger.Discard())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, 1, sum.Published)
}
