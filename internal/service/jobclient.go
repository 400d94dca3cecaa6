package service

import (
	"time"

	"caseflow/internal/jobs"

	"github.com/hibiken/asynq"
)

// JobClient interface for scheduling background jobs
type JobClient interface {
	SchedulePurge(caseID string, at time.Time) error
}

// AsynqJobClient implements JobClient using asynq
type AsynqJobClient struct {
	client *asynq.Client
}

func NewAsynqJobClient(client *asynq.Client) *AsynqJobClient {
	return &AsynqJobClient{client: client}
}

func (c *AsynqJobClient) SchedulePurge(caseID string, at time.Time) error {
	return jobs.SchedulePurge(c.client, caseID, at)
}
