package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypePurge removes a trashed case once its retention window has passed
const TypePurge = "case:purge"

// Purger permanently deletes trashed cases
type Purger interface {
	PurgeCase(ctx context.Context, id string, deletedBefore time.Time) (bool, error)
}

type JobServer struct {
	server    *asynq.Server
	client    *asynq.Client
	purger    Purger
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewJobServer(redisAddr string, purger Purger, retention time.Duration, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"default": 3,
				"low":     1,
			},
		},
	)

	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server:    server,
		client:    client,
		purger:    purger,
		retention: retention,
		log:       log,
		now:       time.Now,
	}, client
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePurge, js.handlePurge)
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

// handlePurge only removes the case if it is still trashed and old enough.
// A restore followed by a second delete leaves a later task to do the work.
func (js *JobServer) handlePurge(ctx context.Context, t *asynq.Task) error {
	caseID := string(t.Payload())

	purged, err := js.purger.PurgeCase(ctx, caseID, js.now().Add(-js.retention))
	if err != nil {
		return fmt.Errorf("failed to purge case: %w", err)
	}
	if !purged {
		js.log.Debug("Purge skipped", zap.String("case_id", caseID))
		return nil
	}

	js.log.Info("Case purged", zap.String("case_id", caseID))
	return nil
}

// SchedulePurge enqueues the purge of caseID at the given time
func SchedulePurge(client *asynq.Client, caseID string, at time.Time) error {
	task := asynq.NewTask(TypePurge, []byte(caseID))
	opts := []asynq.Option{asynq.Queue("low")}
	if d := time.Until(at); d > 0 {
		opts = append(opts, asynq.ProcessIn(d))
	}
	_, err := client.Enqueue(task, opts...)
	return err
}
