package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/docufort/ragproxy/internal/config"
	"github.com/docufort/ragproxy/internal/events"
	"github.com/docufort/ragproxy/internal/jobs"
	"github.com/docufort/ragproxy/internal/proxy"
	"github.com/docufort/ragproxy/internal/token"
	"github.com/docufort/ragproxy/internal/upstream"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if !cfg.HasRedis() {
		logger.Fatal().Msg("REDIS_ADDR is required for the ingestion worker")
	}

	tokens := token.NewCachedIssuer(cfg.ServiceName, []byte(cfg.ServiceSecret), cfg.TokenTTL)
	ingestion, err := upstream.New(proxy.UpstreamIngestion, cfg.IngestionEngineURL, cfg.ServiceName,
		upstream.WithHTTPClient(&http.Client{Timeout: 10 * time.Minute}),
		upstream.WithTokenSource(tokens))
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestion engine client")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	publisher := &progressPublisher{rdb: rdb, log: logger}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			jobs.QueueIngest: 10,
			"default":        5,
		},
	})
	mux := asynq.NewServeMux()

	mux.HandleFunc(jobs.TaskIngestCollection, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.IngestPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Error().Err(err).Msg("bad ingest payload, dropping job")
			return nil
		}
		log := logger.With().Str("job_id", p.JobID).Str("collection", p.Collection).Logger()
		log.Info().Msg("ingestion start")
		start := time.Now()

		publisher.publish(ctx, p.JobID, events.Marshal(events.Start, events.StartPayload{
			JobID:      p.JobID,
			Collection: p.Collection,
			Model:      p.Model,
			ChunkSize:  p.ChunkSize,
			StartedAt:  start.UTC(),
		}))

		err := runIngestion(ctx, ingestion, p, publisher)
		duration := time.Since(start)

		if err != nil {
			publisher.publish(ctx, p.JobID, events.Marshal(events.Error, events.ErrorPayload{
				JobID:      p.JobID,
				Collection: p.Collection,
				Message:    err.Error(),
			}))
			if errors.Is(ctx.Err(), context.Canceled) {
				publisher.publish(ctx, p.JobID, events.Marshal(events.Cancelled, events.StatusPayload{
					JobID:  p.JobID,
					Status: "cancelled",
				}))
				return err
			}
			if isRetryableError(err) {
				log.Warn().Err(err).Dur("duration", duration).Msg("retryable ingestion error")
				return err
			}
			log.Error().Err(err).Dur("duration", duration).Msg("permanent ingestion error, dropping job")
			return nil
		}

		publisher.publish(ctx, p.JobID, events.Marshal(events.Complete, events.CompletePayload{
			JobID:      p.JobID,
			Collection: p.Collection,
			Duration:   duration / time.Millisecond,
		}))
		log.Info().Dur("duration", duration).Msg("ingestion done")
		return nil
	})

	logger.Info().Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker exited")
	}
}

func runIngestion(ctx context.Context, ingestion *upstream.Client, p jobs.IngestPayload, pub *progressPublisher) error {
	pub.publish(ctx, p.JobID, events.Marshal(events.Progress, events.ProgressPayload{
		JobID:      p.JobID,
		Collection: p.Collection,
		Stage:      "triggering",
		Percent:    0,
	}))

	_, err := ingestion.TriggerIngestion(ctx, upstream.IngestRequest{
		Collection: p.Collection,
		Model:      p.Model,
		ChunkSize:  p.ChunkSize,
		Force:      p.Force,
	})
	if err != nil {
		return err
	}

	pub.publish(ctx, p.JobID, events.Marshal(events.Progress, events.ProgressPayload{
		JobID:      p.JobID,
		Collection: p.Collection,
		Stage:      "ingesting",
		Percent:    100,
	}))
	return nil
}

// progressPublisher pushes wire-contract events onto the Redis channel the
// event-stream producer relays to the dashboard.
type progressPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

func (p *progressPublisher) publish(ctx context.Context, jobID string, env events.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := p.rdb.Publish(ctx, jobs.ProgressChannel(jobID), data).Err(); err != nil {
		p.log.Warn().Err(err).Str("job_id", jobID).Msg("progress publish failed")
	}
}

// isRetryableError determines if an error should trigger a job retry.
func isRetryableError(err error) bool {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		// Rate limiting and transient server errors retry; client errors
		// and auth failures drop.
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns")
}
