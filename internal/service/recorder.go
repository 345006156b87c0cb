package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"email-guard/internal/client"
	"email-guard/internal/guard"
	"email-guard/internal/model"
	"email-guard/internal/util"
)

// Recorder writes every triggered protection to the audit trail. The Redis
// append is synchronous and authoritative; the long-term sinks (Kafka,
// ClickHouse, Elasticsearch) are mirrored in the background and fail soft.
type Recorder struct {
	logs    model.AbuseLogCache
	kafka   *client.KafkaProducer
	ch      *client.ClickHouseClient
	es      *client.ESClient
	esIndex string
	logger  *zap.Logger
}

func NewRecorder(logs model.AbuseLogCache, kafka *client.KafkaProducer, ch *client.ClickHouseClient, es *client.ESClient, esIndex string) *Recorder {
	return &Recorder{
		logs:    logs,
		kafka:   kafka,
		ch:      ch,
		es:      es,
		esIndex: esIndex,
		logger:  util.Get(),
	}
}

// Record implements guard.Recorder.
func (r *Recorder) Record(ctx context.Context, req *guard.Request, violationType, details string) {
	entry := &model.AbuseLogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		IP:        req.IP,
		Email:     req.Email,
		UserAgent: req.UserAgent,
		Referer:   req.Referer,
		Origin:    req.Origin,
		Type:      violationType,
		Details:   details,
	}

	if err := r.logs.Append(ctx, entry); err != nil {
		r.logger.Error("Failed to write abuse log entry",
			zap.String("ip", entry.IP),
			zap.String("type", entry.Type),
			zap.Error(err))
	}

	go r.mirror(entry)
}

// mirror fans the entry out to the optional sinks with its own deadline,
// detached from the request lifecycle.
func (r *Recorder) mirror(entry *model.AbuseLogEntry) {
	if r.kafka == nil && r.ch == nil && r.es == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if r.kafka != nil {
		g.Go(func() error {
			payload, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			return r.kafka.Publish(ctx, []byte(entry.IP), payload)
		})
	}

	if r.ch != nil {
		g.Go(func() error {
			return r.ch.Exec(ctx,
				`INSERT INTO abuse_logs (id, ts, ip, email, user_agent, referer, origin, type, details) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				entry.ID, entry.Timestamp, entry.IP, entry.Email,
				entry.UserAgent, entry.Referer, entry.Origin, entry.Type, entry.Details)
		})
	}

	if r.es != nil {
		g.Go(func() error {
			res, err := r.es.IndexDocument(r.esIndex, entry.ID, entry)
			if err != nil {
				return err
			}
			defer res.Body.Close()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Warn("Abuse log mirror write failed",
			zap.String("id", entry.ID),
			zap.Error(err))
	}
}

// EnsureSchema creates the ClickHouse archive table when the sink is wired.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if r.ch == nil {
		return nil
	}
	return r.ch.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS abuse_logs (
			id String,
			ts DateTime64(3),
			ip String,
			email String,
			user_agent String,
			referer String,
			origin String,
			type LowCardinality(String),
			details String
		) ENGINE = MergeTree()
		ORDER BY (ts, ip)
		TTL toDateTime(ts) + INTERVAL 180 DAY
	`)
}
