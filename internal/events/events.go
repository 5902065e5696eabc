package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platformbuilds/inference-core/internal/config"
	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

const publishTimeout = time.Second

// Recorder publishes an audit event for every completed prediction: to the
// in-process hub for websocket subscribers, and when enabled to a capped
// Redis stream per model (predictions:{model_name}). Publication is
// asynchronous and lossy under pressure; it never slows or fails a
// prediction. A nil Recorder is a no-op.
type Recorder struct {
	client *redis.Client
	hub    *Hub
	maxLen int64
	logger logger.Logger

	ch        chan models.PredictionEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewRecorder(cfg config.EventsConfig, redisCfg config.RedisConfig, hub *Hub, log logger.Logger) *Recorder {
	r := &Recorder{hub: hub, maxLen: cfg.StreamMaxLen, logger: log}
	if !cfg.Enabled || redisCfg.Addr == "" {
		return r
	}
	r.client = redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if r.maxLen <= 0 {
		r.maxLen = 10000
	}
	r.ch = make(chan models.PredictionEvent, 1024)
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.run()
	return r
}

// Publish enqueues one event. Non-blocking: when the buffer is full the
// event is dropped.
func (r *Recorder) Publish(ev models.PredictionEvent) {
	if r == nil {
		return
	}
	if r.hub != nil {
		r.hub.Broadcast(ev)
	}
	if r.ch == nil {
		return
	}
	select {
	case r.ch <- ev:
	default:
		r.logger.Debug("event buffer full, dropping prediction event",
			"model", ev.ModelName, "request_id", ev.RequestID)
	}
}

func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		if r.done != nil {
			close(r.done)
			r.wg.Wait()
		}
		if r.client != nil {
			r.client.Close()
		}
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.ch:
			r.append(ev)
		case <-r.done:
			// Drain what is already buffered before stopping.
			for {
				select {
				case ev := <-r.ch:
					r.append(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) append(ev models.PredictionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("failed to encode prediction event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: "predictions:" + ev.ModelName,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{"event": payload},
	}).Err()
	if err != nil {
		r.logger.Warn("failed to append prediction event",
			"model", ev.ModelName, "error", err)
	}
}
