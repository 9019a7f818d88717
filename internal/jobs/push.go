package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/vidyback/templatestore/internal/github"
	"github.com/vidyback/templatestore/internal/store"
)

type DocumentLoader interface {
	Load(ctx context.Context) (store.Document, error)
}

type Pusher interface {
	Push(ctx context.Context, doc store.Document) (*github.CommitResult, error)
}

// PushHandler processes TaskPushDocument
type PushHandler struct {
	Docs   DocumentLoader
	Remote Pusher
	Logger zerolog.Logger
}

func (h *PushHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p PushDocumentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.Logger.Error().Err(err).Msg("bad push payload")
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.Logger.With().Bool("trailing", p.Trailing).Logger()
	log.Info().Msg("push start")
	start := time.Now()

	doc, err := h.Docs.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load document failed")
		return fmt.Errorf("load document: %w", err)
	}

	res, err := h.Remote.Push(ctx, doc)
	duration := time.Since(start)
	if err != nil {
		if IsRetryable(err) {
			log.Warn().Err(err).Dur("duration", duration).Msg("push failed, will retry")
			return err
		}
		log.Error().Err(err).Dur("duration", duration).Msg("push failed permanently, dropping job")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log.Info().Str("commit", res.SHA).Dur("duration", duration).Msg("push done")
	return nil
}

// IsRetryable reports whether a push error may succeed on a later attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var statusErr *github.StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}
	var commitErr *github.CommitError
	if errors.As(err, &commitErr) {
		// 409: sha moved between fetch and commit; a retry fetches it again
		return commitErr.StatusCode == http.StatusConflict || retryableStatus(commitErr.StatusCode)
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
