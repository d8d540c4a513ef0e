// Package compute executes transformation jobs in response to
// object-created events. One event maps to at most one terminal job
// transition; duplicate and stale events are absorbed by the job store
// guards rather than by any worker-side state.
package compute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/pokefantasia/pkg/jobstore"
	"github.com/3leaps/pokefantasia/pkg/provider"
	"github.com/3leaps/pokefantasia/pkg/storekey"
	"github.com/3leaps/pokefantasia/pkg/transform"
	"github.com/3leaps/pokefantasia/pkg/variant"
)

// Buckets holds the source and output providers for one backend class.
type Buckets struct {
	Source provider.Provider
	Output provider.Provider
}

// Runner drives a job from its uploaded source object to a terminal
// state.
type Runner struct {
	jobs      *jobstore.Store
	buckets   map[variant.BackendClass]Buckets
	registry  *transform.Registry
	logger    *zap.Logger
	opTimeout time.Duration
}

func NewRunner(jobs *jobstore.Store, buckets map[variant.BackendClass]Buckets, registry *transform.Registry, opTimeout time.Duration, logger *zap.Logger) *Runner {
	if opTimeout <= 0 {
		opTimeout = 90 * time.Second
	}
	return &Runner{
		jobs:      jobs,
		buckets:   buckets,
		registry:  registry,
		logger:    logger,
		opTimeout: opTimeout,
	}
}

// HandleObjectCreated processes one delivered event. Events for
// untracked keys, already-terminal jobs, or non-source objects are
// logged and dropped. Any failure once a job row exists, transform or
// infrastructure, is driven into the fail transition rather than
// returned: delivery is consume-once on this side, so a returned error
// would strand the job in a non-terminal state with no retry coming.
func (r *Runner) HandleObjectCreated(ctx context.Context, class variant.BackendClass, key string, metadata map[string]string) error {
	log := r.logger.With(zap.String("class", string(class)), zap.String("key", key))

	buckets, ok := r.buckets[class]
	if !ok {
		return fmt.Errorf("no buckets configured for backend class %q", class)
	}
	if !storekey.IsAllowedExtension(strings.ToLower(path.Ext(key))) {
		log.Debug("ignoring non-source object")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	kind := variant.Kind(class)
	if metadata == nil {
		meta, err := buckets.Source.Head(ctx, key)
		if err != nil {
			if provider.IsNotFound(err) {
				log.Warn("source object gone before processing")
				return nil
			}
			r.fail(ctx, log, buckets, key, fmt.Errorf("head source object: %w", err))
			return nil
		}
		metadata = meta.Metadata
	}
	params, paramsErr := variant.ParamsFromMetadata(metadata, kind)
	if paramsErr == nil {
		paramsErr = params.Validate()
	}

	if _, err := r.jobs.BeginProcessing(ctx, key); err != nil {
		switch {
		case errors.Is(err, jobstore.ErrNoSuchSource):
			log.Warn("event for untracked source object")
			return nil
		case errors.Is(err, jobstore.ErrAlreadyTerminal):
			log.Info("event for finished job, dropping")
			return nil
		default:
			r.fail(ctx, log, buckets, key, fmt.Errorf("begin processing: %w", err))
			return nil
		}
	}

	if paramsErr != nil {
		r.fail(ctx, log, buckets, key, paramsErr)
		return nil
	}

	src, err := provider.GetBytes(ctx, buckets.Source, key)
	if err != nil {
		r.fail(ctx, log, buckets, key, fmt.Errorf("fetch source object: %w", err))
		return nil
	}

	result, err := r.registry.Run(ctx, params, src)
	if err != nil {
		r.fail(ctx, log, buckets, key, err)
		return nil
	}

	resultKey, err := storekey.ResultKey(key, params.Kind)
	if err != nil {
		r.fail(ctx, log, buckets, key, err)
		return nil
	}
	opts := provider.PutOptions{ContentType: result.ContentType}
	if err := buckets.Output.PutObject(ctx, resultKey, bytes.NewReader(result.Bytes), int64(len(result.Bytes)), opts); err != nil {
		r.fail(ctx, log, buckets, key, fmt.Errorf("store result object: %w", err))
		return nil
	}

	if err := r.jobs.Complete(ctx, key, resultKey); err != nil {
		if errors.Is(err, jobstore.ErrAlreadyTerminal) {
			log.Info("job finished concurrently, keeping first result")
			return nil
		}
		r.fail(ctx, log, buckets, key, fmt.Errorf("record completion: %w", err))
		return nil
	}

	log.Info("job completed", zap.String("result_key", resultKey))
	return nil
}

// fail writes the failure text as the job's error artifact and moves the
// job to its error state. Secondary failures here are logged and
// swallowed: the event has been consumed and retrying cannot improve on
// the recorded cause.
func (r *Runner) fail(ctx context.Context, log *zap.Logger, buckets Buckets, key string, cause error) {
	log.Warn("job failed", zap.Error(cause))

	// The cause may be the op deadline itself, so the transition runs on
	// a detached context with its own bound.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	errorKey := ""
	if k, err := storekey.ErrorKey(key); err == nil {
		text := []byte(cause.Error() + "\n")
		opts := provider.PutOptions{ContentType: "text/plain; charset=utf-8"}
		if putErr := buckets.Output.PutObject(ctx, k, bytes.NewReader(text), int64(len(text)), opts); putErr != nil {
			log.Error("could not store error artifact", zap.Error(putErr))
		} else {
			errorKey = k
		}
	}

	if err := r.jobs.Fail(ctx, key, errorKey); err != nil {
		switch {
		case errors.Is(err, jobstore.ErrAlreadyTerminal):
			log.Info("job finished concurrently, keeping first outcome")
		case errors.Is(err, jobstore.ErrNoSuchSource):
			log.Warn("failed job no longer tracked")
		default:
			log.Error("could not record job failure", zap.Error(err))
		}
	}
}
