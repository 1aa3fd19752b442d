package execctx

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// workerOptions holds configuration options for Worker creation.
type workerOptions struct {
	name   string
	order  Order
	logger *logiface.Logger[logiface.Event]
}

// --- Worker Options ---

// WorkerOption configures a Worker instance.
type WorkerOption interface {
	applyWorker(*workerOptions) error
}

// workerOptionImpl implements WorkerOption.
type workerOptionImpl struct {
	applyWorkerFunc func(*workerOptions) error
}

func (o *workerOptionImpl) applyWorker(opts *workerOptions) error {
	return o.applyWorkerFunc(opts)
}

// WithName sets a name for the worker, used in log output.
func WithName(name string) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) error {
		opts.name = name
		return nil
	}}
}

// WithOrder sets the worker's order. Publicly exposed thread-facing
// contexts must use at least [OrderThreadMin]; lower values are reserved
// for private contexts wrapped inside composed backends and are rejected
// here.
func WithOrder(order Order) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) error {
		if order < OrderThreadMin {
			return fmt.Errorf("execctx: worker order %d below OrderThreadMin (%d)", order, OrderThreadMin)
		}
		opts.order = order
		return nil
	}}
}

// WithLogger sets the structured logger used for worker lifecycle events
// and recovered token panics. A nil logger disables structured output.
func WithLogger(logger *logiface.Logger[logiface.Event]) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveWorkerOptions applies WorkerOption instances to workerOptions.
func resolveWorkerOptions(opts []WorkerOption) (*workerOptions, error) {
	cfg := &workerOptions{
		order: OrderThreadMin, // default
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyWorker(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
