package grasp

import (
	"context"

	"go.viam.com/pcdgrasp/registration"
)

// A Hook observes every successful registration, for example to render debug plots or publish the
// pose. Hooks run synchronously after the pose is composed; their errors are logged and never change
// the result.
type Hook interface {
	AfterRegister(ctx context.Context, target *registration.Preprocessed, res *Result) error
}

// HookFunc adapts a function to a Hook.
type HookFunc func(ctx context.Context, target *registration.Preprocessed, res *Result) error

// AfterRegister calls f.
func (f HookFunc) AfterRegister(ctx context.Context, target *registration.Preprocessed, res *Result) error {
	return f(ctx, target, res)
}
