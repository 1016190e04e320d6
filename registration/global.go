package registration

import (
	"context"

	"github.com/pkg/errors"
)

// GlobalRegister estimates the transform taking src onto tgt from their feature descriptors alone,
// without an initial guess. The returned fitness is the fraction of source points within
// opts.MaxCorrespondenceDistance of a target point.
func GlobalRegister(ctx context.Context, src, tgt *Preprocessed, opts GlobalOptions) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if src.Size() < MinCorrespondences || tgt.Size() < MinCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientPoints,
			"source has %d points and target %d, need at least %d each", src.Size(), tgt.Size(), MinCorrespondences)
	}
	corres, err := MatchFeatures(ctx, src, tgt, opts.MutualFilter)
	if err != nil {
		return nil, err
	}
	switch opts.Method {
	case MethodFastGlobal:
		return registerFGR(ctx, src, tgt, corres, opts)
	case MethodRANSAC, "":
		return registerRANSAC(ctx, src, tgt, corres, opts)
	default:
		return nil, errors.Errorf("unknown global registration method %q", opts.Method)
	}
}
