package registration

import (
	"context"

	"go.viam.com/pcdgrasp/utils"
)

// Correspondence pairs a source point with the target point whose descriptor is most similar.
type Correspondence struct {
	Source int
	Target int
}

// MatchFeatures pairs every source point with its nearest target point in descriptor space. With
// mutual set, a pair is kept only when the source point is also the nearest match of its target.
// Pairs are returned in source order.
func MatchFeatures(ctx context.Context, src, tgt *Preprocessed, mutual bool) ([]Correspondence, error) {
	if src.Size() == 0 || tgt.Size() == 0 {
		return nil, nil
	}
	tgtTree := tgt.FeatureTree()
	forward := make([]int, src.Size())
	if err := utils.ParallelForEach(ctx, src.Size(), func(i int) {
		nb, ok := tgtTree.NearestVector(src.Features.Descriptor(i))
		forward[i] = -1
		if ok {
			forward[i] = nb.Index
		}
	}); err != nil {
		return nil, err
	}

	keep := make([]bool, src.Size())
	if mutual {
		srcTree := src.FeatureTree()
		if err := utils.ParallelForEach(ctx, src.Size(), func(i int) {
			if forward[i] < 0 {
				return
			}
			nb, ok := srcTree.NearestVector(tgt.Features.Descriptor(forward[i]))
			keep[i] = ok && nb.Index == i
		}); err != nil {
			return nil, err
		}
	} else {
		for i, j := range forward {
			keep[i] = j >= 0
		}
	}

	corres := make([]Correspondence, 0, src.Size())
	for i, j := range forward {
		if keep[i] {
			corres = append(corres, Correspondence{Source: i, Target: j})
		}
	}
	return corres, nil
}
