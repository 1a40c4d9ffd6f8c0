package metrics

import (
	"context"
	"errors"

	"github.com/elonfeng/styleradar/pkg/cluster"
	"github.com/elonfeng/styleradar/pkg/trend"
)

// Kind maps an error to the label used by analysis_errors_total.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, cluster.ErrNoSnapshot):
		return "no_snapshot"
	case errors.Is(err, cluster.ErrNoCenters):
		return "no_centers"
	case errors.Is(err, cluster.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, cluster.ErrNonFinite):
		return "non_finite"
	case errors.Is(err, cluster.ErrUnknownCluster):
		return "unknown_cluster"
	case errors.Is(err, trend.ErrRange):
		return "out_of_range"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
