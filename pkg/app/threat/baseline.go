package threat

import "context"

// Baseline describes normal per-IP traffic.
type Baseline struct {
	AvgRequestRate   float64 `json:"avg_request_rate"`
	StdRequestRate   float64 `json:"std_request_rate"`
	AvgPathDiversity float64 `json:"avg_path_diversity"`
	StdPathDiversity float64 `json:"std_path_diversity"`
}

type BaselineProvider interface {
	Baseline(ctx context.Context) (Baseline, error)
}

// StaticBaseline always returns the same figures.
type StaticBaseline Baseline

// DefaultBaseline is one request per second over about five distinct paths.
var DefaultBaseline = StaticBaseline{
	AvgRequestRate:   1,
	StdRequestRate:   0.5,
	AvgPathDiversity: 5,
	StdPathDiversity: 2,
}

func (b StaticBaseline) Baseline(context.Context) (Baseline, error) {
	return Baseline(b), nil
}
