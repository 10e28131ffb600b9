package backend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"s3proxy/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const primaryProbeCount = 10

// selectPrimary picks the Primary Pointer out of an ordered list of backends,
// following the three selection methods: explicit name, latency-based, or
// default-first. At most one of cfg.ExplicitName / cfg.UseLatencyBased is
// set by the time this runs; Config.Validate enforces that.
func selectPrimary(ctx context.Context, cfg PrimarySelection, backends []*Backend, checkTimeout time.Duration, metrics *Metrics) (*Backend, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("no backends configured, cannot select a primary")
	}

	if cfg.ExplicitName != "" {
		for _, b := range backends {
			if b.ID == cfg.ExplicitName {
				if metrics != nil {
					metrics.PrimarySelections.WithLabelValues("explicit", b.ID).Inc()
				}
				return b, nil
			}
		}
		return nil, fmt.Errorf("primary_backend_name %q does not match any configured backend", cfg.ExplicitName)
	}

	if cfg.UseLatencyBased {
		chosen, err := selectPrimaryByLatency(ctx, backends, checkTimeout, metrics)
		if err != nil {
			return nil, fmt.Errorf("latency-based primary selection failed: %w", err)
		}
		return chosen, nil
	}

	if metrics != nil {
		metrics.PrimarySelections.WithLabelValues("default", backends[0].ID).Inc()
	}
	return backends[0], nil
}

type latencyCandidate struct {
	backend *Backend
	p50     time.Duration
	index   int
}

// selectPrimaryByLatency probes each backend sequentially with primaryProbeCount
// head_bucket calls, eliminates any backend that fails a single probe, and
// picks the surviving backend with the lowest P50 latency. Ties break by
// declaration order. Grounded on the health monitor's checkBackend head_bucket probe.
func selectPrimaryByLatency(ctx context.Context, backends []*Backend, checkTimeout time.Duration, metrics *Metrics) (*Backend, error) {
	candidates := make([]latencyCandidate, 0, len(backends))

	for idx, b := range backends {
		durations := make([]time.Duration, 0, primaryProbeCount)
		eliminated := false

		for i := 0; i < primaryProbeCount; i++ {
			probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			start := time.Now()
			_, err := b.S3Client.HeadBucket(probeCtx, &s3.HeadBucketInput{
				Bucket: aws.String(b.Config.Bucket),
			})
			elapsed := time.Since(start)
			cancel()

			if metrics != nil {
				metrics.PrimaryProbeLatency.WithLabelValues(b.ID).Observe(elapsed.Seconds())
			}

			if err != nil {
				logger.Warn("primary selector: backend %q failed probe %d/%d: %v", b.ID, i+1, primaryProbeCount, err)
				eliminated = true
				break
			}
			durations = append(durations, elapsed)
		}

		if eliminated {
			continue
		}

		candidates = append(candidates, latencyCandidate{
			backend: b,
			p50:     percentile50(durations),
			index:   idx,
		})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("every backend failed at least one latency probe")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].p50 != candidates[j].p50 {
			return candidates[i].p50 < candidates[j].p50
		}
		return candidates[i].index < candidates[j].index
	})

	winner := candidates[0]
	if metrics != nil {
		metrics.PrimarySelections.WithLabelValues("latency", winner.backend.ID).Inc()
	}
	logger.Info("primary selector: chose %q by latency (p50=%v)", winner.backend.ID, winner.p50)
	return winner.backend, nil
}

func percentile50(durations []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
