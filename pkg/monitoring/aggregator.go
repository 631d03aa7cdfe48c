package monitoring

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTolerance is how far apart two hosts' samples may be and still count as simultaneous
const DefaultTolerance = 5 * time.Second

var (
	// ErrNoSamples is returned when a series is empty
	ErrNoSamples = errors.New("no samples")

	// ErrSeriesLength is returned when parallel series differ in length
	ErrSeriesLength = errors.New("series length mismatch")

	// ErrInvalidJobID is returned for job ids that are not "<n>" or "<n>[<index>]"
	ErrInvalidJobID = errors.New("invalid job id")
)

// Cluster groups sample indices into simultaneous-sample clusters.
//
// Clustering is first-match greedy in input order: the first unclustered sample
// anchors a cluster, and each later unclustered sample joins it if it is on a
// host the cluster does not have yet and lies within tolerance of every member.
// Every index ends up in exactly one cluster.
func Cluster(seconds []int64, hosts []string, tolerance int64) ([][]int, error) {
	if len(seconds) != len(hosts) {
		return nil, fmt.Errorf("%w: %d times, %d hosts", ErrSeriesLength, len(seconds), len(hosts))
	}

	used := make([]bool, len(seconds))
	var clusters [][]int
	for i := range seconds {
		if used[i] {
			continue
		}
		used[i] = true
		members := []int{i}
		memberHosts := map[string]struct{}{hosts[i]: {}}

		for j := i + 1; j < len(seconds); j++ {
			if used[j] {
				continue
			}
			if _, dup := memberHosts[hosts[j]]; dup {
				continue
			}
			if !withinAll(seconds, members, seconds[j], tolerance) {
				continue
			}
			used[j] = true
			members = append(members, j)
			memberHosts[hosts[j]] = struct{}{}
		}
		clusters = append(clusters, members)
	}
	return clusters, nil
}

func withinAll(seconds []int64, members []int, t, tolerance int64) bool {
	for _, m := range members {
		d := t - seconds[m]
		if d < -tolerance || d > tolerance {
			return false
		}
	}
	return true
}

// MultiHostPeak returns the largest per-cluster sum of values
func MultiHostPeak(times []time.Time, hosts []string, values []float64, tolerance time.Duration) (float64, error) {
	if len(times) == 0 {
		return 0, ErrNoSamples
	}
	if len(values) != len(times) {
		return 0, fmt.Errorf("%w: %d times, %d values", ErrSeriesLength, len(times), len(values))
	}

	seconds := make([]int64, len(times))
	for i, t := range times {
		seconds[i] = t.Unix()
	}
	clusters, err := Cluster(seconds, hosts, int64(tolerance/time.Second))
	if err != nil {
		return 0, err
	}

	peak := 0.0
	for n, members := range clusters {
		sum := 0.0
		for _, i := range members {
			sum += values[i]
		}
		if n == 0 || sum > peak {
			peak = sum
		}
	}
	return peak, nil
}

// Max returns the largest value
func Max(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoSamples
	}
	peak := values[0]
	for _, v := range values[1:] {
		if v > peak {
			peak = v
		}
	}
	return peak, nil
}

// Average returns the arithmetic mean of values
func Average(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoSamples
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

// Aggregator reduces a job's resource samples to a JobResourceRecord
type Aggregator struct {
	Tolerance time.Duration
}

// NewAggregator creates an aggregator; a non-positive tolerance uses DefaultTolerance
func NewAggregator(tolerance time.Duration) *Aggregator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Aggregator{Tolerance: tolerance}
}

// Aggregate computes peak and average CPU and memory for one job.
// Single-host jobs use the plain maximum; jobs seen on several hosts sum
// simultaneous samples before taking the maximum.
func (a *Aggregator) Aggregate(job string, samples []Sample) (*JobResourceRecord, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("job %s: %w", job, ErrNoSamples)
	}

	times := make([]time.Time, len(samples))
	hosts := make([]string, len(samples))
	cpu := make([]float64, len(samples))
	mem := make([]float64, len(samples))
	var distinct []string
	seen := make(map[string]struct{})
	for i, s := range samples {
		times[i], hosts[i], cpu[i], mem[i] = s.Time, s.Host, s.CPU, s.Memory
		if _, ok := seen[s.Host]; !ok {
			seen[s.Host] = struct{}{}
			distinct = append(distinct, s.Host)
		}
	}

	record := &JobResourceRecord{
		Job:       job,
		Hosts:     distinct,
		MultiHost: len(distinct) > 1,
		Samples:   len(samples),
	}
	record.AvgCPU, _ = Average(cpu)
	record.AvgMemory, _ = Average(mem)

	var err error
	if record.MultiHost {
		if record.PeakCPU, err = MultiHostPeak(times, hosts, cpu, a.Tolerance); err != nil {
			return nil, err
		}
		if record.PeakMemory, err = MultiHostPeak(times, hosts, mem, a.Tolerance); err != nil {
			return nil, err
		}
	} else {
		record.PeakCPU, _ = Max(cpu)
		record.PeakMemory, _ = Max(mem)
	}
	return record, nil
}
