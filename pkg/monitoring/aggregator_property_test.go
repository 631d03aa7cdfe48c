package monitoring

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type series struct {
	Seconds []int64
	Hosts   []string
	Values  []float64
}

// genSeries generates equally long time, host and non-negative value series
func genSeries() gopter.Gen {
	return gen.IntRange(1, 40).FlatMap(func(v interface{}) gopter.Gen {
		n := v.(int)
		return gopter.CombineGens(
			gen.SliceOfN(n, gen.Int64Range(0, 120)),
			gen.SliceOfN(n, gen.OneConstOf("A", "B", "C", "D")),
			gen.SliceOfN(n, gen.Float64Range(0, 100)),
		).Map(func(vals []interface{}) series {
			return series{
				Seconds: vals[0].([]int64),
				Hosts:   vals[1].([]string),
				Values:  vals[2].([]float64),
			}
		})
	}, reflect.TypeOf(series{}))
}

func TestProperty_ClusterIsPartition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("every sample lands in exactly one cluster", prop.ForAll(
		func(s series) bool {
			clusters, err := Cluster(s.Seconds, s.Hosts, 5)
			if err != nil {
				return false
			}
			count := make([]int, len(s.Seconds))
			for _, members := range clusters {
				for _, i := range members {
					count[i]++
				}
			}
			for _, c := range count {
				if c != 1 {
					return false
				}
			}
			return true
		},
		genSeries(),
	))

	properties.Property("clusters hold distinct hosts within tolerance of each other", prop.ForAll(
		func(s series) bool {
			clusters, err := Cluster(s.Seconds, s.Hosts, 5)
			if err != nil {
				return false
			}
			for _, members := range clusters {
				hosts := make(map[string]struct{})
				for _, i := range members {
					if _, dup := hosts[s.Hosts[i]]; dup {
						return false
					}
					hosts[s.Hosts[i]] = struct{}{}
					for _, j := range members {
						d := s.Seconds[i] - s.Seconds[j]
						if d > 5 || d < -5 {
							return false
						}
					}
				}
			}
			return true
		},
		genSeries(),
	))

	properties.TestingRun(t)
}

func TestProperty_PeakBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("peak lies between the largest sample and the total", prop.ForAll(
		func(s series) bool {
			peak, err := MultiHostPeak(epoch(s.Seconds...), s.Hosts, s.Values, DefaultTolerance)
			if err != nil {
				return false
			}
			largest, _ := Max(s.Values)
			total := 0.0
			for _, v := range s.Values {
				total += v
			}
			return peak >= largest-1e-9 && peak <= total+1e-9
		},
		genSeries(),
	))

	properties.Property("single host peak equals the plain max", prop.ForAll(
		func(s series) bool {
			hosts := make([]string, len(s.Hosts))
			for i := range hosts {
				hosts[i] = "A"
			}
			peak, err := MultiHostPeak(epoch(s.Seconds...), hosts, s.Values, DefaultTolerance)
			if err != nil {
				return false
			}
			largest, _ := Max(s.Values)
			return peak == largest
		},
		genSeries(),
	))

	properties.Property("average stays within the sample range", prop.ForAll(
		func(s series) bool {
			avg, err := Average(s.Values)
			if err != nil {
				return false
			}
			lo, hi := s.Values[0], s.Values[0]
			for _, v := range s.Values {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			return avg >= lo-1e-9 && avg <= hi+1e-9
		},
		genSeries(),
	))

	properties.TestingRun(t)
}
