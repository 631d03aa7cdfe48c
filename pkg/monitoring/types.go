package monitoring

import "time"

// Sample is one resource observation of a job on one host
type Sample struct {
	Time   time.Time `json:"time"`
	Host   string    `json:"host"`
	CPU    float64   `json:"cpu"`    // busy cores
	Memory float64   `json:"memory"` // GB
}

// JobResourceRecord is the aggregated resource usage of one job.
// Peaks sum simultaneous samples across hosts; averages are taken over raw samples.
type JobResourceRecord struct {
	Job        string   `json:"job"`
	PeakCPU    float64  `json:"peak_cpu"`
	AvgCPU     float64  `json:"avg_cpu"`
	PeakMemory float64  `json:"peak_memory"`
	AvgMemory  float64  `json:"avg_memory"`
	RunTime    int64    `json:"run_time"` // seconds
	Hosts      []string `json:"hosts"`
	MultiHost  bool     `json:"multi_host"`
	Samples    int      `json:"samples"`
}
