package model

import "strconv"

// NotAvailable marks a report metric that could not be computed
const NotAvailable = "NA"

// ReportKeys are the columns of a user's finished-job report table
var ReportKeys = []string{
	"SAMPLE_TIME", "JOB", "STATUS",
	"CPU_RESERVED", "CPU_AVG", "CPU_PEAK",
	"MEM_RESERVED", "MEM_AVG", "MEM_PEAK",
	"RUN_TIME", "CWD", "COMMAND",
}

// JobReport is the resource usage summary of one finished job, formatted for
// the report table. Memory values carry a "G" suffix; missing metrics are "NA".
type JobReport struct {
	SampleTime  string `json:"sample_time"`
	Job         string `json:"job"`
	User        string `json:"user"`
	Status      string `json:"status"`
	CPUReserved string `json:"cpu_reserved"`
	CPUAvg      string `json:"cpu_avg"`
	CPUPeak     string `json:"cpu_peak"`
	MemReserved string `json:"mem_reserved"`
	MemAvg      string `json:"mem_avg"`
	MemPeak     string `json:"mem_peak"`
	RunTime     int64  `json:"run_time"`
	CWD         string `json:"cwd"`
	Command     string `json:"command"`
}

// Values returns the report row in ReportKeys order
func (r *JobReport) Values() []any {
	return []any{
		r.SampleTime, r.Job, r.Status,
		r.CPUReserved, r.CPUAvg, r.CPUPeak,
		r.MemReserved, r.MemAvg, r.MemPeak,
		strconv.FormatInt(r.RunTime, 10), r.CWD, r.Command,
	}
}
