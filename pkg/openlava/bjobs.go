package openlava

import (
	"regexp"
	"strconv"
	"strings"
)

// Job status values reported by bjobs
const (
	StatusPending = "PEND"
	StatusRunning = "RUN"
	StatusDone    = "DONE"
	StatusExit    = "EXIT"
)

// Job is one job parsed from "bjobs -UF". Fields the output does not carry stay empty.
type Job struct {
	ID                  string
	Name                string
	User                string
	Project             string
	Status              string
	Queue               string
	Command             string
	SubmittedFrom       string
	SubmittedTime       string
	CWD                 string
	ProcessorsRequested string
	RequestedResources  string
	SpanHosts           string
	RusageMem           string
	StartedOn           string
	StartedTime         string
	FinishedTime        string
	CPUTime             string
	Mem                 string
	PIDs                []int
	Info                string
}

// Finished reports whether the job reached DONE or EXIT
func (j *Job) Finished() bool {
	return j.Status == StatusDone || j.Status == StatusExit
}

// StartedHosts returns the execution hosts of the job
func (j *Job) StartedHosts() []string {
	return strings.Fields(j.StartedOn)
}

var (
	jobPattern                 = regexp.MustCompile(`Job <([0-9]+(\[[0-9]+\])?)>`)
	jobNotFoundPattern         = regexp.MustCompile(`^Job <[^>]*> is not found`)
	jobNamePattern             = regexp.MustCompile(`Job Name <([^>]+)>`)
	userPattern                = regexp.MustCompile(`User <([^>]+)>`)
	projectPattern             = regexp.MustCompile(`Project <([^>]+)>`)
	statusPattern              = regexp.MustCompile(`Status <([A-Z]+)>`)
	queuePattern               = regexp.MustCompile(`Queue <([^>]+)>`)
	commandPattern             = regexp.MustCompile(`Command <([^>]+)>`)
	submittedFromPattern       = regexp.MustCompile(`Submitted from host <([^>]+)>`)
	submittedTimePattern       = regexp.MustCompile(`^(.*?): Submitted from host`)
	cwdPattern                 = regexp.MustCompile(`Submitted from host <[^>]*>, CWD <([^>]+)>`)
	processorsRequestedPattern = regexp.MustCompile(` ([1-9][0-9]*) Processors Requested`)
	requestedResourcesPattern  = regexp.MustCompile(`Requested Resources <(.+)>;`)
	spanHostsPattern           = regexp.MustCompile(`Requested Resources <.*span\[hosts=([1-9][0-9]*).*>`)
	rusageMemPattern           = regexp.MustCompile(`Requested Resources <.*rusage\[mem=([1-9][0-9]*).*>`)
	startedOnPattern           = regexp.MustCompile(`[sS]tarted on ([0-9]+ Hosts/Processors )?([^;,]+)`)
	startedTimePattern         = regexp.MustCompile(`^(.*?): [sS]tarted on`)
	finishedTimePattern        = regexp.MustCompile(`^(.*?): (Done successfully|Exited)`)
	cpuTimePattern             = regexp.MustCompile(`The CPU time used is ([0-9.]+) seconds`)
	memPattern                 = regexp.MustCompile(`MEM: ([0-9.]+) Mbytes`)
	pidsPattern                = regexp.MustCompile(`PIDs: ([0-9 ]+)`)
)

// ParseBjobsUF parses the output of "bjobs -UF" into jobs, in output order
func ParseBjobsUF(output string) []*Job {
	var (
		jobs    []*Job
		current *Job
		info    []string
	)

	flush := func() {
		if current != nil {
			current.Info = strings.Join(info, "\n")
		}
	}

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if jobNotFoundPattern.MatchString(line) {
			continue
		}

		if m := jobPattern.FindStringSubmatch(line); m != nil {
			flush()
			current = &Job{ID: m[1]}
			info = nil
			jobs = append(jobs, current)
		}
		if current == nil {
			continue
		}
		info = append(info, line)
		current.apply(line)
	}
	flush()

	return jobs
}

func (j *Job) apply(line string) {
	set := func(p *regexp.Regexp, group int, dst *string) {
		if m := p.FindStringSubmatch(line); m != nil {
			*dst = strings.TrimSpace(m[group])
		}
	}

	set(jobNamePattern, 1, &j.Name)
	set(userPattern, 1, &j.User)
	set(projectPattern, 1, &j.Project)
	set(statusPattern, 1, &j.Status)
	set(queuePattern, 1, &j.Queue)
	set(commandPattern, 1, &j.Command)
	set(submittedFromPattern, 1, &j.SubmittedFrom)
	set(submittedTimePattern, 1, &j.SubmittedTime)
	set(cwdPattern, 1, &j.CWD)
	set(processorsRequestedPattern, 1, &j.ProcessorsRequested)
	set(requestedResourcesPattern, 1, &j.RequestedResources)
	set(spanHostsPattern, 1, &j.SpanHosts)
	set(rusageMemPattern, 1, &j.RusageMem)
	set(startedTimePattern, 1, &j.StartedTime)
	set(finishedTimePattern, 1, &j.FinishedTime)
	set(cpuTimePattern, 1, &j.CPUTime)
	set(memPattern, 1, &j.Mem)

	if m := startedOnPattern.FindStringSubmatch(line); m != nil {
		hosts := strings.NewReplacer("<", "", ">", "").Replace(m[2])
		j.StartedOn = strings.Join(strings.Fields(hosts), " ")
	}

	if m := pidsPattern.FindStringSubmatch(line); m != nil {
		var pids []int
		for _, field := range strings.Fields(m[1]) {
			if pid, err := strconv.Atoi(field); err == nil {
				pids = append(pids, pid)
			}
		}
		j.PIDs = pids
	}
}
