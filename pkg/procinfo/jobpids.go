package procinfo

import (
	"regexp"
)

// The openlava res daemon forks one child per job; its command line ends with
// the job file name <time>.<jobid>[.<index>].
var resCommandPattern = regexp.MustCompile(`^.*/sbin/res .*/[0-9]+\.([0-9]+)(\.([0-9]+))?$`)

// ResJobID extracts the job id served by a res process, "123" or "123[4]" for array elements
func ResJobID(cmdline string) (string, bool) {
	m := resCommandPattern.FindStringSubmatch(cmdline)
	if m == nil {
		return "", false
	}
	if m[3] != "" {
		return m[1] + "[" + m[3] + "]", true
	}
	return m[1], true
}

// JobPIDsFromTree finds the res process serving jobID and returns it with all its descendants
func JobPIDsFromTree(procs []*ProcessInfo, jobID string) []int32 {
	for _, p := range procs {
		if p.Name != "res" {
			continue
		}
		if id, ok := ResJobID(p.Cmdline); ok && id == jobID {
			return append([]int32{p.PID}, p.Children...)
		}
	}
	return nil
}
