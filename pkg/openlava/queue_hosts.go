package openlava

import (
	"regexp"
	"strings"
)

const allHostsMarker = "all hosts used by the OpenLava system"

var (
	queueLinePattern = regexp.MustCompile(`^QUEUE:\s*(\S+)\s*$`)
	hostsLinePattern = regexp.MustCompile(`^HOSTS:\s*(.*?)\s*$`)
)

// QueueHostSpec is the raw HOSTS declaration of one queue from "bqueues -l"
type QueueHostSpec struct {
	Queue string
	Hosts string
}

// AllHosts reports whether the queue spans every host in the cluster
func (s QueueHostSpec) AllHosts() bool {
	return strings.Contains(s.Hosts, allHostsMarker) || strings.TrimSpace(s.Hosts) == "all"
}

// Members splits the declaration into plain host names and host group names
// (written with a trailing slash, returned without it)
func (s QueueHostSpec) Members() (hosts, groups []string) {
	for _, field := range strings.Fields(s.Hosts) {
		if strings.HasSuffix(field, "/") {
			groups = append(groups, strings.TrimSuffix(field, "/"))
			continue
		}
		hosts = append(hosts, field)
	}
	return hosts, groups
}

// ParseQueueHosts parses the QUEUE/HOSTS blocks of "bqueues -l" in output order
func ParseQueueHosts(output string) []QueueHostSpec {
	var specs []QueueHostSpec
	current := -1

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if m := queueLinePattern.FindStringSubmatch(line); m != nil {
			specs = append(specs, QueueHostSpec{Queue: m[1]})
			current = len(specs) - 1
			continue
		}
		if current < 0 {
			continue
		}
		if m := hostsLinePattern.FindStringSubmatch(line); m != nil {
			specs[current].Hosts = m[1]
		}
	}
	return specs
}

// InvertQueueHosts maps each host to the queues it serves, in queue order
func InvertQueueHosts(queues []string, queueHosts map[string][]string) map[string][]string {
	hostQueues := make(map[string][]string)
	for _, queue := range queues {
		for _, host := range queueHosts[queue] {
			hostQueues[host] = append(hostQueues[host], queue)
		}
	}
	return hostQueues
}
