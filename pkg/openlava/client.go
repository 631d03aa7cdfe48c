package openlava

import (
	"context"
	"fmt"
	"strings"

	"lavamon/pkg/logger"
)

// Client queries the scheduler through its command line tools
type Client struct {
	runner Runner
}

// NewClient creates a new scheduler client
func NewClient(runner Runner) *Client {
	return &Client{runner: runner}
}

// noJobMessages are printed (with a nonzero exit) when a job query has no answer
var noJobMessages = []string{"No unfinished job found", "No job found", "is not found"}

func (c *Client) run(ctx context.Context, name string, args ...string) (string, error) {
	stdout, stderr, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := strings.TrimSpace(stderr); msg != "" {
			return stdout, fmt.Errorf("%w: %s", err, msg)
		}
		return stdout, err
	}
	return stdout, nil
}

// runJobs tolerates the nonzero exit bjobs uses for empty or partially unknown answers
func (c *Client) runJobs(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := c.runner.Run(ctx, "bjobs", args...)
	if err == nil {
		return stdout, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	for _, msg := range noJobMessages {
		if strings.Contains(stderr, msg) || strings.Contains(stdout, msg) {
			return stdout, nil
		}
	}
	return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
}

// Queues returns "bqueues -w"
func (c *Client) Queues(ctx context.Context) (*Table, error) {
	out, err := c.run(ctx, "bqueues", "-w")
	if err != nil {
		return nil, err
	}
	return ParseTable(out), nil
}

// Hosts returns "bhosts -w", optionally limited to a host group
func (c *Client) Hosts(ctx context.Context, group string) (*Table, error) {
	args := []string{"-w"}
	if group != "" {
		args = append(args, group)
	}
	out, err := c.run(ctx, "bhosts", args...)
	if err != nil {
		return nil, err
	}
	return ParseTable(out), nil
}

// Load returns "lsload -w"
func (c *Client) Load(ctx context.Context) (*Table, error) {
	out, err := c.run(ctx, "lsload", "-w")
	if err != nil {
		return nil, err
	}
	return ParseTable(out), nil
}

// Users returns "busers all"
func (c *Client) Users(ctx context.Context) (*Table, error) {
	out, err := c.run(ctx, "busers", "all")
	if err != nil {
		return nil, err
	}
	return ParseTable(out), nil
}

// JobList returns the ids from "bjobs -u all -w", or from "bjobs -w <ids>" when ids are given
func (c *Client) JobList(ctx context.Context, ids ...string) ([]string, error) {
	args := []string{"-u", "all", "-w"}
	if len(ids) > 0 {
		args = append([]string{"-w"}, ids...)
	}
	out, err := c.runJobs(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseTable(out).Column("JOBID"), nil
}

// RunningJobs returns "bjobs -u all -r -UF", limited to one execution host when host is set
func (c *Client) RunningJobs(ctx context.Context, host string) ([]*Job, error) {
	args := []string{"-u", "all", "-r"}
	if host != "" {
		args = append(args, "-m", host)
	}
	out, err := c.runJobs(ctx, append(args, "-UF")...)
	if err != nil {
		return nil, err
	}
	return ParseBjobsUF(out), nil
}

// Jobs returns "bjobs -UF <ids>"
func (c *Client) Jobs(ctx context.Context, ids []string) ([]*Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := c.runJobs(ctx, append([]string{"-UF"}, ids...)...)
	if err != nil {
		return nil, err
	}
	return ParseBjobsUF(out), nil
}

// QueueHosts maps each queue to the hosts it dispatches to, expanding host
// groups and the all-hosts declaration
func (c *Client) QueueHosts(ctx context.Context) (queues []string, queueHosts map[string][]string, err error) {
	out, err := c.run(ctx, "bqueues", "-l")
	if err != nil {
		return nil, nil, err
	}

	var allHosts []string
	groups := make(map[string][]string)
	queueHosts = make(map[string][]string)

	for _, spec := range ParseQueueHosts(out) {
		queues = append(queues, spec.Queue)

		if spec.AllHosts() {
			if allHosts == nil {
				logger.WarnCtx(ctx, "queue %s spans all hosts, the openlava queue configuration has no host list", spec.Queue)
				table, err := c.Hosts(ctx, "")
				if err != nil {
					return nil, nil, err
				}
				allHosts = table.Column("HOST_NAME")
			}
			queueHosts[spec.Queue] = append([]string(nil), allHosts...)
			continue
		}

		hosts, groupNames := spec.Members()
		for _, group := range groupNames {
			members, ok := groups[group]
			if !ok {
				table, err := c.Hosts(ctx, group)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to expand host group %s: %w", group, err)
				}
				members = table.Column("HOST_NAME")
				groups[group] = members
			}
			hosts = append(hosts, members...)
		}
		queueHosts[spec.Queue] = hosts
	}
	return queues, queueHosts, nil
}
