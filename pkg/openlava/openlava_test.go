package openlava

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bqueuesOutput = `QUEUE_NAME     PRIO      STATUS      MAX  JL/U JL/P JL/H NJOBS  PEND  RUN  SUSP
normal          30    Open:Active      -    -    -    -     1     0     1     0
short           40    Open:Active      -    -    -    -     0     0     0     0
`

const lshostsOutput = `HOST_NAME      type    model  cpuf ncpus maxmem maxswp server RESOURCES
lavaHost1     linux  IntelI5 100.0     2  7807M  5119M    Yes (cs) (fs)
lavaHost2     linux
`

const bjobsUFOutput = `Job <205>, Job Name <sim_run>, User <liyanqing>, Project <default>, Status <DONE>, Queue <normal>, Command <sleep 1000>
Sun May 13 18:08:26: Submitted from host <lavaHost1>, CWD <$HOME/work>, 2 Processors Requested, Requested Resources <rusage[mem=1234] span[hosts=1]>;
Sun May 13 18:08:27: Started on 2 Hosts/Processors <lavaHost1> <lavaHost2>, Execution Home </home/liyanqing>, Execution CWD </home/liyanqing/work>;
Sun May 13 18:10:26: Done successfully. The CPU time used is 0.4 seconds.

SCHEDULING PARAMETERS:
          r15s   r1m  r15m   ut      pg    io   ls    it    tmp    swp    mem
loadSched   -     -     -     -       -     -    -     -     -      -      -

Job <206[3]>, User <alice>, Project <default>, Status <RUN>, Queue <short>, Command <make -j4>
Sun May 13 18:09:00: Submitted from host <lavaHost2>, CWD </tmp>;
Sun May 13 18:09:01: Started on <lavaHost2>, Execution Home </home/alice>, Execution CWD </tmp>;
Sun May 13 18:12:00: Resource usage collected. The CPU time used is 95 seconds. MEM: 512 Mbytes; SWAP: 600 Mbytes; NTHREAD: 5 PGID: 3120; PIDs: 3120 3121 3125
Job <999> is not found
`

const bqueuesLongOutput = `
QUEUE: normal
  -- For normal low priority jobs, running only if hosts are lightly loaded.

PARAMETERS/STATISTICS
PRIO NICE STATUS          MAX JL/U JL/P JL/H NJOBS  PEND   RUN SSUSP USUSP  RSV
 30   20  Open:Active       -    -    -    -     1     0     1     0     0    0

USERS: all users
HOSTS:  all hosts used by the OpenLava system

QUEUE: gpu
PRIO NICE STATUS
USERS: all users
HOSTS:  gpu_grp/ lavaHost9

QUEUE: short
HOSTS:  lavaHost1
`

const bhostsOutput = `HOST_NAME          STATUS       JL/U    MAX  NJOBS    RUN  SSUSP  USUSP    RSV
lavaHost1          ok              -      2      1      1      0      0      0
lavaHost2          closed          -      2      2      2      0      0      0
`

const bhostsGroupOutput = `HOST_NAME          STATUS       JL/U    MAX  NJOBS    RUN  SSUSP  USUSP    RSV
gpu01              ok              -      8      0      0      0      0      0
gpu02              ok              -      8      0      0      0      0      0
`

type call struct {
	stdout string
	stderr string
	err    error
}

type scriptedRunner struct {
	calls map[string]call
	seen  []string
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.seen = append(r.seen, line)
	c, ok := r.calls[line]
	if !ok {
		return "", "command not found", errors.New("exit status 127")
	}
	return c.stdout, c.stderr, c.err
}

func TestParseTable(t *testing.T) {
	table := ParseTable(bqueuesOutput)

	assert.Equal(t, []string{"QUEUE_NAME", "PRIO", "STATUS", "MAX", "JL/U", "JL/P", "JL/H", "NJOBS", "PEND", "RUN", "SUSP"}, table.Header)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"normal", "short"}, table.Column("QUEUE_NAME"))
	assert.Equal(t, "Open:Active", table.Get(0, "STATUS"))
	assert.Nil(t, table.Column("MISSING"))
	assert.Equal(t, "", table.Get(5, "STATUS"))
}

func TestParseTable_RaggedRows(t *testing.T) {
	table := ParseTable(lshostsOutput)

	require.Equal(t, 2, table.Len())
	assert.Equal(t, "(cs) (fs)", table.Get(0, "RESOURCES"), "surplus values merge into the last column")
	assert.Equal(t, "linux", table.Get(1, "type"))
	assert.Equal(t, "", table.Get(1, "maxmem"), "missing values stay empty")
	assert.Len(t, table.Rows[1], len(table.Header))
}

func TestParseTable_Empty(t *testing.T) {
	table := ParseTable("\n\n")
	assert.Nil(t, table.Header)
	assert.Equal(t, 0, table.Len())
}

func TestParseBjobsUF(t *testing.T) {
	jobs := ParseBjobsUF(bjobsUFOutput)
	require.Len(t, jobs, 2)

	done := jobs[0]
	assert.Equal(t, "205", done.ID)
	assert.Equal(t, "sim_run", done.Name)
	assert.Equal(t, "liyanqing", done.User)
	assert.Equal(t, "default", done.Project)
	assert.Equal(t, StatusDone, done.Status)
	assert.Equal(t, "normal", done.Queue)
	assert.Equal(t, "sleep 1000", done.Command)
	assert.Equal(t, "lavaHost1", done.SubmittedFrom)
	assert.Equal(t, "Sun May 13 18:08:26", done.SubmittedTime)
	assert.Equal(t, "$HOME/work", done.CWD)
	assert.Equal(t, "2", done.ProcessorsRequested)
	assert.Equal(t, "rusage[mem=1234] span[hosts=1]", done.RequestedResources)
	assert.Equal(t, "1", done.SpanHosts)
	assert.Equal(t, "1234", done.RusageMem)
	assert.Equal(t, "lavaHost1 lavaHost2", done.StartedOn)
	assert.Equal(t, []string{"lavaHost1", "lavaHost2"}, done.StartedHosts())
	assert.Equal(t, "Sun May 13 18:08:27", done.StartedTime)
	assert.Equal(t, "Sun May 13 18:10:26", done.FinishedTime)
	assert.Equal(t, "0.4", done.CPUTime)
	assert.True(t, done.Finished())
	assert.Empty(t, done.PIDs)

	running := jobs[1]
	assert.Equal(t, "206[3]", running.ID)
	assert.Equal(t, "", running.Name, "absent fields stay empty")
	assert.Equal(t, StatusRunning, running.Status)
	assert.Equal(t, "lavaHost2", running.StartedOn)
	assert.Equal(t, "95", running.CPUTime)
	assert.Equal(t, "512", running.Mem)
	assert.Equal(t, []int{3120, 3121, 3125}, running.PIDs)
	assert.False(t, running.Finished())
	assert.NotContains(t, running.Info, "is not found")
}

func TestParseBjobsUF_SubmissionCWD(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name: "execution cwd does not replace submission cwd",
			output: "Job <7>, User <bob>, Status <RUN>, Queue <normal>, Command <make>\n" +
				"Mon May 14 09:00:00: Submitted from host <lavaHost1>, CWD </home/bob/src>;\n" +
				"Mon May 14 09:00:01: Started on <lavaHost2>, Execution Home </home/bob>, Execution CWD </scratch/bob>;\n",
			want: "/home/bob/src",
		},
		{
			name: "execution cwd alone is ignored",
			output: "Job <8>, User <bob>, Status <RUN>, Queue <normal>, Command <make>\n" +
				"Mon May 14 09:00:01: Started on <lavaHost2>, Execution Home </home/bob>, Execution CWD </scratch/bob>;\n",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := ParseBjobsUF(tt.output)
			require.Len(t, jobs, 1)
			assert.Equal(t, tt.want, jobs[0].CWD)
		})
	}
}

func TestParseQueueHosts(t *testing.T) {
	specs := ParseQueueHosts(bqueuesLongOutput)
	require.Len(t, specs, 3)

	assert.Equal(t, "normal", specs[0].Queue)
	assert.True(t, specs[0].AllHosts())

	hosts, groups := specs[1].Members()
	assert.Equal(t, []string{"lavaHost9"}, hosts)
	assert.Equal(t, []string{"gpu_grp"}, groups)

	assert.Equal(t, "lavaHost1", specs[2].Hosts)
}

func TestClient_QueueHosts(t *testing.T) {
	runner := &scriptedRunner{calls: map[string]call{
		"bqueues -l":        {stdout: bqueuesLongOutput},
		"bhosts -w":         {stdout: bhostsOutput},
		"bhosts -w gpu_grp": {stdout: bhostsGroupOutput},
	}}
	client := NewClient(runner)

	queues, queueHosts, err := client.QueueHosts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"normal", "gpu", "short"}, queues)
	assert.Equal(t, []string{"lavaHost1", "lavaHost2"}, queueHosts["normal"])
	assert.Equal(t, []string{"lavaHost9", "gpu01", "gpu02"}, queueHosts["gpu"])
	assert.Equal(t, []string{"lavaHost1"}, queueHosts["short"])

	hostQueues := InvertQueueHosts(queues, queueHosts)
	assert.Equal(t, []string{"normal", "short"}, hostQueues["lavaHost1"])
	assert.Equal(t, []string{"gpu"}, hostQueues["gpu01"])
}

func TestClient_JobQueries(t *testing.T) {
	runner := &scriptedRunner{calls: map[string]call{
		"bjobs -u all -w":                  {stdout: "JOBID   USER    STAT  QUEUE      FROM_HOST   EXEC_HOST   JOB_NAME   SUBMIT_TIME\n205     alice   RUN   normal     lavaHost1   lavaHost1   sim        May 13 18:08\n"},
		"bjobs -u all -r -m lavaHost2 -UF": {stderr: "No unfinished job found\n", err: errors.New("exit status 255")},
		"bjobs -UF 205 999":                {stdout: bjobsUFOutput, stderr: "Job <999> is not found\n", err: errors.New("exit status 255")},
		"bqueues -w":                       {stderr: "LSF is down\n", err: errors.New("exit status 255")},
	}}
	client := NewClient(runner)
	ctx := context.Background()

	ids, err := client.JobList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"205"}, ids)

	running, err := client.RunningJobs(ctx, "lavaHost2")
	require.NoError(t, err)
	assert.Empty(t, running)

	jobs, err := client.Jobs(ctx, []string{"205", "999"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	none, err := client.Jobs(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = client.Queues(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LSF is down")
}

func TestExecRunner(t *testing.T) {
	runner := &ExecRunner{}

	stdout, _, err := runner.Run(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", stdout)

	_, _, err = runner.Run(context.Background(), "false")
	assert.Error(t, err)
}
