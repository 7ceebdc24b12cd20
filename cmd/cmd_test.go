package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netdiag/internal/pattern"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	// flags keep their values between executions of the same command tree
	resetFlags()
	t.Cleanup(resetFlags)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags() {
	patternsOpts.nodes = nil
	patternsOpts.pattern = string(pattern.Ring)
	runOpts = runOptions{workload: "iperf3", pattern: string(pattern.Ring), reportDir: "test_results"}
}

func TestPatternsCommand(t *testing.T) {
	out, err := execute(t, "patterns")
	require.NoError(t, err)
	assert.Equal(t, "all-to-all\nring\n", out)

	out, err = execute(t, "patterns", "--pattern", "ring", "--nodes", "a,b,c")
	require.NoError(t, err)
	assert.Equal(t, "a->b\nb->c\nc->a\n3 edges\n", out)

	out, err = execute(t, "patterns", "--pattern", "all-to-all", "--nodes", "a,b")
	require.NoError(t, err)
	assert.Equal(t, "a->b\nb->a\n2 edges\n", out)

	out, err = execute(t, "patterns", "--pattern", "ring", "--nodes", "worker-1, worker-2 ,worker-3")
	require.NoError(t, err)
	assert.Equal(t, "worker-1->worker-2\nworker-2->worker-3\nworker-3->worker-1\n3 edges\n", out)

	_, err = execute(t, "patterns", "--pattern", "star", "--nodes", "a,b")
	assert.ErrorIs(t, err, pattern.ErrUnknownPattern)
}

func TestRunFlagValidation(t *testing.T) {
	t.Setenv("LOG_DIR", t.TempDir())

	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nodes")

	_, err = execute(t, "run", "--nodes", "a,b", "--report", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--report")

	_, err = execute(t, "run", "--nodes", "a,b", "--pattern", "star", "--log-level", "error")
	assert.ErrorIs(t, err, pattern.ErrUnknownPattern)
}

func TestTrimNodes(t *testing.T) {
	nodes, err := trimNodes([]string{"worker-1", " worker-2", "worker-3 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-1", "worker-2", "worker-3"}, nodes)

	_, err = trimNodes([]string{"worker-1", "  "})
	assert.Error(t, err)
}

func TestRunTrimsNodes(t *testing.T) {
	t.Setenv("LOG_DIR", t.TempDir())

	_, err := execute(t, "run", "--nodes", "worker-1, worker-2", "--pattern", "star")
	assert.ErrorIs(t, err, pattern.ErrUnknownPattern)
	assert.Equal(t, []string{"worker-1", "worker-2"}, runOpts.nodes)
}
