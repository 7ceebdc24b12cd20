package diagnostic

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var testInfo = RunInfo{Workload: "iperf3", Pattern: "ring", Nodes: []string{"a", "b"}, Namespace: "autopilot"}

func TestCreateRunReport(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	report := CreateRunReport(testInfo, map[string]int{"edges": 2}, true, []string{"net1 Average Bandwidth Gb/s: 9.40"}, nil, start, end)
	_, err := uuid.Parse(report.ExecutionInfo.RunID)
	assert.NoError(t, err)
	assert.Equal(t, "default", report.ExecutionInfo.KubeconfigSource)
	assert.Equal(t, "PASSED", report.Summary.OverallStatus)
	assert.Equal(t, 90.0, report.Summary.TotalExecutionTimeSeconds)
	assert.Empty(t, report.Summary.ErrorsEncountered)

	failed := CreateRunReport(testInfo, nil, true, nil, errors.New("prepare phase failed"), start, end)
	assert.Equal(t, "FAILED", failed.Summary.OverallStatus)
	assert.Equal(t, []string{"prepare phase failed"}, failed.Summary.ErrorsEncountered)
	assert.NotEqual(t, report.ExecutionInfo.RunID, failed.ExecutionInfo.RunID)

	assert.Equal(t, "FAILED", CreateRunReport(testInfo, nil, false, nil, nil, start, end).Summary.OverallStatus)
}

func TestWriteReport(t *testing.T) {
	report := CreateRunReport(testInfo, map[string]int{"edges": 2}, true, nil, nil, time.Now(), time.Now())

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, &report, "json"))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, map[string]interface{}{"edges": 2.0}, decoded["result"])

	buf.Reset()
	require.NoError(t, WriteReport(&buf, &report, "yaml"))
	var fromYAML RunReportJSON
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, report.ExecutionInfo, fromYAML.ExecutionInfo)

	assert.ErrorIs(t, WriteReport(&buf, &report, "xml"), ErrUnknownFormat)
}

func TestSaveReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	report := CreateRunReport(testInfo, nil, true, nil, nil, time.Now(), time.Now())

	path, err := SaveReport(dir, &report, "yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, report.ExecutionInfo.Filename), path)
	assert.Equal(t, ".yaml", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "overall_status: PASSED")

	_, err = SaveReport(dir, &report, "csv")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
