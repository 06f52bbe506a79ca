package opregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fbuildd/pkg/types"
)

func TestRegisterOperation_StartsQueued(t *testing.T) {
	r := New(10)
	opID := r.RegisterOperation(types.RequestBuild, "/proj", "uno", 123, "req-1")
	require.NotEmpty(t, opID)

	op, ok := r.GetOperation(opID)
	require.True(t, ok)
	assert.Equal(t, types.OperationQueued, op.State)
	assert.Equal(t, "/proj", op.ProjectDir)
	assert.Nil(t, op.StartedAt)
	assert.Nil(t, op.CompletedAt)
}

func TestUpdateState_StampsStartedAndCompleted(t *testing.T) {
	r := New(10)
	opID := r.RegisterOperation(types.RequestBuild, "/proj", "uno", 1, "req-1")

	assert.True(t, r.UpdateState(opID, types.OperationRunning, UpdateFields{}))
	op, _ := r.GetOperation(opID)
	assert.NotNil(t, op.StartedAt)
	assert.Nil(t, op.CompletedAt)

	assert.True(t, r.UpdateState(opID, types.OperationCompleted, UpdateFields{Result: "ok"}))
	op, _ = r.GetOperation(opID)
	assert.NotNil(t, op.CompletedAt)
	assert.Equal(t, "ok", op.Result)
}

func TestUpdateState_UnknownOperationReturnsFalse(t *testing.T) {
	r := New(10)
	assert.False(t, r.UpdateState("missing", types.OperationRunning, UpdateFields{}))
}

func TestUpdateState_AppendsSubprocessAndCompileJobIDs(t *testing.T) {
	r := New(10)
	opID := r.RegisterOperation(types.RequestBuild, "/proj", "uno", 1, "req-1")

	r.UpdateState(opID, types.OperationRunning, UpdateFields{SubprocessID: "pid-1"})
	r.UpdateState(opID, types.OperationRunning, UpdateFields{CompileJobID: "job-1"})

	op, _ := r.GetOperation(opID)
	assert.Equal(t, []string{"pid-1"}, op.SubprocessIDs)
	assert.Equal(t, []string{"job-1"}, op.CompileJobIDs)
}

func TestGetActiveOperations_ExcludesTerminal(t *testing.T) {
	r := New(10)
	running := r.RegisterOperation(types.RequestBuild, "/proj-a", "uno", 1, "req-1")
	done := r.RegisterOperation(types.RequestBuild, "/proj-b", "uno", 1, "req-2")

	r.UpdateState(running, types.OperationRunning, UpdateFields{})
	r.UpdateState(done, types.OperationCompleted, UpdateFields{})

	active := r.GetActiveOperations()
	require.Len(t, active, 1)
	assert.Equal(t, running, active[0].OperationID)
}

func TestGetOperationsByProject_FiltersByProjectDir(t *testing.T) {
	r := New(10)
	r.RegisterOperation(types.RequestBuild, "/proj-a", "uno", 1, "req-1")
	r.RegisterOperation(types.RequestBuild, "/proj-b", "uno", 1, "req-2")
	r.RegisterOperation(types.RequestDeploy, "/proj-a", "uno", 1, "req-3")

	ops := r.GetOperationsByProject("/proj-a")
	assert.Len(t, ops, 2)
}

func TestIsProjectBusy_TrueOnlyWhileNonTerminal(t *testing.T) {
	r := New(10)
	opID := r.RegisterOperation(types.RequestBuild, "/proj", "uno", 1, "req-1")

	assert.True(t, r.IsProjectBusy("/proj"))

	r.UpdateState(opID, types.OperationCompleted, UpdateFields{})
	assert.False(t, r.IsProjectBusy("/proj"))
}

func TestEviction_DropsOldestTerminalBeyondMaxHistory(t *testing.T) {
	r := New(2)

	var ids []string
	for i := 0; i < 5; i++ {
		id := r.RegisterOperation(types.RequestBuild, "/proj", "uno", 1, "req")
		r.UpdateState(id, types.OperationCompleted, UpdateFields{})
		ids = append(ids, id)
	}

	stats := r.GetStatistics()
	assert.LessOrEqual(t, stats.Terminal, 2)

	_, ok := r.GetOperation(ids[0])
	assert.False(t, ok, "oldest terminal operation should have been evicted")

	_, ok = r.GetOperation(ids[len(ids)-1])
	assert.True(t, ok, "most recent operation should still be retained")
}

func TestGetStatistics_CountsActiveAndTerminal(t *testing.T) {
	r := New(10)
	a := r.RegisterOperation(types.RequestBuild, "/proj", "uno", 1, "req-1")
	r.RegisterOperation(types.RequestBuild, "/proj", "uno", 1, "req-2")
	r.UpdateState(a, types.OperationCompleted, UpdateFields{})

	stats := r.GetStatistics()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Terminal)
}
