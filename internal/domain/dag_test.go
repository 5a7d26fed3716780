package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestDAG_AddTaskRejectsInvalid(t *testing.T) {
	dag := NewDAG("d")
	require.Error(t, dag.AddTask(nil))
	require.Error(t, dag.AddTask(&Task{}))
	require.NoError(t, dag.AddTask(NewTask("a", SQLAgent, "x", 3)))
	require.Error(t, dag.AddTask(NewTask("a", SQLAgent, "y", 3)))
}

func TestDAG_AddEdge(t *testing.T) {
	dag := NewDAG("d")
	require.NoError(t, dag.AddTask(NewTask("a", SQLAgent, "", 1)))
	require.NoError(t, dag.AddTask(NewTask("b", SQLAgent, "", 1)))

	require.ErrorIs(t, dag.AddEdge("a", "missing"), ErrUnknownTask)
	require.ErrorIs(t, dag.AddEdge("a", "a"), ErrCycle)

	require.NoError(t, dag.AddEdge("a", "b"))
	require.NoError(t, dag.AddEdge("a", "b"))
	assert.Equal(t, []string{"b"}, dag.Edges["a"])
	assert.Equal(t, []string{"a"}, dag.ReverseEdges["b"])
}

func TestDAG_ValidateDetectsCycle(t *testing.T) {
	dag := NewDAG("d")
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, dag.AddTask(NewTask(id, SQLAgent, "", 1)))
	}
	require.NoError(t, dag.AddEdge("a", "b"))
	require.NoError(t, dag.AddEdge("b", "c"))
	require.NoError(t, dag.AddEdge("c", "a"))

	require.ErrorIs(t, dag.Validate(), ErrCycle)
	_, err := dag.TopologicalOrder()
	require.ErrorIs(t, err, ErrCycle)
}

func TestDAG_ValidateEmpty(t *testing.T) {
	require.Error(t, NewDAG("empty").Validate())
}

func TestDAG_TopologicalOrderPrefersPriority(t *testing.T) {
	low := NewTask("task-0", SQLAgent, "", 1)
	high := NewTask("task-1", NoSQLAgent, "", 5)
	dependent := NewTask("task-2", SQLAgent, "", 5)
	dependent.Dependencies = []string{"task-0"}

	dag, err := BuildDAG("run", []*Task{low, high, dependent})
	require.NoError(t, err)

	order, err := dag.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-0", "task-2"}, ids(order))
}

func TestBuildDAG_UnknownDependency(t *testing.T) {
	a := NewTask("a", SQLAgent, "", 1)
	a.Dependencies = []string{"ghost"}
	_, err := BuildDAG("run", []*Task{a})
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestDAG_Descendants(t *testing.T) {
	a := NewTask("a", SQLAgent, "", 1)
	b := NewTask("b", SQLAgent, "", 1)
	c := NewTask("c", SQLAgent, "", 1)
	d := NewTask("d", SQLAgent, "", 1)
	b.Dependencies = []string{"a"}
	c.Dependencies = []string{"b"}
	d.Dependencies = []string{"a", "c"}

	dag, err := BuildDAG("run", []*Task{a, b, c, d})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, dag.Descendants("a"))
	assert.Empty(t, dag.Descendants("d"))
}

func TestComputeCriticalPath(t *testing.T) {
	a := NewTask("a", SQLAgent, "", 1)
	b := NewTask("b", SQLAgent, "", 1)
	c := NewTask("c", SQLAgent, "", 1)
	lone := NewTask("lone", NoSQLAgent, "", 1)
	b.Dependencies = []string{"a"}
	c.Dependencies = []string{"b"}

	dag, err := BuildDAG("run", []*Task{a, b, c, lone})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(computeCriticalPath(dag)))
}
