package domain

import (
	"fmt"
	"slices"
)

// DAG represents a Directed Acyclic Graph of Tasks.
type DAG struct {
	ID           string              // Unique identifier, usually the run ID
	Tasks        map[string]*Task    // Task ID -> task
	Edges        map[string][]string // Task ID -> IDs of tasks that depend on it
	ReverseEdges map[string][]string // Task ID -> IDs of tasks it depends on
}

// NewDAG creates a new DAG instance.
func NewDAG(id string) *DAG {
	return &DAG{
		ID:           id,
		Tasks:        make(map[string]*Task),
		Edges:        make(map[string][]string),
		ReverseEdges: make(map[string][]string),
	}
}

// BuildDAG creates a DAG from tasks, adding an edge for every declared
// dependency. Dependencies must reference tasks in the same slice.
func BuildDAG(id string, tasks []*Task) (*DAG, error) {
	dag := NewDAG(id)
	for _, t := range tasks {
		if err := dag.AddTask(t); err != nil {
			return nil, err
		}
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if err := dag.AddEdge(dep, t.ID); err != nil {
				return nil, err
			}
		}
	}
	if err := dag.Validate(); err != nil {
		return nil, err
	}
	return dag, nil
}

// AddTask adds a task (node) to the DAG.
func (d *DAG) AddTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("cannot add nil task to DAG")
	}
	if task.ID == "" {
		return fmt.Errorf("cannot add task with empty ID to DAG")
	}
	if _, exists := d.Tasks[task.ID]; exists {
		return fmt.Errorf("task with ID '%s' already exists in DAG '%s'", task.ID, d.ID)
	}
	d.Tasks[task.ID] = task
	d.Edges[task.ID] = make([]string, 0)
	d.ReverseEdges[task.ID] = make([]string, 0)
	return nil
}

// AddEdge records that fromTaskID must complete before toTaskID starts.
func (d *DAG) AddEdge(fromTaskID, toTaskID string) error {
	if _, exists := d.Tasks[fromTaskID]; !exists {
		return fmt.Errorf("%w: source task '%s' not found in DAG '%s'", ErrUnknownTask, fromTaskID, d.ID)
	}
	if _, exists := d.Tasks[toTaskID]; !exists {
		return fmt.Errorf("%w: destination task '%s' not found in DAG '%s'", ErrUnknownTask, toTaskID, d.ID)
	}
	if fromTaskID == toTaskID {
		return fmt.Errorf("%w: task '%s' depends on itself", ErrCycle, fromTaskID)
	}
	if slices.Contains(d.Edges[fromTaskID], toTaskID) {
		return nil
	}
	d.Edges[fromTaskID] = append(d.Edges[fromTaskID], toTaskID)
	d.ReverseEdges[toTaskID] = append(d.ReverseEdges[toTaskID], fromTaskID)
	return nil
}

// Validate checks the DAG is non-empty and acyclic.
func (d *DAG) Validate() error {
	if len(d.Tasks) == 0 {
		return fmt.Errorf("DAG '%s' has no tasks", d.ID)
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(d.Tasks))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("%w: %v", ErrCycle, append(path, id))
		case black:
			return nil
		}
		color[id] = grey
		for _, next := range d.Edges[id] {
			if err := visit(next, append(path, id)); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range d.sortedIDs() {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// TopologicalOrder returns the tasks so that every task follows its
// dependencies. Among tasks that are ready at the same time, higher
// priority comes first, then lower ID.
func (d *DAG) TopologicalOrder() ([]*Task, error) {
	inDegree := make(map[string]int, len(d.Tasks))
	for id := range d.Tasks {
		inDegree[id] = len(d.ReverseEdges[id])
	}

	ready := make([]*Task, 0, len(d.Tasks))
	for _, id := range d.sortedIDs() {
		if inDegree[id] == 0 {
			ready = append(ready, d.Tasks[id])
		}
	}

	order := make([]*Task, 0, len(d.Tasks))
	for len(ready) > 0 {
		slices.SortFunc(ready, compareTasks)
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, succ := range d.Edges[current.ID] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = append(ready, d.Tasks[succ])
			}
		}
	}

	if len(order) != len(d.Tasks) {
		return nil, fmt.Errorf("%w in DAG '%s'", ErrCycle, d.ID)
	}
	return order, nil
}

// Sources returns tasks with no dependencies, in dispatch order.
func (d *DAG) Sources() []*Task {
	var out []*Task
	for id, t := range d.Tasks {
		if len(d.ReverseEdges[id]) == 0 {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, compareTasks)
	return out
}

// Descendants returns every task reachable from id, excluding id itself.
func (d *DAG) Descendants(id string) []string {
	seen := map[string]bool{id: true}
	queue := slices.Clone(d.Edges[id])
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, d.Edges[cur]...)
	}
	slices.Sort(out)
	return out
}

func (d *DAG) sortedIDs() []string {
	ids := make([]string, 0, len(d.Tasks))
	for id := range d.Tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func compareTasks(a, b *Task) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
