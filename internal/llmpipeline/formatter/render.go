package formatter

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/olekukonko/tablewriter"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

// Output formats accepted by Render.
const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputTable = "table"
)

// Render writes resp in the named output format.
func Render(w io.Writer, format string, resp *domain.FinalResponse, maxRows int) error {
	switch strings.ToLower(format) {
	case OutputJSON:
		return RenderJSON(w, resp)
	case OutputTable:
		return RenderTable(w, resp, maxRows)
	case OutputText, "":
		return RenderText(w, resp, maxRows)
	}
	return fmt.Errorf("unknown output format %q (want text, json or table)", format)
}

// RenderJSON writes v as indented JSON with sorted map keys.
func RenderJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v, json.Deterministic(true), jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// RenderTable writes one table per task result.
func RenderTable(w io.Writer, resp *domain.FinalResponse, maxRows int) error {
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	writeHeader(w, resp)
	for _, r := range resp.Results() {
		writeResultHeading(w, r)
		if r.Error != "" {
			fmt.Fprintf(w, "Error: %s\n\n", r.Error)
			continue
		}
		if len(r.Rows) == 0 {
			fmt.Fprintf(w, "%s\n\n", FormatResult(r, maxRows))
			continue
		}

		columns := ColumnsOf(r)
		table := tablewriter.NewWriter(w)
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeader(columns)
		for _, row := range r.Rows[:min(maxRows, len(r.Rows))] {
			values := make([]string, len(columns))
			for i, col := range columns {
				values[i] = FormatValue(row[col])
			}
			table.Append(values)
		}
		table.Render()
		if len(r.Rows) > maxRows {
			fmt.Fprintf(w, "... and %d more rows\n", len(r.Rows)-maxRows)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// RenderText writes the synthesized answer when there is one, followed by a
// short summary of each result.
func RenderText(w io.Writer, resp *domain.FinalResponse, maxRows int) error {
	writeHeader(w, resp)
	if resp.Answer != "" {
		fmt.Fprintf(w, "%s\n\n", resp.Answer)
	}
	for _, r := range resp.Results() {
		writeResultHeading(w, r)
		if r.Query != "" {
			fmt.Fprintf(w, "Query: %s\n", r.Query)
		}
		fmt.Fprintf(w, "%s\n", strings.TrimRight(FormatResult(r, maxRows), "\n"))
	}
	return nil
}

// RenderPlan writes a plan as a task table.
func RenderPlan(w io.Writer, plan *domain.Plan) error {
	fmt.Fprintf(w, "Question: %s\n", plan.Question)
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"ID", "Agent", "Priority", "Depends on", "Task"})
	for _, t := range plan.Tasks {
		table.Append([]string{
			t.ID,
			string(t.Agent),
			strconv.Itoa(t.Priority),
			strings.Join(t.Dependencies, ", "),
			utils.Truncate(t.Definition, 80),
		})
	}
	table.Render()
	if len(plan.Context.RequiredData) > 0 {
		fmt.Fprintf(w, "Required data: %s\n", strings.Join(plan.Context.RequiredData, "; "))
	}
	fmt.Fprintf(w, "Retries per task: %d\n", plan.Context.ErrorHandling.RetryCount)
	return nil
}

// RenderRuns writes the run history as a table.
func RenderRuns(w io.Writer, runs []ports.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Run", "Started", "Status", "Duration", "Question"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.StartedAt,
			r.Status,
			strconv.FormatInt(r.DurationMS, 10) + "ms",
			utils.Truncate(r.Question, 60),
		})
	}
	table.Render()
	return nil
}

func writeHeader(w io.Writer, resp *domain.FinalResponse) {
	fmt.Fprintf(w, "Status: %s (%s)\n", resp.Status, utils.FormatDuration(resp.Duration))
	if resp.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", resp.Error)
	}
	fmt.Fprintln(w)
}

func writeResultHeading(w io.Writer, r *domain.TaskResult) {
	if r.Task == nil {
		fmt.Fprintf(w, "== %s ==\n", r.Status)
		return
	}
	fmt.Fprintf(w, "== %s [%s] %s: %s ==\n", r.Task.ID, r.Task.Agent, r.Status, utils.Truncate(r.Task.Definition, 80))
}
