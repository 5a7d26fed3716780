package slackbot

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/formatter"
	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

const fence = "```"

// FormatReply renders a run as Slack mrkdwn: the synthesized answer when
// there is one, then each task's query and rows in code blocks.
func FormatReply(resp *domain.FinalResponse, err error, maxRows int) string {
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("no response")
		}
		return ":warning: Sorry, I could not answer that: " + err.Error()
	}
	if resp.Status == domain.StatusError && len(resp.Results()) == 0 {
		msg := resp.Error
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return ":warning: Sorry, I could not answer that: " + msg
	}

	var b strings.Builder
	if resp.Answer != "" {
		b.WriteString(resp.Answer)
		b.WriteString("\n\n")
	}
	if resp.Status == domain.StatusPartial {
		b.WriteString(":warning: Some tasks failed; the results below are partial.\n\n")
	}
	for _, r := range resp.Results() {
		if r.Task != nil {
			fmt.Fprintf(&b, "*%s* _%s_: %s\n", r.Task.ID, r.Task.Agent, utils.Truncate(r.Task.Definition, 120))
		}
		if r.Query != "" {
			fmt.Fprintf(&b, "%s\n%s\n%s\n", fence, r.Query, fence)
		}
		fmt.Fprintf(&b, "%s\n%s\n%s\n", fence, strings.TrimRight(formatter.FormatResult(r, maxRows), "\n"), fence)
	}
	fmt.Fprintf(&b, "_%s in %s_", resp.Status, utils.FormatDuration(resp.Duration))
	return clip(b.String(), maxMessageLen)
}

// clip shortens text to n runes, closing a code block left open by the cut.
func clip(text string, n int) string {
	if len([]rune(text)) <= n {
		return text
	}
	out := utils.Truncate(text, n-len(fence)-1)
	if strings.Count(out, fence)%2 == 1 {
		out += "\n" + fence
	}
	return out
}
