package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jharju/weft/internal/contextstore"
)

// priorityRank orders inbox sections: direct first, then mentions, then
// system notices.
var priorityRank = map[string]int{
	contextstore.PriorityDirect:  0,
	contextstore.PriorityMention: 1,
	contextstore.PrioritySystem:  2,
}

// buildPrompt assembles the run prompt: prelude, inbox, recent public
// activity, the project line, and a retry notice when applicable.
func (c *Controller) buildPrompt(inbox []contextstore.InboxMessage, attempt int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are agent %q in workflow %q. Communicate with your team through the channel tools; acknowledge handled messages with my_inbox_ack.\n", c.name, c.cfg.Workflow)

	b.WriteString("\n## Inbox\n")
	if len(inbox) == 0 {
		b.WriteString("(empty)\n")
	} else {
		ordered := make([]contextstore.InboxMessage, len(inbox))
		copy(ordered, inbox)
		sort.SliceStable(ordered, func(i, j int) bool {
			return priorityRank[ordered[i].Priority] < priorityRank[ordered[j].Priority]
		})
		for _, m := range ordered {
			fmt.Fprintf(&b, "From @%s: %s\n", m.From, m.Content)
		}
	}

	recent, err := c.store.ReadChannel(contextstore.ReadOptions{
		Agent: c.name,
		Limit: c.cfg.ActivityWindow,
	})
	if err != nil {
		return "", err
	}
	b.WriteString("\n## Recent Activity\n")
	if len(recent) == 0 {
		b.WriteString("(none)\n")
	} else {
		for _, m := range recent {
			fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp, m.From, m.Content)
		}
	}

	if c.cfg.ProjectDir != "" {
		fmt.Fprintf(&b, "\nWorking on: %s\n", c.cfg.ProjectDir)
	}
	if attempt > 1 {
		fmt.Fprintf(&b, "\nThis is retry attempt %d of %d.\n", attempt, c.cfg.Retry.MaxAttempts)
	}
	return b.String(), nil
}
