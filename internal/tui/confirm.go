package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ChuLiYu/schedctl/internal/dispatch"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

// confirmRequest is a pending question from the dispatcher to the user
type confirmRequest struct {
	JobID   types.JobID
	Command dispatch.Command
	answer  chan bool
}

func (r confirmRequest) reply(ok bool) {
	select {
	case r.answer <- ok:
	default:
	}
}

type confirmMsg confirmRequest

// PromptConfirmer implements dispatch.Confirmer by asking the console user.
// Confirm blocks the dispatching goroutine until the dialog is answered or ctx ends.
type PromptConfirmer struct {
	requests chan confirmRequest
}

func NewPromptConfirmer() *PromptConfirmer {
	return &PromptConfirmer{requests: make(chan confirmRequest)}
}

func (p *PromptConfirmer) Confirm(ctx context.Context, id types.JobID, cmd dispatch.Command) bool {
	req := confirmRequest{JobID: id, Command: cmd, answer: make(chan bool, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return false
	}
	select {
	case ok := <-req.answer:
		return ok
	case <-ctx.Done():
		return false
	}
}

// wait delivers the next request into the update loop
func (p *PromptConfirmer) wait() tea.Cmd {
	return func() tea.Msg {
		return confirmMsg(<-p.requests)
	}
}
