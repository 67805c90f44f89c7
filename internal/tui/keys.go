package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	quit       key.Binding
	up         key.Binding
	down       key.Binding
	switchView key.Binding
	refresh    key.Binding
	logout     key.Binding
	toggleHelp key.Binding

	// jobs
	start  key.Binding
	pause  key.Binding
	runNow key.Binding
	delete key.Binding

	// logs
	prevPage     key.Binding
	nextPage     key.Binding
	cycleStatus  key.Binding
	cycleJob     key.Binding
	editFrom     key.Binding
	editTo       key.Binding
	resetFilters key.Binding
	copyMessage  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		switchView: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "jobs/logs"),
		),
		refresh: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "refresh"),
		),
		logout: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "logout"),
		),
		toggleHelp: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start"),
		),
		pause: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pause"),
		),
		runNow: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "run now"),
		),
		delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
		prevPage: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "prev page"),
		),
		nextPage: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "next page"),
		),
		cycleStatus: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "status filter"),
		),
		cycleJob: key.NewBinding(
			key.WithKeys("J"),
			key.WithHelp("J", "job filter"),
		),
		editFrom: key.NewBinding(
			key.WithKeys("["),
			key.WithHelp("[", "from"),
		),
		editTo: key.NewBinding(
			key.WithKeys("]"),
			key.WithHelp("]", "to"),
		),
		resetFilters: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "reset filters"),
		),
		copyMessage: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "copy message"),
		),
	}
}

// jobsHelp and logsHelp implement help.KeyMap for each screen
type jobsHelp struct{ k keyMap }

func (h jobsHelp) ShortHelp() []key.Binding {
	return []key.Binding{h.k.start, h.k.pause, h.k.runNow, h.k.delete, h.k.switchView, h.k.toggleHelp, h.k.quit}
}

func (h jobsHelp) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{h.k.up, h.k.down, h.k.switchView},
		{h.k.start, h.k.pause, h.k.runNow, h.k.delete},
		{h.k.refresh, h.k.logout, h.k.toggleHelp, h.k.quit},
	}
}

type logsHelp struct{ k keyMap }

func (h logsHelp) ShortHelp() []key.Binding {
	return []key.Binding{h.k.prevPage, h.k.nextPage, h.k.cycleStatus, h.k.cycleJob, h.k.resetFilters, h.k.switchView, h.k.toggleHelp, h.k.quit}
}

func (h logsHelp) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{h.k.up, h.k.down, h.k.prevPage, h.k.nextPage},
		{h.k.cycleStatus, h.k.cycleJob, h.k.editFrom, h.k.editTo, h.k.resetFilters},
		{h.k.copyMessage, h.k.refresh, h.k.switchView},
		{h.k.logout, h.k.toggleHelp, h.k.quit},
	}
}
