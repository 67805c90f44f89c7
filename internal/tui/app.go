package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/paginator"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ChuLiYu/schedctl/internal/dispatch"
	"github.com/ChuLiYu/schedctl/internal/query"
	"github.com/ChuLiYu/schedctl/internal/session"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

var log = slog.Default()

type screen int

const (
	screenResolving screen = iota
	screenLogin
	screenJobs
	screenLogs
)

type inputMode int

const datePlaceholder = "2006-01-02 15:04 | 15:04 | empty to clear"

const (
	inputNone inputMode = iota
	inputFrom
	inputTo
)

// Deps are the components the console drives. Session, Dispatcher, Jobs and Logs are required.
type Deps struct {
	Session    *session.Manager
	Dispatcher *dispatch.Dispatcher
	Jobs       *query.JobList
	Logs       *query.Controller
	// Confirmer must be the one the Dispatcher was built with
	Confirmer *PromptConfirmer
	Clipboard func(string) error
}

type (
	changedMsg   struct{}
	resolvedMsg  struct{ status session.Status }
	loginDoneMsg struct{ result types.Result }
)

type actionDoneMsg struct {
	id      types.JobID
	command dispatch.Command
	result  types.Result
}

type App struct {
	deps    Deps
	ctx     context.Context
	cancel  context.CancelFunc
	keys    keyMap
	changed chan struct{}

	screen   screen
	width    int
	height   int
	status   string
	showHelp bool

	idInput   textinput.Model
	pwInput   textinput.Model
	loggingIn bool
	loginErr  string

	jobCursor int
	logCursor int

	dateInput textinput.Model
	inputMode inputMode

	confirm *confirmRequest

	spinner spinner.Model
	help    help.Model
	pager   paginator.Model
}

func NewApp(deps Deps) *App {
	if deps.Clipboard == nil {
		deps.Clipboard = clipboard.WriteAll
	}
	ctx, cancel := context.WithCancel(context.Background())

	id := textinput.New()
	id.Prompt = "id:       "
	id.Placeholder = "user id"
	id.CharLimit = 64
	id.Focus()

	pw := textinput.New()
	pw.Prompt = "password: "
	pw.EchoMode = textinput.EchoPassword
	pw.EchoCharacter = '•'
	pw.CharLimit = 128

	date := textinput.New()
	date.Placeholder = datePlaceholder
	date.CharLimit = 16

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = titleStyle

	pg := paginator.New()
	pg.Type = paginator.Arabic
	pg.PerPage = 1
	pg.TotalPages = 1

	a := &App{
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		keys:      newKeyMap(),
		changed:   make(chan struct{}, 1),
		screen:    screenResolving,
		idInput:   id,
		pwInput:   pw,
		dateInput: date,
		spinner:   sp,
		help:      help.New(),
		pager:     pg,
	}

	// controllers call back from their own goroutines; coalesce into one wake-up
	notify := func() {
		select {
		case a.changed <- struct{}{}:
		default:
		}
	}
	deps.Session.OnChange(func(session.Status) { notify() })
	deps.Jobs.OnChange(func(query.JobView) { notify() })
	deps.Logs.OnChange(func(query.View) { notify() })
	return a
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.resolve(), a.waitForChange(), a.spinner.Tick, textinput.Blink}
	if a.deps.Confirmer != nil {
		cmds = append(cmds, a.deps.Confirmer.wait())
	}
	return tea.Batch(cmds...)
}

// --- Commands ---

func (a *App) resolve() tea.Cmd {
	s, ctx := a.deps.Session, a.ctx
	return func() tea.Msg {
		return resolvedMsg{status: s.Resolve(ctx)}
	}
}

func (a *App) waitForChange() tea.Cmd {
	ch, ctx := a.changed, a.ctx
	return func() tea.Msg {
		select {
		case <-ch:
			return changedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) submitLogin() tea.Cmd {
	if a.loggingIn {
		return nil
	}
	id := strings.TrimSpace(a.idInput.Value())
	pw := a.pwInput.Value()
	if id == "" || pw == "" {
		a.loginErr = "id and password are required"
		return nil
	}
	a.loggingIn = true
	a.loginErr = ""

	s, ctx := a.deps.Session, a.ctx
	return func() tea.Msg {
		return loginDoneMsg{result: s.Login(ctx, id, pw)}
	}
}

func (a *App) dispatch(cmd dispatch.Command) tea.Cmd {
	job, ok := a.selectedJob()
	if !ok {
		return nil
	}
	if a.deps.Dispatcher.Busy(job.ID) {
		a.status = fmt.Sprintf("job #%d is busy", job.ID)
		return nil
	}
	a.status = fmt.Sprintf("%s job #%d...", cmd, job.ID)

	d, ctx := a.deps.Dispatcher, a.ctx
	return func() tea.Msg {
		return actionDoneMsg{id: job.ID, command: cmd, result: d.Dispatch(ctx, job.ID, cmd)}
	}
}

func (a *App) quit() tea.Cmd {
	if a.confirm != nil {
		a.confirm.reply(false)
		a.confirm = nil
	}
	a.cancel()
	return tea.Quit
}

// Close cancels actions started from the console
func (a *App) Close() {
	a.cancel()
}

// --- Update ---

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case resolvedMsg:
		return a, a.syncSession()

	case changedMsg:
		return a, tea.Batch(a.syncSession(), a.waitForChange())

	case loginDoneMsg:
		a.loggingIn = false
		if !msg.result.OK {
			a.loginErr = msg.result.Error
			a.pwInput.SetValue("")
		}
		return a, a.syncSession()

	case actionDoneMsg:
		if msg.result.OK {
			a.status = fmt.Sprintf("%s job #%d: done", msg.command, msg.id)
		} else {
			a.status = fmt.Sprintf("%s job #%d: %s", msg.command, msg.id, msg.result.Error)
		}
		return a, nil

	case confirmMsg:
		req := confirmRequest(msg)
		a.confirm = &req
		return a, nil

	case tea.KeyMsg:
		return a, a.handleKey(msg)
	}

	return a, a.updateInputs(msg)
}

// syncSession moves between screens when the session status changes
func (a *App) syncSession() tea.Cmd {
	switch a.deps.Session.Status() {
	case session.StatusLoggedIn:
		if a.screen == screenResolving || a.screen == screenLogin {
			a.screen = screenJobs
			a.loginErr = ""
			a.idInput.Blur()
			a.pwInput.Blur()
			a.pwInput.SetValue("")
			a.deps.Jobs.Refresh()
			a.deps.Logs.Refresh()
		}
	case session.StatusLoggedOut:
		if a.screen != screenLogin {
			if a.screen != screenResolving {
				a.status = "logged out"
			}
			a.screen = screenLogin
			a.inputMode = inputNone
			a.pwInput.Blur()
			return a.idInput.Focus()
		}
	}
	return nil
}

func (a *App) updateInputs(msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	if a.screen == screenLogin {
		a.idInput, cmd = a.idInput.Update(msg)
		cmds = append(cmds, cmd)
		a.pwInput, cmd = a.pwInput.Update(msg)
		cmds = append(cmds, cmd)
	}
	if a.inputMode != inputNone {
		a.dateInput, cmd = a.dateInput.Update(msg)
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		return a.quit()
	}

	if a.confirm != nil {
		switch msg.String() {
		case "y", "Y":
			a.confirm.reply(true)
		case "n", "N", "esc", "enter":
			a.confirm.reply(false)
			a.status = "delete cancelled"
		default:
			return nil
		}
		a.confirm = nil
		return a.deps.Confirmer.wait()
	}

	if a.showHelp {
		a.showHelp = false
		return nil
	}

	switch a.screen {
	case screenResolving:
		if key.Matches(msg, a.keys.quit) {
			return a.quit()
		}
		return nil
	case screenLogin:
		return a.handleLoginKey(msg)
	}

	if a.inputMode != inputNone {
		return a.handleDateKey(msg)
	}

	switch {
	case key.Matches(msg, a.keys.quit):
		return a.quit()
	case key.Matches(msg, a.keys.toggleHelp):
		a.showHelp = true
		return nil
	case key.Matches(msg, a.keys.switchView):
		if a.screen == screenJobs {
			a.screen = screenLogs
		} else {
			a.screen = screenJobs
		}
		return nil
	case key.Matches(msg, a.keys.logout):
		a.deps.Session.Logout()
		return a.syncSession()
	case key.Matches(msg, a.keys.refresh):
		if a.screen == screenJobs {
			a.deps.Jobs.Refresh()
		} else {
			a.deps.Logs.Refresh()
		}
		return nil
	}

	if a.screen == screenJobs {
		return a.handleJobsKey(msg)
	}
	return a.handleLogsKey(msg)
}

func (a *App) handleLoginKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		return a.quit()
	case "tab", "shift+tab", "up", "down":
		return a.toggleLoginFocus()
	case "enter":
		if a.idInput.Focused() && a.pwInput.Value() == "" {
			return a.toggleLoginFocus()
		}
		return a.submitLogin()
	}

	var cmd tea.Cmd
	if a.idInput.Focused() {
		a.idInput, cmd = a.idInput.Update(msg)
	} else {
		a.pwInput, cmd = a.pwInput.Update(msg)
	}
	return cmd
}

func (a *App) toggleLoginFocus() tea.Cmd {
	if a.idInput.Focused() {
		a.idInput.Blur()
		return a.pwInput.Focus()
	}
	a.pwInput.Blur()
	return a.idInput.Focus()
}

func (a *App) handleJobsKey(msg tea.KeyMsg) tea.Cmd {
	n := len(a.deps.Jobs.View().Jobs)
	switch {
	case key.Matches(msg, a.keys.up):
		a.jobCursor = clampCursor(a.jobCursor-1, n)
	case key.Matches(msg, a.keys.down):
		a.jobCursor = clampCursor(a.jobCursor+1, n)
	case key.Matches(msg, a.keys.start):
		return a.dispatch(dispatch.CommandStart)
	case key.Matches(msg, a.keys.pause):
		return a.dispatch(dispatch.CommandPause)
	case key.Matches(msg, a.keys.runNow):
		return a.dispatch(dispatch.CommandRun)
	case key.Matches(msg, a.keys.delete):
		return a.dispatch(dispatch.CommandDelete)
	}
	return nil
}

func (a *App) handleLogsKey(msg tea.KeyMsg) tea.Cmd {
	logs := a.deps.Logs
	view := logs.View()
	switch {
	case key.Matches(msg, a.keys.up):
		a.logCursor = clampCursor(a.logCursor-1, len(view.Items))
	case key.Matches(msg, a.keys.down):
		a.logCursor = clampCursor(a.logCursor+1, len(view.Items))
	case key.Matches(msg, a.keys.prevPage):
		if view.Page > 1 {
			a.logCursor = 0
			logs.SetPage(view.Page - 1)
		}
	case key.Matches(msg, a.keys.nextPage):
		if view.Page < view.Pages() {
			a.logCursor = 0
			logs.SetPage(view.Page + 1)
		}
	case key.Matches(msg, a.keys.cycleStatus):
		logs.SetStatusFilter(nextStatus(view.Filter.Status))
	case key.Matches(msg, a.keys.cycleJob):
		logs.SetJobFilter(nextJob(view.Filter.JobID, a.deps.Jobs.View().Options()))
	case key.Matches(msg, a.keys.resetFilters):
		logs.ResetFilters()
	case key.Matches(msg, a.keys.editFrom):
		return a.openDateInput(inputFrom, view.Filter.From)
	case key.Matches(msg, a.keys.editTo):
		return a.openDateInput(inputTo, view.Filter.To)
	case key.Matches(msg, a.keys.copyMessage):
		a.copySelected(view.Items)
	}
	return nil
}

func (a *App) copySelected(items []types.Log) {
	if a.logCursor >= len(items) {
		return
	}
	entry := items[a.logCursor]
	if entry.Message == nil || *entry.Message == "" {
		a.status = fmt.Sprintf("log #%d has no message", entry.ID)
		return
	}
	if err := a.deps.Clipboard(*entry.Message); err != nil {
		log.Warn("clipboard write failed", "error", err)
		a.status = "clipboard unavailable"
		return
	}
	a.status = fmt.Sprintf("copied message of log #%d", entry.ID)
}

func (a *App) handleDateKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.inputMode = inputNone
		a.dateInput.Blur()
		return nil
	case "enter":
		if err := applyDateInput(a.deps.Logs, a.inputMode, a.dateInput.Value()); err != nil {
			a.status = err.Error()
			return nil
		}
		a.inputMode = inputNone
		a.dateInput.Blur()
		return nil
	}
	var cmd tea.Cmd
	a.dateInput, cmd = a.dateInput.Update(msg)
	return cmd
}

func (a *App) openDateInput(mode inputMode, current time.Time) tea.Cmd {
	a.inputMode = mode
	a.dateInput.SetValue("")
	a.dateInput.Placeholder = datePlaceholder
	if !current.IsZero() {
		a.dateInput.Placeholder = current.UTC().Format(timeLayout)
	}
	return a.dateInput.Focus()
}

func (a *App) selectedJob() (types.Job, bool) {
	jobs := a.deps.Jobs.View().Jobs
	if len(jobs) == 0 {
		return types.Job{}, false
	}
	a.jobCursor = clampCursor(a.jobCursor, len(jobs))
	return jobs[a.jobCursor], true
}

// --- Helpers ---

func clampCursor(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func nextStatus(s query.StatusFilter) query.StatusFilter {
	switch s {
	case query.StatusAll:
		return query.StatusSuccess
	case query.StatusSuccess:
		return query.StatusError
	}
	return query.StatusAll
}

// nextJob cycles ALL -> each job -> ALL
func nextJob(current types.JobID, options []query.JobOption) types.JobID {
	if current == 0 {
		if len(options) == 0 {
			return 0
		}
		return options[0].ID
	}
	for i, opt := range options {
		if opt.ID == current && i+1 < len(options) {
			return options[i+1].ID
		}
	}
	return 0
}

// applyDateInput accepts "2006-01-02", "2006-01-02 15:04", "15:04" or "" to clear
func applyDateInput(c *query.Controller, mode inputMode, raw string) error {
	setDate, setTime, clearDate := c.SetFromDate, c.SetFromTime, c.ClearFromDate
	if mode == inputTo {
		setDate, setTime, clearDate = c.SetToDate, c.SetToTime, c.ClearToDate
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		clearDate()
		return nil
	}

	datePart, timePart, hasTime := strings.Cut(raw, " ")
	if strings.Contains(datePart, ":") {
		h, m, err := query.ParseClock(datePart)
		if err != nil {
			return err
		}
		setTime(h, m)
		return nil
	}

	d, err := query.ParseDate(datePart)
	if err != nil {
		return err
	}
	var h, m int
	if hasTime {
		if h, m, err = query.ParseClock(timePart); err != nil {
			return err
		}
	}
	setDate(d)
	if hasTime {
		setTime(h, m)
	}
	return nil
}
