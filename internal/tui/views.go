package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ChuLiYu/schedctl/internal/query"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

const timeLayout = "2006-01-02 15:04"

func (a *App) View() string {
	var content string
	switch a.screen {
	case screenResolving:
		content = "\n  " + a.spinner.View() + " checking session..."
	case screenLogin:
		content = a.loginView()
	case screenJobs:
		content = a.renderTabs() + "\n\n" + a.jobsView()
	case screenLogs:
		content = a.renderTabs() + "\n\n" + a.logsView()
	}

	if a.confirm != nil {
		content = a.confirmView()
	}

	var footer string
	switch {
	case a.screen == screenJobs:
		a.help.ShowAll = a.showHelp
		footer = a.help.View(jobsHelp{a.keys})
	case a.screen == screenLogs:
		a.help.ShowAll = a.showHelp
		footer = a.help.View(logsHelp{a.keys})
	}

	parts := []string{a.header(), content, a.statusBar()}
	if footer != "" {
		parts = append(parts, footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) header() string {
	title := titleStyle.Render("schedctl")
	if id, ok := a.deps.Session.Identity(); ok {
		return title + mutedStyle.Render(fmt.Sprintf("  %s (%s)", id.Name, id.ID))
	}
	return title
}

func (a *App) renderTabs() string {
	jobs := inactiveTab.Render("Jobs")
	logs := inactiveTab.Render("Logs")
	if a.screen == screenJobs {
		jobs = activeTab.Render("Jobs")
	} else {
		logs = activeTab.Render("Logs")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, jobs, logs)
}

func (a *App) statusBar() string {
	width := a.width
	if width <= 0 {
		width = 80
	}
	return statusBarBase.Width(width).Render(" " + a.status)
}

func (a *App) loginView() string {
	var b strings.Builder
	b.WriteString("\n  " + headerStyle.Render("Sign in") + "\n\n")
	b.WriteString("  " + a.idInput.View() + "\n")
	b.WriteString("  " + a.pwInput.View() + "\n\n")
	switch {
	case a.loggingIn:
		b.WriteString("  " + a.spinner.View() + " signing in...\n")
	case a.loginErr != "":
		b.WriteString("  " + errorStyle.Render(a.loginErr) + "\n")
	default:
		b.WriteString("  " + mutedStyle.Render("tab to switch field, enter to sign in, esc to quit") + "\n")
	}
	return b.String()
}

func (a *App) confirmView() string {
	body := fmt.Sprintf("Delete job #%d?\n\nThis cannot be undone.\n\n", a.confirm.JobID) +
		mutedStyle.Render("y confirm · n/esc cancel")
	return "\n" + dialogStyle.Render(body)
}

func (a *App) jobsView() string {
	view := a.deps.Jobs.View()
	var b strings.Builder

	if view.Error != "" {
		b.WriteString(errorStyle.Render(view.Error) + "\n")
	}
	if view.Loading && len(view.Jobs) == 0 {
		b.WriteString(a.spinner.View() + " loading jobs...\n")
		return b.String()
	}
	if len(view.Jobs) == 0 {
		b.WriteString(mutedStyle.Render("no jobs") + "\n")
		return b.String()
	}

	a.jobCursor = clampCursor(a.jobCursor, len(view.Jobs))
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-6s %-22s %-16s %-7s %-7s %s", "ID", "NAME", "CRON", "METHOD", "STATUS", "URL")) + "\n")
	for i, j := range view.Jobs {
		marker := "  "
		if a.deps.Dispatcher.Busy(j.ID) {
			marker = a.spinner.View()
		}
		line := fmt.Sprintf("%-6d %-22s %-16s %-7s %-7s %s",
			j.ID, truncate(j.Name, 22), truncate(j.Cron, 16), j.Method, j.Status, truncate(j.URL, 40))
		if i == a.jobCursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(marker + line + "\n")
	}
	return b.String()
}

func (a *App) logsView() string {
	view := a.deps.Logs.View()
	var b strings.Builder

	b.WriteString(filterSummary(view.Filter, a.deps.Jobs.View().Options()) + "\n")
	if a.inputMode != inputNone {
		label := "from"
		if a.inputMode == inputTo {
			label = "to"
		}
		b.WriteString(label + ": " + a.dateInput.View() + "\n")
	}
	b.WriteString("\n")

	if view.Loading {
		b.WriteString(a.spinner.View() + " loading logs...\n")
		return b.String()
	}
	if view.Error != "" {
		b.WriteString(errorStyle.Render(view.Error) + "\n")
		return b.String()
	}
	if len(view.Items) == 0 {
		b.WriteString(mutedStyle.Render("no data") + "\n")
		return b.String()
	}

	a.logCursor = clampCursor(a.logCursor, len(view.Items))
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s %-6s %-8s %-5s %-17s %s", "ID", "JOB", "STATUS", "HTTP", "AT", "MESSAGE")) + "\n")
	for i, l := range view.Items {
		line := fmt.Sprintf("%-8d %-6d %-8s %-5s %-17s %s",
			l.ID, l.JobID, l.Status, httpStatus(l), l.CreatedAt.UTC().Format(timeLayout), truncate(message(l), 60))
		if i == a.logCursor {
			line = selectedStyle.Render(line)
		} else if l.Status == types.LogError {
			line = errorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	pages := view.Pages()
	if pages < 1 {
		pages = 1
	}
	a.pager.TotalPages = pages
	a.pager.Page = view.Page - 1
	b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("page %s · %d logs", a.pager.View(), view.Total)) + "\n")
	return b.String()
}

func filterSummary(f query.FilterState, jobs []query.JobOption) string {
	job := "all"
	if f.JobID != 0 {
		job = fmt.Sprintf("#%d", f.JobID)
		for _, opt := range jobs {
			if opt.ID == f.JobID {
				job = fmt.Sprintf("#%d %s", opt.ID, opt.Name)
				break
			}
		}
	}
	from, to := "-", "-"
	if !f.From.IsZero() {
		from = f.From.UTC().Format(timeLayout)
	}
	if !f.To.IsZero() {
		to = f.To.UTC().Format(timeLayout)
	}
	return mutedStyle.Render(fmt.Sprintf("status %s · job %s · from %s · to %s · %d per page",
		strings.ToLower(string(f.Status)), job, from, to, f.Limit))
}

func httpStatus(l types.Log) string {
	if l.HTTPStatus == nil {
		return "-"
	}
	return fmt.Sprint(*l.HTTPStatus)
}

func message(l types.Log) string {
	if l.Message == nil {
		return ""
	}
	return strings.ReplaceAll(*l.Message, "\n", " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
