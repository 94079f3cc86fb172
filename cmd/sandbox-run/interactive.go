package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	sandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/runner"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	guestStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxConsoleLines = 200

type consoleEvent struct {
	kind string // "msg" or "log"
	text string
}

type consoleModel struct {
	runner  *runner.Runner
	handles *sandbox.PipeHandles
	events  chan consoleEvent
	input   textinput.Model
	lines   []string
	id      string
	err     error
	running bool
}

type guestEventMsg consoleEvent

type runDoneMsg struct {
	err error
}

func newConsoleModel(r *runner.Runner, handles *sandbox.PipeHandles, id string) *consoleModel {
	ti := textinput.New()
	ti.Placeholder = "payload to send"
	ti.Prompt = "-> "
	ti.Width = 60
	ti.Focus()

	events := make(chan consoleEvent, 64)
	handles.OnLog(func(msg string) {
		events <- consoleEvent{kind: "log", text: msg}
	})
	go func() {
		for payload := range handles.Output() {
			events <- consoleEvent{kind: "msg", text: string(payload)}
		}
	}()

	return &consoleModel{
		runner:  r,
		handles: handles,
		events:  events,
		input:   ti,
		id:      id,
		running: true,
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(m.runGuest, m.waitEvent)
}

func (m *consoleModel) runGuest() tea.Msg {
	return runDoneMsg{err: m.runner.Run(context.Background())}
}

func (m *consoleModel) waitEvent() tea.Msg {
	return guestEventMsg(<-m.events)
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			_ = m.runner.Close(context.Background())
			return m, tea.Quit

		case "enter":
			if value := strings.TrimSpace(m.input.Value()); value != "" && m.running {
				if err := m.handles.Push(context.Background(), []byte(value)); err != nil {
					m.appendLine(errorStyle.Render("push failed: " + err.Error()))
				} else {
					m.appendLine("-> " + value)
				}
				m.input.SetValue("")
			}
			return m, nil
		}

	case guestEventMsg:
		switch msg.kind {
		case "msg":
			m.appendLine(guestStyle.Render("<- " + msg.text))
		case "log":
			m.appendLine(logStyle.Render("   " + msg.text))
		}
		return m, m.waitEvent

	case runDoneMsg:
		m.running = false
		m.err = msg.err
		if msg.err != nil {
			m.appendLine(errorStyle.Render("loop stopped: " + msg.err.Error()))
		} else {
			m.appendLine(helpStyle.Render("loop finished"))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxConsoleLines {
		m.lines = m.lines[len(m.lines)-maxConsoleLines:]
	}
}

func (m *consoleModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sandbox Console"))
	b.WriteString(" ")
	b.WriteString(m.id)
	if !m.running {
		b.WriteString(errorStyle.Render("  [stopped]"))
	}
	b.WriteString("\n\n")

	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • ctrl+c quit"))

	return b.String()
}

func runInteractive(guestPath, cachePath, id, tags string, force, verbose bool) error {
	ctx := context.Background()

	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	handles := sandbox.NewPipeHandles(16)
	r, err := runner.New(ctx, runner.Config{
		ID:             id,
		Handles:        handles,
		LogTags:        tags,
		HasLogTags:     tags != "",
		GuestPath:      guestPath,
		CachePath:      cachePath,
		ForceRecompile: force,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = r.Close(context.Background()) }()

	p := tea.NewProgram(newConsoleModel(r, handles, id), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}
