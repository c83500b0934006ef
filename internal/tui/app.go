// Package tui is the rendering collaborator: a bubbletea app showing the
// chat sequence beside the tracker panel, with key commands driving the
// reconciliation engine.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"fable/internal/chat"
	"fable/internal/engine"
)

const (
	defaultAppWidth  = 100
	defaultAppHeight = 30
	panelWidth       = 42
)

// AppConfig configures the root bubbletea model.
type AppConfig struct {
	Version   string
	ModelName string
	ThemeName string
	Engine    *engine.Engine
	Store     *chat.Store
	Chats     []chat.ChatInfo
}

// populateProgressMsg reports bulk-population headway.
type populateProgressMsg struct {
	done  int
	total int
}

// populateDoneMsg reports a finished bulk-population run.
type populateDoneMsg struct {
	err error
}

// regenerateDoneMsg reports a finished single-message regeneration.
type regenerateDoneMsg struct {
	index int
	err   error
}

// chatLoadedMsg carries a freshly loaded chat.
type chatLoadedMsg struct {
	chat *chat.Chat
	err  error
}

// App is the root TUI model. Engine mutations triggered by key commands
// run on this model's Update goroutine; bulk population runs on its own
// goroutine and reports back exclusively through populateProgressMsg and
// populateDoneMsg read off the event channel.
type App struct {
	theme     Theme
	version   string
	modelName string

	engine *engine.Engine
	store  *chat.Store
	chats  []chat.ChatInfo

	chatIndex int
	selected  int
	width     int
	height    int

	populating     bool
	populateEvents chan tea.Msg
	progress       string
	status         string
	lastErr        string
}

// NewApp constructs the root TUI model.
func NewApp(cfg AppConfig) *App {
	return &App{
		theme:     ResolveTheme(cfg.ThemeName),
		version:   strings.TrimSpace(cfg.Version),
		modelName: strings.TrimSpace(cfg.ModelName),
		engine:    cfg.Engine,
		store:     cfg.Store,
		chats:     cfg.Chats,
	}
}

// Init loads the first chat, if any.
func (m *App) Init() tea.Cmd {
	if len(m.chats) == 0 {
		return nil
	}
	return m.loadChatCommand(0)
}

// Update routes terminal events and engine completions.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case chatLoadedMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		if err := m.engine.SwitchChat(msg.chat); err != nil {
			m.lastErr = err.Error()
			return m, nil
		}
		m.lastErr = ""
		m.selected = 0
		m.status = fmt.Sprintf("chat %s", msg.chat.ID)
		return m, nil

	case populateProgressMsg:
		m.progress = fmt.Sprintf("populating %d/%d", msg.done, msg.total)
		return m, readPopulateEventCommand(m.populateEvents)

	case populateDoneMsg:
		m.populating = false
		m.populateEvents = nil
		m.progress = ""
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		} else {
			m.status = "populate finished"
		}
		return m, nil

	case regenerateDoneMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		} else {
			m.status = fmt.Sprintf("regenerated message %d", msg.index)
		}
		return m, nil
	}

	return m, nil
}

func (m *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "j", "down":
		if c := m.engine.Chat(); c != nil && m.selected < len(c.Messages)-1 {
			m.selected++
		}
		return m, nil

	case "k", "up":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "tab":
		if m.populating || len(m.chats) < 2 {
			return m, nil
		}
		m.chatIndex = (m.chatIndex + 1) % len(m.chats)
		return m, m.loadChatCommand(m.chatIndex)

	case "r":
		if m.populating || m.engine.Chat() == nil {
			return m, nil
		}
		index := m.selected
		return m, func() tea.Msg {
			return regenerateDoneMsg{index: index, err: m.engine.Regenerate(context.Background(), index)}
		}

	case "p":
		if m.populating || m.engine.Chat() == nil {
			return m, nil
		}
		return m, m.startPopulate()

	case "d":
		if m.populating || m.engine.Chat() == nil {
			return m, nil
		}
		if err := m.engine.HandleDelete(m.selected); err != nil {
			m.lastErr = err.Error()
			return m, nil
		}
		if c := m.engine.Chat(); m.selected >= len(c.Messages) && m.selected > 0 {
			m.selected--
		}
		m.status = "message deleted"
		return m, nil

	case "x":
		if m.populating || m.engine.Chat() == nil {
			return m, nil
		}
		if err := m.engine.ClearState(m.selected); err != nil {
			m.lastErr = err.Error()
			return m, nil
		}
		m.status = "state cleared"
		return m, nil

	case "+", "=":
		return m.adjustSensitivity(1), nil

	case "-":
		return m.adjustSensitivity(-1), nil
	}

	return m, nil
}

// startPopulate launches the populate run on its own goroutine and hands
// back the command reading its first event. The run never touches the
// model directly; progress and completion arrive as messages.
func (m *App) startPopulate() tea.Cmd {
	m.populating = true
	m.progress = "populating..."

	events := make(chan tea.Msg, 16)
	m.populateEvents = events
	eng := m.engine
	go func() {
		err := eng.PopulateAll(context.Background(), func(done, total int) {
			events <- populateProgressMsg{done: done, total: total}
		})
		events <- populateDoneMsg{err: err}
		close(events)
	}()
	return readPopulateEventCommand(events)
}

// readPopulateEventCommand yields the next populate event as a message.
func readPopulateEventCommand(events chan tea.Msg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		return <-events
	}
}

func (m *App) adjustSensitivity(delta int) *App {
	affinity := m.engine.Affinity()
	affinity.Sensitivity += delta
	if affinity.Sensitivity < 1 {
		affinity.Sensitivity = 1
	}
	if affinity.Sensitivity > 10 {
		affinity.Sensitivity = 10
	}
	m.engine.SetAffinity(affinity)
	m.status = fmt.Sprintf("sensitivity %d (max shift %d)", affinity.Sensitivity, affinity.MaxShift())
	return m
}

func (m *App) loadChatCommand(index int) tea.Cmd {
	if index < 0 || index >= len(m.chats) {
		return nil
	}
	id := m.chats[index].ID
	return func() tea.Msg {
		loaded, err := m.store.Load(context.Background(), id)
		return chatLoadedMsg{chat: loaded, err: err}
	}
}

// View renders the status bar, the chat beside the tracker panel, and a
// help line.
func (m *App) View() string {
	width := m.width
	if width <= 0 {
		width = defaultAppWidth
	}
	height := m.height
	if height <= 0 {
		height = defaultAppHeight
	}

	status := m.renderStatusBar(width)
	body := m.renderBody(width, height-3)
	help := m.theme.MutedStyle.Render("j/k move · tab switch chat · r regenerate · p populate · d delete · x clear state · +/- sensitivity · q quit")
	return strings.Join([]string{status, body, help}, "\n")
}

func (m *App) renderStatusBar(width int) string {
	parts := []string{
		"fable " + fallbackText(m.version, "dev"),
		fallbackText(m.modelName, "unknown-model"),
		fmt.Sprintf("heart: %d", m.engine.Heart()),
	}
	if c := m.engine.Chat(); c != nil {
		parts = append(parts, "chat: "+c.ID)
	}
	if m.populating {
		parts = append(parts, fallbackText(m.progress, "populating..."))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	line := strings.Join(parts, " | ")
	style := m.theme.StatusBarStyle
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(line)
}

func (m *App) renderBody(width, height int) string {
	c := m.engine.Chat()
	if c == nil {
		return m.theme.MutedStyle.Render("no chat loaded")
	}

	chatWidth := width - panelWidth
	if chatWidth < 20 {
		chatWidth = 20
	}

	var rows []string
	start := 0
	if height > 0 && len(c.Messages) > height {
		start = len(c.Messages) - height
		if m.selected < start {
			start = m.selected
		}
	}
	for i := start; i < len(c.Messages); i++ {
		if height > 0 && len(rows) >= height {
			break
		}
		rows = append(rows, m.renderMessageRow(i, &c.Messages[i], chatWidth))
	}
	chatView := strings.Join(rows, "\n")

	panelBody := RenderStatePanel(m.engine.State(m.selected), m.engine.Affinity(), m.theme)
	if m.lastErr != "" {
		panelBody += "\n" + m.theme.ErrorStyle.Render(m.lastErr)
	}
	panel := m.theme.PanelStyle.Width(panelWidth - 4).Render(panelBody)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatView, panel)
}

func (m *App) renderMessageRow(index int, msg *chat.Message, width int) string {
	prefix := m.theme.AssistantPrefixStyle.Render("char")
	if msg.FromUser {
		prefix = m.theme.UserPrefixStyle.Render("you ")
	}

	text := strings.ReplaceAll(msg.DisplayText(), "\n", " ")

	marker := "  "
	if m.engine.State(index) != nil {
		marker = "◆ "
	}

	row := fmt.Sprintf("%s%s %s", marker, prefix, text)
	row = lipgloss.NewStyle().MaxWidth(width).Render(row)
	if index == m.selected {
		return m.theme.SelectedRowStyle.Render(row)
	}
	return row
}

func fallbackText(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
