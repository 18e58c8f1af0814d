// Package tui is a terminal chat client for the question answering pipeline.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"regulation-rag/internal/models"
)

// Answerer is the TUI-facing subset of the RAG service
type Answerer interface {
	Query(ctx context.Context, message string, history []models.Turn) (*models.Response, error)
}

type entry struct {
	turn    models.Turn
	sources []models.Citation
}

type answerMsg struct {
	question string
	resp     *models.Response
	err      error
}

// Model is the Bubble Tea model of the chat screen
type Model struct {
	ctx        context.Context
	answerer   Answerer
	title      string
	input      textinput.Model
	viewport   viewport.Model
	transcript []entry
	history    []models.Turn
	status     string
	waiting    bool
	ready      bool
}

func New(ctx context.Context, answerer Answerer, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the regulations and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:      ctx,
		answerer: answerer,
		title:    title,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Ready. Ctrl+C to quit.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(question string) tea.Cmd {
	history := append([]models.Turn(nil), m.history...)
	return func() tea.Msg {
		resp, err := m.answerer.Query(m.ctx, question, history)
		return answerMsg{question: question, resp: resp, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // title, input line, input frame, status
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			question := strings.TrimSpace(m.input.Value())
			if question == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.waiting = true
			m.status = "Thinking..."
			m.transcript = append(m.transcript, entry{turn: models.Turn{Role: models.RoleUser, Content: question}})
			m.refresh()
			return m, m.ask(question)
		}

	case answerMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.refresh()
			return m, nil
		}
		reply := models.Turn{Role: models.RoleAssistant, Content: msg.resp.Answer}
		m.transcript = append(m.transcript, entry{turn: reply, sources: msg.resp.Sources})
		m.history = append(m.history, models.Turn{Role: models.RoleUser, Content: msg.question}, reply)
		m.status = fmt.Sprintf("%d source(s)", len(msg.resp.Sources))
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := titleStyle.Render(m.title)
	body := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return title + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return "No messages yet."
	}
	var sb strings.Builder
	for i, e := range m.transcript {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if e.turn.Role == models.RoleUser {
			sb.WriteString(userStyle.Render("You: "))
		} else {
			sb.WriteString(assistantStyle.Render("Assistant: "))
		}
		sb.WriteString(e.turn.Content)
		for _, s := range e.sources {
			sb.WriteString("\n")
			sb.WriteString(sourceStyle.Render(formatCitation(s)))
		}
	}
	return sb.String()
}

func formatCitation(c models.Citation) string {
	if c.URL == "" {
		return "  • " + c.Name
	}
	return fmt.Sprintf("  • %s (%s)", c.Name, c.URL)
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
