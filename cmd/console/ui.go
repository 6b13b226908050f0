package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/preset"
	"github.com/jwebster45206/gm-engine/pkg/speech"
	"github.com/muesli/reflow/wordwrap"
)

const (
	AgentName       = "Narrator"
	PlaceHolderText = "What do you do?"
)

type entryKind int

const (
	entryUser entryKind = iota
	entryNarration
	entryError
	entryInfo
)

// entry is one block of the transcript. Narration carries speaker
// segments when they could be fetched.
type entry struct {
	kind     entryKind
	text     string
	segments []speech.Segment
}

type pickerStage int

const (
	pickWorld pickerStage = iota
	pickCharacter
	creating
)

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	client       *http.Client
	session      *sessionView
	transcript   []entry
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error
	loading      bool
	ended        bool

	// Preset picker state
	showPicker bool
	stage      pickerStage
	worlds     []preset.World
	characters []preset.Character
	selected   int
	worldID    string

	// Quit confirmation state
	showQuitModal bool

	// Progress bar state
	progressTick int
}

type worldsLoadedMsg struct {
	worlds []preset.World
	err    error
}

type charactersLoadedMsg struct {
	characters []preset.Character
	err        error
}

type sessionCreatedMsg struct {
	session *sessionView
	err     error
}

type turnResultMsg struct {
	response *chat.TurnResponse
	segments []speech.Segment
	err      error
}

type sessionMsg struct {
	session *sessionView
	err     error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey
)

func NewConsoleUI(cfg *ConsoleConfig, client *http.Client) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:       cfg,
		client:       client,
		textarea:     ta,
		chatViewport: chatVp,
		metaViewport: metaVp,
		showPicker:   true,
		loading:      true,
	}
}

func writeMetadata(s *sessionView) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SESSION") + "\n\n")

	content.WriteString("Session ID:\n")
	content.WriteString(s.ID.String()[:8] + "...\n\n")

	content.WriteString("Language:\n")
	content.WriteString(s.Language + "\n\n")

	content.WriteString("Turns:\n")
	content.WriteString(fmt.Sprintf("%d played\n\n", s.Turns))

	content.WriteString("Characters:\n")
	if len(s.Characters) == 0 {
		content.WriteString("None met yet\n")
	}
	for _, ch := range s.Characters {
		content.WriteString(fmt.Sprintf("• %s (%s)\n", ch.Name, ch.Gender))
	}

	if s.EndedAt != nil {
		content.WriteString("\n" + errorStyle.Render("The story has ended.") + "\n")
	}

	content.WriteString("\n")
	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• Enter: Send\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• /cast: Characters\n")
	content.WriteString("• /copy: Copy last reply\n")

	return content.String()
}

// writeChatContent rebuilds the transcript for the current viewport width
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6 // Account for left(3) + right(3) padding

	var content strings.Builder
	content.WriteString(titleStyle.Render("GM ENGINE") + "\n\n")
	content.WriteString("Type your actions below to play.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", max(chatWidth-6, 1))) + "\n\n")

	for _, e := range m.transcript {
		switch e.kind {
		case entryUser:
			content.WriteString(userStyle.Render("You: ") + wordwrap.String(e.text, chatWidth-6) + "\n\n")
		case entryNarration:
			content.WriteString(formatNarration(e, chatWidth) + "\n\n")
		case entryError:
			content.WriteString(errorStyle.Render("Error: "+e.text) + "\n\n")
		case entryInfo:
			content.WriteString(e.text + "\n")
		}
	}

	if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

// formatNarration renders one reply. With segments each spoken line gets
// its speaker label; otherwise the whole reply is the narrator's.
func formatNarration(e entry, width int) string {
	if len(e.segments) == 0 {
		prefix := AgentName + ": "
		return narratorStyle.Render(prefix) + wordwrap.String(e.text, width-len(prefix))
	}

	var lines []string
	for _, seg := range e.segments {
		if seg.Speaker == speech.Narrator {
			lines = append(lines, wordwrap.String(seg.Text, width))
			continue
		}
		prefix := seg.Speaker + ": "
		lines = append(lines, speakerStyle.Render(prefix)+wordwrap.String(seg.Text, width-len(prefix)))
	}
	return strings.Join(lines, "\n")
}

func (m *ConsoleUI) layout() {
	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6

	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

func (m ConsoleUI) Init() tea.Cmd {
	return m.loadWorlds()
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showPicker {
		return m.updatePicker(msg)
	}
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.writeChatContent()
		if m.session != nil {
			m.metaViewport.SetContent(writeMetadata(m.session))
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}

			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			if m.ended {
				m.textarea.Reset()
				m.transcript = append(m.transcript, entry{kind: entryError, text: "the story has ended"})
				m.writeChatContent()
				return m, nil
			}

			m.textarea.Reset()
			m.loading = true
			m.progressTick = 0
			m.transcript = append(m.transcript, entry{kind: entryUser, text: input})
			m.writeChatContent()

			return m, tea.Batch(m.sendTurn(input), progressTick())
		}

	case turnResultMsg:
		m.loading = false
		if msg.err != nil {
			m.transcript = append(m.transcript, entry{kind: entryError, text: msg.err.Error()})
			m.writeChatContent()
			return m, nil
		}
		m.transcript = append(m.transcript, entry{
			kind:     entryNarration,
			text:     msg.response.Message,
			segments: msg.segments,
		})
		m.ended = msg.response.Ended
		m.writeChatContent()
		return m, m.refreshSession()

	case sessionMsg:
		if msg.err == nil && msg.session != nil {
			m.session = msg.session
			m.metaViewport.SetContent(writeMetadata(m.session))
		}

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	cmd := strings.ToLower(strings.TrimSpace(input))

	switch cmd {
	case "/help":
		m.transcript = append(m.transcript, entry{kind: entryInfo, text: titleStyle.Render("Help:") + `
• /help - Show this help
• /cast - List the characters you have met
• /copy - Copy the last reply to the clipboard
• Ctrl+C - Quit game

How to play:
• Describe what your character does and press Enter
• The game master decides what happens and the narrator tells you
`})

	case "/cast":
		var b strings.Builder
		b.WriteString(titleStyle.Render("Characters:") + "\n")
		if m.session == nil || len(m.session.Characters) == 0 {
			b.WriteString("No characters yet.\n")
		} else {
			for _, ch := range m.session.Characters {
				b.WriteString(fmt.Sprintf("• %s: %s\n", speakerStyle.Render(ch.Name), ch.Description))
			}
		}
		m.transcript = append(m.transcript, entry{kind: entryInfo, text: b.String()})

	case "/copy":
		last := ""
		for i := len(m.transcript) - 1; i >= 0; i-- {
			if m.transcript[i].kind == entryNarration {
				last = m.transcript[i].text
				break
			}
		}
		switch {
		case last == "":
			m.transcript = append(m.transcript, entry{kind: entryError, text: "nothing to copy yet"})
		case clipboard.Unsupported:
			m.transcript = append(m.transcript, entry{kind: entryError, text: "clipboard is not available on this system"})
		default:
			if err := clipboard.WriteAll(last); err != nil {
				m.transcript = append(m.transcript, entry{kind: entryError, text: err.Error()})
			} else {
				m.transcript = append(m.transcript, entry{kind: entryInfo, text: promptStyle.Render("Copied last reply.")})
			}
		}

	default:
		m.transcript = append(m.transcript, entry{kind: entryError, text: "unknown command " + cmd})
	}

	m.textarea.Reset()
	m.writeChatContent()
	return m, nil
}

func (m ConsoleUI) sendTurn(message string) tea.Cmd {
	id := m.session.ID
	return func() tea.Msg {
		resp, err := playTurn(m.client, m.config.APIBaseURL, id, message)
		if err != nil {
			return turnResultMsg{err: err}
		}
		var segs []speech.Segment
		if m.config.Speakers {
			// A failed segmentation only loses the speaker labels.
			segs, _ = getSegments(m.client, m.config.APIBaseURL, id, resp.Sequence)
		}
		return turnResultMsg{response: resp, segments: segs}
	}
}

func (m ConsoleUI) refreshSession() tea.Cmd {
	id := m.session.ID
	return func() tea.Msg {
		s, err := getSession(m.client, m.config.APIBaseURL, id)
		return sessionMsg{s, err}
	}
}

func (m ConsoleUI) loadWorlds() tea.Cmd {
	return func() tea.Msg {
		worlds, err := listWorlds(m.client, m.config.APIBaseURL)
		return worldsLoadedMsg{worlds, err}
	}
}

func (m ConsoleUI) loadCharacters(worldID string) tea.Cmd {
	return func() tea.Msg {
		chars, err := listCharacters(m.client, m.config.APIBaseURL, worldID)
		return charactersLoadedMsg{chars, err}
	}
}

func (m ConsoleUI) startSession(worldID, characterID string) tea.Cmd {
	return func() tea.Msg {
		s, err := createSession(m.client, m.config.APIBaseURL, worldID, characterID, m.config.Language)
		return sessionCreatedMsg{s, err}
	}
}

func (m ConsoleUI) pickerLen() int {
	if m.stage == pickWorld {
		return len(m.worlds)
	}
	return len(m.characters)
}

func (m ConsoleUI) updatePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case worldsLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.worlds = msg.worlds
		if msg.err == nil && len(msg.worlds) == 0 {
			m.err = fmt.Errorf("the server has no preset worlds")
		}

	case charactersLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.characters = msg.characters
		m.stage = pickCharacter
		m.selected = 0

	case sessionCreatedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.showPicker = false
		if m.width > 0 && m.height > 0 {
			m.layout()
		}
		if m.session.InitialMessage != "" {
			m.transcript = append(m.transcript, entry{kind: entryNarration, text: m.session.InitialMessage})
		}
		m.writeChatContent()
		m.metaViewport.SetContent(writeMetadata(m.session))
		m.textarea.Focus()
		m.ready = true
		return m, textarea.Blink

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		}
		if m.loading || m.err != nil {
			return m, nil
		}

		switch msg.Type {
		case tea.KeyUp:
			if m.selected > 0 {
				m.selected--
			}
		case tea.KeyDown:
			if m.selected < m.pickerLen()-1 {
				m.selected++
			}
		case tea.KeyBackspace:
			if m.stage == pickCharacter {
				m.stage = pickWorld
				m.selected = 0
			}
		case tea.KeyEnter:
			if m.pickerLen() == 0 {
				return m, nil
			}
			m.loading = true
			if m.stage == pickWorld {
				m.worldID = m.worlds[m.selected].ID
				return m, m.loadCharacters(m.worldID)
			}
			m.stage = creating
			return m, m.startSession(m.worldID, m.characters[m.selected].ID)
		}
	}

	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				if m.showPicker {
					return m, nil
				}
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit Game?"))
	content.WriteString("\n\n")
	content.WriteString("Your session is saved on the server.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderPicker() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	switch {
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(m.err.Error()))
		content.WriteString("\n\n")
		content.WriteString("Press Ctrl+C to exit")
	case m.stage == creating:
		content.WriteString(modalTitleStyle.Render("Creating Session..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Setting up your adventure..."))
	case m.loading:
		content.WriteString(modalTitleStyle.Render("Loading..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Please wait while we fetch the presets..."))
	default:
		title := "Select a World"
		var items []string
		if m.stage == pickWorld {
			for _, w := range m.worlds {
				items = append(items, fmt.Sprintf("%s - %s", w.Name, w.Summary))
			}
		} else {
			title = "Select a Character"
			for _, ch := range m.characters {
				items = append(items, fmt.Sprintf("%s - %s", ch.Name, ch.Summary))
			}
		}
		content.WriteString(modalTitleStyle.Render(title))
		content.WriteString("\n\n")
		for i, item := range items {
			if i == m.selected {
				content.WriteString(modalSelectedItemStyle.Render("▶ " + item))
			} else {
				content.WriteString(modalItemStyle.Render("  " + item))
			}
			content.WriteString("\n")
		}
		content.WriteString("\n")
		hint := "Use ↑/↓ to navigate, Enter to select, Ctrl+C to exit"
		if m.stage == pickCharacter {
			hint = "Use ↑/↓ to navigate, Enter to select, Backspace to go back"
		}
		content.WriteString(promptStyle.Render(hint))
	}

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if m.showPicker {
		return m.renderPicker()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30 // fallback before sizing
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
