package replay

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"
)

var (
	pagerTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	pagerChromeStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8"))
)

// runPager shows content in a scrollable full-screen viewer.
func runPager(title, content string) error {
	prog := tea.NewProgram(
		&pagerModel{title: title, content: content},
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := prog.Run()
	return err
}

// runLivePager shows content and re-renders whenever path changes, so
// a running task can be followed as its transcript grows.
func runLivePager(title, path string, render func() (string, error)) error {
	content, err := render()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch transcript: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch transcript: %w", err)
	}

	prog := tea.NewProgram(
		&pagerModel{
			title:   title,
			content: content,
			live:    true,
			render:  render,
			watcher: watcher,
		},
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err = prog.Run()
	watcher.Close()
	return err
}

type transcriptGrewMsg struct{}

type pagerModel struct {
	viewport viewport.Model
	title    string
	content  string
	wrapped  string
	ready    bool

	live    bool
	render  func() (string, error)
	watcher *fsnotify.Watcher

	searching   bool
	searchInput textinput.Model
	query       string
	matches     []int
	matchIndex  int
	noMatch     bool
}

func (m *pagerModel) Init() tea.Cmd {
	if m.live && m.watcher != nil {
		return m.watchTranscript()
	}
	return nil
}

// watchTranscript blocks on the watcher until the file grows.
func (m *pagerModel) watchTranscript() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case event, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Let the writer finish the line.
					time.Sleep(100 * time.Millisecond)
					return transcriptGrewMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	if m.searching {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "enter":
				m.query = m.searchInput.Value()
				m.searching = false
				m.findMatches()
				if len(m.matches) > 0 {
					m.jumpToMatch(0)
				}
				return m, nil
			case "esc", "ctrl+c":
				m.searching = false
				m.clearSearch()
				return m, nil
			}
		}
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case transcriptGrewMsg:
		if m.render != nil {
			if content, err := m.render(); err == nil {
				offset := m.viewport.YOffset
				atBottom := m.viewport.AtBottom()
				m.content = content
				m.wrapped = wrapTimeline(m.content, m.viewport.Width)
				m.viewport.SetContent(m.wrapped)
				if atBottom {
					m.viewport.GotoBottom()
				} else {
					m.viewport.YOffset = offset
				}
				if m.query != "" {
					m.findMatches()
				}
			}
		}
		cmds = append(cmds, m.watchTranscript())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.query != "" {
				m.clearSearch()
			} else {
				return m, tea.Quit
			}
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		case "f":
			if m.live {
				m.viewport.GotoBottom()
			}
		case "/":
			m.searching = true
			m.searchInput = textinput.New()
			m.searchInput.Placeholder = "Search..."
			m.searchInput.Focus()
			m.searchInput.CharLimit = 100
			m.searchInput.Width = 40
			if m.query != "" {
				m.searchInput.SetValue(m.query)
			}
			return m, textinput.Blink
		case "n":
			if len(m.matches) > 0 {
				m.matchIndex = (m.matchIndex + 1) % len(m.matches)
				m.jumpToMatch(m.matchIndex)
			}
		case "N":
			if len(m.matches) > 0 {
				m.matchIndex--
				if m.matchIndex < 0 {
					m.matchIndex = len(m.matches) - 1
				}
				m.jumpToMatch(m.matchIndex)
			}
		}

	case tea.WindowSizeMsg:
		const chromeHeight = 2 // title row plus status row
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.viewport.YPosition = 1
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chromeHeight
		}
		m.wrapped = wrapTimeline(m.content, msg.Width)
		m.viewport.SetContent(m.wrapped)
		if m.query != "" {
			m.findMatches()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *pagerModel) clearSearch() {
	m.query = ""
	m.matches = nil
	m.noMatch = false
}

// findMatches scans the wrapped content, which is what line offsets
// refer to on screen.
func (m *pagerModel) findMatches() {
	m.matches = nil
	m.matchIndex = 0
	m.noMatch = false
	if m.query == "" {
		return
	}
	query := strings.ToLower(m.query)
	for i, line := range strings.Split(m.wrapped, "\n") {
		if strings.Contains(strings.ToLower(line), query) {
			m.matches = append(m.matches, i)
		}
	}
	if len(m.matches) == 0 {
		m.noMatch = true
	}
}

func (m *pagerModel) jumpToMatch(index int) {
	if index < 0 || index >= len(m.matches) {
		return
	}
	target := m.matches[index] - m.viewport.Height/2
	limit := m.viewport.TotalLineCount() - m.viewport.Height
	if target > limit {
		target = limit
	}
	if target < 0 {
		target = 0
	}
	m.viewport.YOffset = target
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	title := pagerTitleStyle.Render(m.title)
	rule := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, pagerChromeStyle.Render(rule))

	var footer string
	if m.searching {
		footer = warnStyle.Render("/") + m.searchInput.View()
	} else {
		footer = m.statusLine()
	}
	return header + "\n" + m.viewport.View() + "\n" + footer
}

func (m *pagerModel) statusLine() string {
	percent := 100
	if span := m.viewport.TotalLineCount() - m.viewport.Height; span > 0 {
		percent = m.viewport.YOffset * 100 / span
		if percent > 100 {
			percent = 100
		}
	}
	position := fmt.Sprintf(" %d%% ", percent)

	var help string
	switch {
	case m.noMatch:
		help = " " + errorStyle.Render("Pattern not found") + " │ /: search "
	case len(m.matches) > 0:
		help = fmt.Sprintf(" %s │ n/N: next/prev │ /: search │ esc: clear ",
			warnStyle.Render(fmt.Sprintf("[%d/%d]", m.matchIndex+1, len(m.matches))))
	case m.live:
		help = fmt.Sprintf(" %s │ q: quit │ /: search │ f: follow │ g/G: top/bottom ",
			successStyle.Render("● LIVE"))
	default:
		help = " q: quit │ /: search │ n/N: next/prev │ g/G: top/bottom "
	}

	rule := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(help)-lipgloss.Width(position)))
	return pagerChromeStyle.Render(help) + pagerChromeStyle.Render(rule) + pagerChromeStyle.Render(position)
}

// wrapTimeline wraps long lines to the terminal width. Timeline rows
// keep their gutter: continuation lines are indented to the content
// column after the last │ separator.
func wrapTimeline(content string, width int) string {
	if width <= 0 {
		return content
	}

	var result []string
	for _, line := range strings.Split(content, "\n") {
		if lipgloss.Width(line) <= width {
			result = append(result, line)
			continue
		}

		if gutter := strings.LastIndex(line, "│"); gutter > 0 && gutter < len(line)-1 {
			contentStart := gutter + len("│")
			for contentStart < len(line) && line[contentStart] == ' ' {
				contentStart++
			}
			prefixWidth := lipgloss.Width(line[:contentStart])
			contentWidth := max(20, width-prefixWidth)

			wrapped := strings.Split(wordwrap.String(line[contentStart:], contentWidth), "\n")
			result = append(result, line[:contentStart]+wrapped[0])
			indent := strings.Repeat(" ", prefixWidth)
			for _, cont := range wrapped[1:] {
				result = append(result, indent+cont)
			}
			continue
		}

		result = append(result, strings.Split(wordwrap.String(line, width), "\n")...)
	}
	return strings.Join(result, "\n")
}
