// Package setup provides the interactive wizard behind `steward init`.
package setup

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stewardworks/steward/internal/config"
)

// ConfigFile is where the wizard writes its answers.
const ConfigFile = "steward.toml"

// Provider options, matching the providers the runtime can construct.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderMistral   = "mistral"
	ProviderGroq      = "groq"
)

// Config holds the wizard's answers.
type Config struct {
	Provider  string
	Model     string
	Workspace string
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			Bold(true)

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))
)

// Step is one wizard screen.
type Step int

const (
	StepWelcome Step = iota
	StepProvider
	StepModel
	StepCustomModel
	StepWorkspace
	StepConfirm
	StepWrite
	StepComplete
)

// Model is the bubbletea model for the wizard.
type Model struct {
	step      Step
	config    Config
	cursor    int
	textInput textinput.Model
	err       error

	// Edit mode: an existing steward.toml pre-fills the answers.
	editMode bool

	fileWritten string
}

// New creates the wizard, pre-filled from steward.toml when one exists
// in the working directory.
func New() Model {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 50

	m := Model{
		step:      StepWelcome,
		textInput: ti,
		config: Config{
			Provider:  ProviderAnthropic,
			Workspace: ".",
		},
	}

	if existing, err := config.LoadFile(ConfigFile); err == nil {
		m.editMode = true
		if existing.LLM.Provider != "" {
			m.config.Provider = existing.LLM.Provider
		}
		m.config.Model = existing.LLM.Model
		if existing.Agent.Workspace != "" {
			m.config.Workspace = existing.Agent.Workspace
		}
	}

	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Messages
type fileWrittenMsg struct {
	path string
}

type errMsg struct {
	error error
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case fileWrittenMsg:
		m.fileWritten = msg.path
		m.step = StepComplete
		return m, nil

	case errMsg:
		m.err = msg.error
		m.step = StepComplete
		return m, nil

	case tea.KeyMsg:
		if m.isTextInputStep() {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "enter":
				return m.handleEnter()
			default:
				var cmd tea.Cmd
				m.textInput, cmd = m.textInput.Update(msg)
				return m, cmd
			}
		}

		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.step == StepWelcome || m.step == StepComplete {
				return m, tea.Quit
			}
			m.step = m.previousStep()
			m.cursor = 0
			return m, nil

		case "enter":
			return m.handleEnter()

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case "down", "j":
			if m.cursor < m.maxCursorForStep() {
				m.cursor++
			}
			return m, nil
		}
	}

	return m, nil
}

func (m Model) previousStep() Step {
	prev := m.step - 1
	// Custom model entry only exists when "other" was chosen.
	if prev == StepCustomModel {
		prev = StepModel
	}
	if prev < StepWelcome {
		prev = StepWelcome
	}
	return prev
}

func (m Model) isTextInputStep() bool {
	return m.step == StepCustomModel || m.step == StepWorkspace
}

func (m Model) maxCursorForStep() int {
	switch m.step {
	case StepProvider:
		return len(providers()) - 1
	case StepModel:
		return len(modelsFor(m.config.Provider)) // trailing "other..." entry
	case StepConfirm:
		return 1
	default:
		return 0
	}
}

// handleEnter advances the wizard.
func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.step {
	case StepWelcome:
		m.step = StepProvider
		m.cursor = providerIndex(m.config.Provider)
		return m, nil

	case StepProvider:
		m.config.Provider = providers()[m.cursor].name
		m.step = StepModel
		m.cursor = modelIndex(m.config.Provider, m.config.Model)
		return m, nil

	case StepModel:
		models := modelsFor(m.config.Provider)
		if m.cursor >= len(models) {
			m.step = StepCustomModel
			m.textInput.SetValue(m.config.Model)
			m.textInput.Placeholder = "model name"
			m.textInput.Focus()
			return m, textinput.Blink
		}
		m.config.Model = models[m.cursor].name
		return m.toWorkspace()

	case StepCustomModel:
		value := strings.TrimSpace(m.textInput.Value())
		if value == "" {
			return m, nil
		}
		m.config.Model = value
		return m.toWorkspace()

	case StepWorkspace:
		value := strings.TrimSpace(m.textInput.Value())
		if value == "" {
			value = "."
		}
		m.config.Workspace = value
		m.step = StepConfirm
		m.cursor = 0
		return m, nil

	case StepConfirm:
		if m.cursor == 0 {
			m.step = StepWrite
			return m, m.writeConfig()
		}
		m.step = StepProvider
		m.cursor = providerIndex(m.config.Provider)
		return m, nil

	case StepComplete:
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) toWorkspace() (tea.Model, tea.Cmd) {
	m.step = StepWorkspace
	m.textInput.SetValue(m.config.Workspace)
	m.textInput.Placeholder = "."
	m.textInput.Focus()
	return m, textinput.Blink
}

// writeConfig persists the answers.
func (m Model) writeConfig() tea.Cmd {
	return func() tea.Msg {
		content := generateTOML(m.config)
		if err := os.WriteFile(ConfigFile, []byte(content), 0o644); err != nil {
			return errMsg{err}
		}
		return fileWrittenMsg{ConfigFile}
	}
}

// generateTOML renders the config file the wizard writes.
func generateTOML(c Config) string {
	var sb strings.Builder

	sb.WriteString("# steward configuration\n")
	sb.WriteString("# generated by: steward init\n\n")

	sb.WriteString("[agent]\n")
	sb.WriteString("name = \"steward\"\n")
	sb.WriteString(fmt.Sprintf("workspace = %q\n\n", c.Workspace))

	sb.WriteString("[llm]\n")
	sb.WriteString(fmt.Sprintf("provider = %q\n", c.Provider))
	sb.WriteString(fmt.Sprintf("model = %q\n", c.Model))
	sb.WriteString(fmt.Sprintf("api_key_env = %q\n", config.DefaultAPIKeyEnv(c.Provider)))
	sb.WriteString("max_tokens = 4096\n\n")

	sb.WriteString("[limits]\n")
	sb.WriteString("max_steps = 20\n")
	sb.WriteString("max_retries = 3\n\n")

	sb.WriteString("[confirm]\n")
	sb.WriteString("timeout = \"5m\"\n\n")

	sb.WriteString("[storage]\n")
	sb.WriteString("path = \"~/.local/steward\"\n")

	return sb.String()
}

// Option catalogs.

type providerOption struct {
	name string
	desc string
}

func providers() []providerOption {
	return []providerOption{
		{ProviderAnthropic, "Claude models"},
		{ProviderOpenAI, "GPT and o-series models"},
		{ProviderGoogle, "Gemini models"},
		{ProviderMistral, "Mistral models"},
		{ProviderGroq, "fast open-weight inference"},
	}
}

func providerIndex(name string) int {
	for i, p := range providers() {
		if p.name == name {
			return i
		}
	}
	return 0
}

type modelOption struct {
	name string
	desc string
}

func modelsFor(provider string) []modelOption {
	switch provider {
	case ProviderAnthropic:
		return []modelOption{
			{"claude-sonnet-4-20250514", "Claude Sonnet 4 (recommended)"},
			{"claude-opus-4-20250514", "Claude Opus 4 (most capable)"},
			{"claude-3-5-haiku-20241022", "Claude 3.5 Haiku (fast)"},
		}
	case ProviderOpenAI:
		return []modelOption{
			{"gpt-4o", "GPT-4o (recommended)"},
			{"gpt-4o-mini", "GPT-4o Mini (fast)"},
			{"o3", "o3 (reasoning)"},
		}
	case ProviderGoogle:
		return []modelOption{
			{"gemini-2.0-flash", "Gemini 2.0 Flash (recommended)"},
			{"gemini-2.0-pro", "Gemini 2.0 Pro"},
		}
	case ProviderMistral:
		return []modelOption{
			{"mistral-large-latest", "Mistral Large (recommended)"},
			{"mistral-small-latest", "Mistral Small (fast)"},
		}
	case ProviderGroq:
		return []modelOption{
			{"llama-3.3-70b-versatile", "Llama 3.3 70B (recommended)"},
			{"llama-3.1-8b-instant", "Llama 3.1 8B (fast)"},
		}
	default:
		return nil
	}
}

func modelIndex(provider, model string) int {
	for i, opt := range modelsFor(provider) {
		if opt.name == model {
			return i
		}
	}
	return 0
}

// View renders the current step.
func (m Model) View() string {
	switch m.step {
	case StepWelcome:
		return m.viewWelcome()
	case StepProvider:
		return m.viewProvider()
	case StepModel:
		return m.viewModel()
	case StepCustomModel:
		return m.viewCustomModel()
	case StepWorkspace:
		return m.viewWorkspace()
	case StepConfirm:
		return m.viewConfirm()
	case StepWrite:
		return m.viewWriting()
	case StepComplete:
		return m.viewComplete()
	}
	return ""
}

func (m Model) viewWelcome() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("Steward Setup"))
	s.WriteString("\n\n")
	if m.editMode {
		s.WriteString(infoStyle.Render("Found existing " + ConfigFile))
		s.WriteString("\n")
		s.WriteString(normalStyle.Render("Current values will be pre-filled."))
		s.WriteString("\n\n")
	} else {
		s.WriteString(normalStyle.Render("This wizard configures the planning provider and workspace."))
		s.WriteString("\n\n")
	}
	s.WriteString(dimStyle.Render("Press Enter to continue, q to quit"))
	return s.String()
}

func (m Model) viewProvider() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("LLM Provider") + "\n")
	s.WriteString(subtitleStyle.Render("Which provider plans the steps?") + "\n\n")

	for i, p := range providers() {
		cursor := "  "
		style := normalStyle
		if i == m.cursor {
			cursor = "> "
			style = selectedStyle
		}
		s.WriteString(cursor + style.Render(p.name) + " " + dimStyle.Render(p.desc) + "\n")
	}

	s.WriteString("\n" + dimStyle.Render("up/down to move, Enter to select, q to go back"))
	return s.String()
}

func (m Model) viewModel() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("Model") + "\n")
	s.WriteString(subtitleStyle.Render("Select the model for "+m.config.Provider) + "\n\n")

	models := modelsFor(m.config.Provider)
	for i, opt := range models {
		cursor := "  "
		style := normalStyle
		if i == m.cursor {
			cursor = "> "
			style = selectedStyle
		}
		s.WriteString(cursor + style.Render(opt.name) + " " + dimStyle.Render(opt.desc) + "\n")
	}

	cursor := "  "
	style := normalStyle
	if m.cursor >= len(models) {
		cursor = "> "
		style = selectedStyle
	}
	s.WriteString(cursor + style.Render("other...") + " " + dimStyle.Render("type a model name") + "\n")

	s.WriteString("\n" + dimStyle.Render("up/down to move, Enter to select"))
	return s.String()
}

func (m Model) viewCustomModel() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("Model Name") + "\n")
	s.WriteString(subtitleStyle.Render("Enter the model identifier") + "\n\n")
	s.WriteString(m.textInput.View() + "\n\n")
	s.WriteString(dimStyle.Render("Enter to continue"))
	return s.String()
}

func (m Model) viewWorkspace() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("Workspace") + "\n")
	s.WriteString(subtitleStyle.Render("The directory tasks may write inside") + "\n\n")
	s.WriteString(m.textInput.View() + "\n\n")
	s.WriteString(dimStyle.Render("Writes outside this boundary are refused. Enter to continue"))
	return s.String()
}

func (m Model) viewConfirm() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("Summary") + "\n\n")

	s.WriteString(normalStyle.Render("Provider:  ") + selectedStyle.Render(m.config.Provider) + "\n")
	s.WriteString(normalStyle.Render("Model:     ") + selectedStyle.Render(m.config.Model) + "\n")
	s.WriteString(normalStyle.Render("Workspace: ") + selectedStyle.Render(m.config.Workspace) + "\n")
	s.WriteString(normalStyle.Render("API key:   ") + selectedStyle.Render("$"+config.DefaultAPIKeyEnv(m.config.Provider)) + "\n")

	s.WriteString("\n")
	for i, opt := range []string{"Write " + ConfigFile, "Go back"} {
		cursor := "  "
		style := normalStyle
		if i == m.cursor {
			cursor = "> "
			style = selectedStyle
		}
		s.WriteString(cursor + style.Render(opt) + "\n")
	}
	return s.String()
}

func (m Model) viewWriting() string {
	return titleStyle.Render("Writing...") + "\n\n" +
		normalStyle.Render("Creating "+ConfigFile)
}

func (m Model) viewComplete() string {
	if m.err != nil {
		return errorStyle.Render("Error") + "\n\n" +
			normalStyle.Render(m.err.Error()) + "\n\n" +
			dimStyle.Render("Press q to exit")
	}

	var s strings.Builder
	s.WriteString(successStyle.Render("Setup complete") + "\n\n")
	s.WriteString(normalStyle.Render("Wrote " + m.fileWritten + "\n\n"))
	s.WriteString(normalStyle.Render("Next steps:") + "\n")
	s.WriteString(dimStyle.Render("  1. export "+config.DefaultAPIKeyEnv(m.config.Provider)+"=...") + "\n")
	s.WriteString(dimStyle.Render("  2. steward run \"your goal\"") + "\n")
	s.WriteString("\n" + dimStyle.Render("Press q to exit"))
	return s.String()
}

// Run starts the wizard.
func Run() error {
	p := tea.NewProgram(New())
	_, err := p.Run()
	return err
}
