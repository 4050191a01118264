package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"codegen-agent/internal/usecase"
)

// turnDoneMsg carries the outcome of one Submit call. gen identifies the
// request so results of a cancelled turn are discarded.
type turnDoneMsg struct {
	gen uint64
	res *usecase.TurnResult
	err error
}

// Model is the Bubble Tea model for the interactive chat. Finished output
// is printed above the program with tea.Println; the view only holds the
// prompt or the spinner.
type Model struct {
	deps    Deps
	ctx     context.Context
	input   textinput.Model
	spinner spinner.Model
	md      *markdown

	sessionID string
	options   map[int]string

	waiting  bool
	quitting bool
	gen      uint64
	cancelFn context.CancelFunc

	// printed keeps every block handed to tea.Println, oldest first.
	printed []string
}

// NewModel creates the chat model. ctx bounds every turn it starts.
func NewModel(ctx context.Context, deps Deps) Model {
	ti := textinput.New()
	ti.Placeholder = "describe the code you want, or type a number"
	ti.Prompt = stylePrompt.Render("> ")
	ti.CharLimit = 0
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleTitle

	m := Model{
		deps:      deps,
		ctx:       ctx,
		input:     ti,
		spinner:   s,
		md:        &markdown{},
		sessionID: deps.SessionID,
	}
	if deps.SessionID == "" {
		m.options = usecase.QuickStartOptions()
	}
	return m
}

// Run starts the interactive program and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, deps Deps) error {
	p := tea.NewProgram(NewModel(ctx, deps), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) intro() string {
	out := bannerText(m.deps.ModelName)
	if m.options != nil {
		out += "\n" + quickStartText(m.options)
	}
	return out
}

// Init prints the banner and starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Sequence(tea.Println(m.intro()), textinput.Blink)
}

// Update handles key input, spinner ticks and finished turns.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.md.setWidth(msg.Width)
		m.input.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case turnDoneMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m.finishTurn(msg)

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the prompt line, or the spinner while a turn runs.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.waiting {
		return m.spinner.View() + " Generating code... " + styleDim.Render("(ctrl+c to cancel)") + "\n"
	}
	var sb strings.Builder
	sb.WriteString(styleDim.Render(promptText))
	sb.WriteString("\n")
	sb.WriteString(m.input.View())
	if m.sessionID != "" {
		sb.WriteString("\n")
		sb.WriteString(styleMuted.Render("session " + m.sessionID))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			return m.cancelTurn()
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlD:
		if m.waiting {
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEnter:
		if m.waiting {
			return m, nil
		}
		return m.submit(m.input.Value())
	}

	if m.waiting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(value string) (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(value)
	m.input.Reset()
	if input == "" {
		return m, nil
	}

	var cmds []tea.Cmd
	cmds = append(cmds, m.print(stylePrompt.Render("> ")+input))

	switch parseCommand(input) {
	case cmdExit:
		m.quitting = true
		return m, tea.Sequence(tea.Batch(cmds...), tea.Quit)
	case cmdHelp:
		cmds = append(cmds, m.print(m.md.render(helpText(m.deps.OutputDir))))
		return m, tea.Sequence(cmds...)
	case cmdTools:
		cmds = append(cmds, m.print(toolsText(m.deps.Tools)))
		return m, tea.Sequence(cmds...)
	}

	if opt, ok := usecase.SelectOption(input, m.options); ok {
		cmds = append(cmds, m.print(selectedText(opt)))
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.gen++
	m.cancelFn = cancel
	m.waiting = true
	return m, tea.Batch(
		tea.Sequence(cmds...),
		submitCmd(ctx, m.deps.Service, m.sessionID, input, m.gen),
		m.spinner.Tick,
	)
}

func (m Model) cancelTurn() (tea.Model, tea.Cmd) {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.gen++
	m.waiting = false
	return m, m.print(styleWarning.Render("Request cancelled."))
}

func (m Model) finishTurn(msg turnDoneMsg) (tea.Model, tea.Cmd) {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.waiting = false
	if msg.res != nil && msg.res.SessionID != "" {
		m.sessionID = msg.res.SessionID
	}

	var cmds []tea.Cmd
	if msg.res != nil {
		if s := turnSummary(msg.res); s != "" {
			cmds = append(cmds, m.print(s))
		}
	}
	if msg.err != nil {
		if isCancelled(msg.err) {
			return m, tea.Sequence(cmds...)
		}
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("turn failed", "session_id", m.sessionID, "error", msg.err)
		}
		cmds = append(cmds,
			m.print(styleError.Render("Error: ")+Humanize(msg.err).Render()),
			m.print(styleWarning.Render("Continuing... Type 'exit' to quit")),
		)
		return m, tea.Sequence(cmds...)
	}

	m.options = msg.res.Options
	cmds = append(cmds, m.print(m.md.render(usecase.NumberBullets(msg.res.Response))))
	return m, tea.Sequence(cmds...)
}

// print records s and returns the command that prints it.
func (m *Model) print(s string) tea.Cmd {
	m.printed = append(m.printed, s)
	return tea.Println(s)
}

func submitCmd(ctx context.Context, svc Submitter, sessionID, text string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		res, err := svc.Submit(ctx, sessionID, text)
		return turnDoneMsg{gen: gen, res: res, err: err}
	}
}
