package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"codegen-agent/internal/usecase"
)

// RunPlain drives the agent from a line-oriented reader. It returns nil on
// exit commands, end of input or cancellation of ctx.
func RunPlain(ctx context.Context, deps Deps, in io.Reader, out io.Writer) error {
	lipgloss.SetColorProfile(termenv.Ascii)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionID := deps.SessionID
	var options map[int]string
	if sessionID == "" {
		options = usecase.QuickStartOptions()
	}

	fmt.Fprintln(out, bannerText(deps.ModelName))
	if options != nil {
		fmt.Fprintln(out, quickStartText(options))
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprintf(out, "\n%s\n> ", promptText)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nGoodbye!")
			return nil
		case err := <-readErr:
			fmt.Fprintln(out, "\nGoodbye!")
			return err
		case line = <-lines:
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		switch parseCommand(input) {
		case cmdExit:
			fmt.Fprintln(out, "\nGoodbye!")
			return nil
		case cmdHelp:
			fmt.Fprintln(out, helpText(deps.OutputDir))
			continue
		case cmdTools:
			fmt.Fprintln(out, toolsText(deps.Tools))
			continue
		}

		if opt, ok := usecase.SelectOption(input, options); ok {
			fmt.Fprintln(out, selectedText(opt))
		}

		fmt.Fprintln(out, "Generating code...")
		res, err := deps.Service.Submit(ctx, sessionID, input)
		if res != nil && res.SessionID != "" {
			sessionID = res.SessionID
		}
		if err != nil {
			if isCancelled(err) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			if deps.Logger != nil {
				deps.Logger.Warn("turn failed", "session_id", sessionID, "error", err)
			}
			if res != nil {
				if s := turnSummary(res); s != "" {
					fmt.Fprintln(out, s)
				}
			}
			fmt.Fprintln(out, "Error: "+Humanize(err).Render())
			fmt.Fprintln(out, "Continuing... Type 'exit' to quit")
			continue
		}

		options = res.Options
		if s := turnSummary(res); s != "" {
			fmt.Fprintln(out, s)
		}
		fmt.Fprintln(out, usecase.NumberBullets(res.Response))
	}
}
