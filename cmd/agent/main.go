package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	name := "chat"
	if len(args) > 0 && !isFlag(args[0]) {
		name, args = args[0], args[1:]
	}

	var err error
	switch name {
	case "chat":
		err = runChat(ctx, args, stdin, stdout)
	case "serve":
		err = runServe(ctx, args)
	case "mcp":
		err = runMCP(ctx, args, stdin, stdout)
	case "sessions":
		err = runSessions(ctx, args, stdout)
	case "discover":
		err = runDiscover(ctx, args, stdout)
	case "doctor":
		err = runDoctor(ctx, args, stdout)
	case "encrypt-secret":
		err = runEncryptSecret(args, stdin, stdout)
	case "version":
		fmt.Fprintf(stdout, "codegen-agent %s\n", version)
	case "help", "-h", "--help":
		showUsage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\nRun 'codegen-agent help' for usage information.\n", name)
		return 2
	}

	if err == flag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}
	return 0
}

func isFlag(s string) bool {
	return len(s) > 0 && s[0] == '-' && s != "-h" && s != "--help"
}

func showUsage(w io.Writer) {
	fmt.Fprint(w, `codegen-agent - generate code from natural language

USAGE:
    codegen-agent [COMMAND] [FLAGS]

COMMANDS:
    chat            Interactive prompt (default)
    serve           HTTP and websocket gateway
    mcp             Serve the file and code tools over MCP stdio
    sessions        Manage stored sessions
                    Subcommands: list, delete <id>
    discover        List gateways advertised on the local network (mdns builds)
    doctor          Check config, credentials, providers, session store and output directory
    encrypt-secret  Encrypt a secret read from stdin for use as enc:... in config
    version         Print the version

COMMON FLAGS:
    --config PATH   Config file (default: $CODEGEN_CONFIG or ./config.yaml)

CHAT FLAGS:
    --plain         Line-based prompt without the terminal UI
    --session ID    Resume a stored session
    --log-file PATH Log destination when logger.output is stderr (default: codegen.log)
    --log-level LVL Override logger.level

SERVE FLAGS:
    --addr ADDR     Listen address (default: gateway.addr, or :$PORT)
    --mdns          Advertise the gateway over mDNS (mdns builds)

DISCOVER FLAGS:
    --timeout DUR   How long to browse (default: 3s)
    --json          Print JSON

ENVIRONMENT:
    ANTHROPIC_API_KEY    Model provider key
    CODEGEN_MASTER_KEY   Passphrase for enc:... secrets
    CODEGEN_*            Overrides for config fields
`)
}
