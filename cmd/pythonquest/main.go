package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFile = "pythonquestd.pid"

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan, color.Bold)
)

func main() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "lessons":
		err = cmdLessons()
	case "show":
		err = cmdShow(args)
	case "run":
		err = cmdRun(args)
	case "submit":
		err = cmdSubmit(args)
	case "hint":
		err = cmdHint(args)
	case "explain":
		err = cmdExplain(args)
	case "progress":
		err = cmdProgress(args)
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "doctor":
		err = cmdDoctor()
	case "config":
		err = cmdConfig(args)
	case "mcp":
		err = cmdMCP(args)
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("pythonquest %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		red.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`PythonQuest - Python lessons with graded tests and a tutor

Usage:
  pythonquest <command> [arguments]

Lesson Commands:
  lessons                       List available lessons
  show <lesson>                 Show a lesson's task, starter code and tests
  run <file|->                  Run a Python program and print its output
  submit <lesson> <file|->      Grade a program against a lesson's tests
  hint <lesson> <file|->        Ask the tutor for a hint
  explain <file|-> [error]      Explain an error (defaults to the program's own)
  progress [user]               Show completions and XP/gem totals

Daemon Commands:
  start                         Start the PythonQuest daemon
  stop                          Stop the PythonQuest daemon
  status                        Show daemon status
  logs                          View daemon logs

Setup Commands:
  doctor                        Check Python, Docker and LLM providers
  config                        Show current configuration
  config set-key <provider> <key>
                                Store an API key (gemini, claude)

Integration Commands:
  mcp [--http addr]             Start the MCP server (stdio by default)

Other:
  help                          Show this help message
  version                       Show version information

Examples:
  pythonquest show control-flow
  pythonquest submit control-flow grade.py
  pythonquest config set-key gemini $GEMINI_API_KEY`)
}
