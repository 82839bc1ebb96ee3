package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errUsage = errors.New("usage: /list | /edit N text | /delete N | /react N emoji | /retry N | /quit")

type commandKind uint8

const (
	cmdSend commandKind = iota
	cmdList
	cmdEdit
	cmdDelete
	cmdReact
	cmdRetry
	cmdHelp
	cmdQuit
)

// command is one parsed line of chat input. Index is 1-based as printed.
type command struct {
	kind  commandKind
	index int
	arg   string
}

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSend, arg: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "list", "ls":
		return command{kind: cmdList}, nil
	case "help", "?":
		return command{kind: cmdHelp}, nil
	case "quit", "q", "exit":
		return command{kind: cmdQuit}, nil
	case "delete", "retry":
		n, _, err := indexArg(rest, false)
		if err != nil {
			return command{}, err
		}
		kind := cmdDelete
		if name == "retry" {
			kind = cmdRetry
		}
		return command{kind: kind, index: n}, nil
	case "edit", "react":
		n, arg, err := indexArg(rest, true)
		if err != nil {
			return command{}, err
		}
		kind := cmdEdit
		if name == "react" {
			kind = cmdReact
		}
		return command{kind: kind, index: n, arg: arg}, nil
	}
	return command{}, fmt.Errorf("unknown command /%s: %w", name, errUsage)
}

func indexArg(rest string, needArg bool) (int, string, error) {
	raw, arg, _ := strings.Cut(rest, " ")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, "", errUsage
	}
	arg = strings.TrimSpace(arg)
	if needArg && arg == "" {
		return 0, "", errUsage
	}
	return n, arg, nil
}
