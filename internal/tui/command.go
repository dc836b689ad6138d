package tui

import "strings"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

var commandAliases = map[string]string{
	"q":        "quit",
	"quit":     "quit",
	"exit":     "quit",
	"h":        "help",
	"help":     "help",
	"c":        "chat",
	"chat":     "chat",
	"chats":    "chats",
	"ct":       "contacts",
	"contacts": "contacts",
	"info":     "info",
}

// ParseCommand parses a command string (without the leading ':'). Aliases
// resolve to their canonical name; unknown names are kept as typed.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	name, args, _ := strings.Cut(input, " ")
	cmd := Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
	if canonical, ok := commandAliases[cmd.Name]; ok {
		cmd.Name = canonical
	}
	return cmd
}

// Known reports whether the command names one the viewer can run.
func (c Command) Known() bool {
	_, ok := commandAliases[c.Name]
	return ok
}
