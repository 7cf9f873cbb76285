package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// Command is the subcommand selected on the command line.
type Command int

const (
	None Command = iota
	Backup
	Version
	Init
	Prune
)

var commandToString = map[Command]string{
	None:    "none",
	Backup:  "backup",
	Version: "version",
	Init:    "init",
	Prune:   "prune",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'backup', 'prune', 'init' or 'version'", s)
}
