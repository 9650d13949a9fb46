package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type roomCommand struct {
	roomName    string
	mode        string
	temperature float64
	duration    time.Duration
}

func parseRoomCommand(args ...string) (roomCommand, error) {
	if len(args) < 2 {
		return roomCommand{}, fmt.Errorf("missing parameters\nUsage: /room <room> [auto|off|away|boost|<temperature> [<duration>]]")
	}

	cmd := roomCommand{
		roomName: args[0],
		mode:     args[1],
	}

	switch cmd.mode {
	case "auto", "off":
		return cmd, nil
	case "away", "boost":
		return cmd, parseOptionalDuration(&cmd, args[2:]...)
	}

	var err error
	if cmd.temperature, err = strconv.ParseFloat(args[1], 64); err != nil {
		return roomCommand{}, fmt.Errorf("invalid target temperature: %q", args[1])
	}
	cmd.mode = "manual"

	return cmd, parseOptionalDuration(&cmd, args[2:]...)
}

func parseOptionalDuration(cmd *roomCommand, args ...string) error {
	if len(args) == 0 {
		return nil
	}
	var err error
	if cmd.duration, err = time.ParseDuration(args[0]); err != nil {
		return fmt.Errorf("invalid duration: %q", args[0])
	}
	return nil
}

func tokenizeText(input string) []string {
	cleanInput := input
	for _, quote := range []string{"“", "”", "'"} {
		cleanInput = strings.ReplaceAll(cleanInput, quote, "\"")
	}
	r := regexp.MustCompile(`[^\s"]+|"([^"]*)"`)
	output := r.FindAllString(cleanInput, -1)

	for index, word := range output {
		output[index] = strings.Trim(word, "\"")
	}
	return output
}
