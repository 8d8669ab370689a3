package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// errInputClosed is returned once standard input has been exhausted.
var errInputClosed = errors.New("input closed")

// readLines forwards trimmed input lines until EOF, then closes the channel. Both the
// prompts and the cancel watcher consume the same channel, so no line is lost between
// them.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	return lines
}

// prompter asks questions on out and reads the answers from lines.
type prompter struct {
	lines <-chan string
	out   io.Writer
}

// Prompt asks the user for input with a prompt message.
func (p *prompter) Prompt(message string) (string, error) {
	_, _ = fmt.Fprintf(p.out, "%s: ", message)

	line, ok := <-p.lines
	if !ok {
		return "", errInputClosed
	}

	return line, nil
}

// PromptWithDefault asks the user for input with a default value.
func (p *prompter) PromptWithDefault(message, defaultValue string) (string, error) {
	input, err := p.Prompt(fmt.Sprintf("%s [%s]", message, defaultValue))
	if err != nil {
		return "", err
	}

	if input == "" {
		return defaultValue, nil
	}

	return input, nil
}

// Confirm asks the user for a yes/no confirmation.
func (p *prompter) Confirm(message string, defaultValue bool) (bool, error) {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}

	input, err := p.Prompt(fmt.Sprintf("%s [%s]", message, defaultStr))
	if err != nil {
		return false, err
	}

	trimmed := strings.ToLower(input)
	if trimmed == "" {
		return defaultValue, nil
	}

	return trimmed == "y" || trimmed == "yes", nil
}

// PromptChoice asks the user to select from a list of choices and returns its 0-based
// index.
func (p *prompter) PromptChoice(message string, choices []string) (int, error) {
	_, _ = fmt.Fprintf(p.out, "%s\n", message)
	for i, choice := range choices {
		_, _ = fmt.Fprintf(p.out, "  %d. %s\n", i+1, choice)
	}

	input, err := p.Prompt("Enter your choice")
	if err != nil {
		return 0, err
	}

	choice, convErr := strconv.Atoi(input)
	if convErr != nil {
		return 0, fmt.Errorf("invalid choice: %w", convErr)
	}

	if choice < 1 || choice > len(choices) {
		return 0, fmt.Errorf("choice must be between 1 and %d", len(choices))
	}

	return choice - 1, nil
}
