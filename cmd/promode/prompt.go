package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
)

var errNoPrompt = errors.New("no prompt given")

// askPrompt shows an interactive input for the prompt. Replaced in tests.
var askPrompt = func() (string, error) {
	var prompt string

	err := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title("Prompt").
			Description("What should the candidates answer?").
			Value(&prompt).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errNoPrompt
				}
				return nil
			}),
	)).Run()
	if err != nil {
		return "", err
	}

	return prompt, nil
}

// resolvePrompt picks the prompt: positional words first, then piped stdin,
// then an interactive question when stdin is a terminal.
func resolvePrompt(words []string, stdin io.Reader, stdinTTY bool) (string, error) {
	if len(words) > 0 {
		return strings.Join(words, " "), nil
	}

	if stdinTTY {
		return askPrompt()
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errNoPrompt
	}

	return prompt, nil
}
