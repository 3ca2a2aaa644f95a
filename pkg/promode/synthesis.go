package promode

import (
	"fmt"
	"strings"
)

const synthesisSystem = "You are an expert editor. You are given several answers from candidates. " +
	"Your task is to review the answers and synthesize ONE best answer from the " +
	"candidate answers provided by merging them, merging strengths, correcting errors, " +
	"and removing repetition. Do not mention the candidates or the synthesis process. " +
	"Be decisive and clear."

// SynthesisMessages returns the editor framing and the body listing every
// candidate wrapped in 1-based <cand i> tags, in order.
func SynthesisMessages(candidates []string) (system, user string) {
	blocks := make([]string, len(candidates))
	for i, text := range candidates {
		n := i + 1
		blocks[i] = fmt.Sprintf("<cand %d>\n%s\n</cand %d>", n, text, n)
	}

	user = fmt.Sprintf("You are given %d candidate answers delimited by <cand i> tags.\n\n%s\n\nReturn the final answer.",
		len(candidates), strings.Join(blocks, "\n\n"))

	return synthesisSystem, user
}

// SynthesisPrompt joins both synthesis messages into the single user prompt
// sent to the backend.
func SynthesisPrompt(candidates []string) string {
	system, user := SynthesisMessages(candidates)
	return system + "\n\n" + user
}
