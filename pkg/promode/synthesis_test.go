package promode_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/germanamz/promode/pkg/promode"
	"github.com/stretchr/testify/assert"
)

func TestSynthesisMessages_TagsEveryCandidateInOrder(t *testing.T) {
	candidates := []string{"alpha", "Error: boom", "gamma\nwith two lines"}

	system, user := promode.SynthesisMessages(candidates)

	assert.True(t, strings.HasPrefix(system, "You are an expert editor."))
	assert.True(t, strings.HasPrefix(user, "You are given 3 candidate answers delimited by <cand i> tags.\n\n"))
	assert.True(t, strings.HasSuffix(user, "\n\nReturn the final answer."))

	prev := -1
	for i, c := range candidates {
		block := fmt.Sprintf("<cand %d>\n%s\n</cand %d>", i+1, c, i+1)
		idx := strings.Index(user, block)
		assert.Greater(t, idx, prev, "candidate %d out of order", i+1)
		prev = idx
	}

	assert.NotContains(t, user, "<cand 0>")
	assert.NotContains(t, user, "<cand 4>")
	assert.Contains(t, user, "</cand 1>\n\n<cand 2>")
}

func TestSynthesisPrompt_JoinsSystemAndUser(t *testing.T) {
	system, user := promode.SynthesisMessages([]string{"x"})
	assert.Equal(t, system+"\n\n"+user, promode.SynthesisPrompt([]string{"x"}))
}

func TestSynthesisPrompt_EmptyCandidateKeepsTags(t *testing.T) {
	prompt := promode.SynthesisPrompt([]string{""})
	assert.Contains(t, prompt, "<cand 1>\n\n</cand 1>")
}
