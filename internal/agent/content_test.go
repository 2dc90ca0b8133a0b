// Copyright 2025 James Ross
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContentIdempotent(t *testing.T) {
	inputs := []string{
		"hello   world",
		"a\r\nb\r\nc",
		"para one\n\n\n\npara two",
		"  trailing  \t spaces  \n\nand more\n",
		"",
	}
	for _, in := range inputs {
		once := NormalizeContent(in)
		twice := NormalizeContent(once)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", in)
	}
}

func TestNormalizeContentCollapses(t *testing.T) {
	got := NormalizeContent("a  b\r\n\r\n\r\n\r\nc\td")
	assert.Equal(t, "a b\n\nc d", got)
}

func TestSafeStringifyJSONPassthrough(t *testing.T) {
	for _, s := range []string{`{"a":1}`, `[1,2,3]`, `"quoted"`, `42`, `null`} {
		assert.Equal(t, s, SafeStringify(s))
	}
}

func TestSafeStringifyQuotesPlainStrings(t *testing.T) {
	assert.Equal(t, `"hello there"`, SafeStringify("hello there"))
}

func TestSafeStringifyValues(t *testing.T) {
	assert.Equal(t, `{"n":1}`, SafeStringify(map[string]any{"n": 1}))
}

func TestTaskChainStartsWithTrigger(t *testing.T) {
	trigger := NewTriggerContext("plug-a", "recv", "hi")
	task := NewTask(trigger, Space{ID: "room-1"})

	require.Len(t, task.ContextChain, 1)
	assert.Same(t, trigger, task.ContextChain[0])
	assert.Same(t, trigger, task.Trigger)

	task.AppendContext(NewContextItem("plug-a", "gen", "gen", `{"text":"hi"}`))
	task.AppendContext(nil)
	require.Len(t, task.ContextChain, 2)
	assert.Same(t, trigger, task.ContextChain[0])
	assert.Equal(t, "gen", task.CurrentContext().Type)
}

func TestNewErrorContext(t *testing.T) {
	step := &PipelineStep{PluginID: "plug-a", Action: "gen"}
	item := NewErrorContext("plug-a", "gen", assert.AnError, step)
	assert.Equal(t, ContextTypeError, item.Type)
	assert.Equal(t, assert.AnError.Error(), item.Error)
	assert.Equal(t, step, item.FailedStep)
	assert.NotEmpty(t, item.ID)
	assert.NotZero(t, item.Timestamp)
}
