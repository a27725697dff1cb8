// Package command implements the Command Parser (spec §4.I): recognizes
// `@<bot-handle> <verb> [args]` on the first line of a posted comment.
package command

import "strings"

// Verb is one of the four commands the bot recognizes in a comment.
type Verb string

const (
	VerbProcess       Verb = "process"
	VerbRunPipeline   Verb = "run-pipeline"
	VerbFollowUp      Verb = "follow-up"
	VerbDraftFollowUp Verb = "draft-follow-up"
)

// aliases maps every recognized token (including underscore variants) to
// its canonical verb.
var aliases = map[string]Verb{
	"process":         VerbProcess,
	"run-pipeline":    VerbRunPipeline,
	"run_pipeline":    VerbRunPipeline,
	"follow-up":       VerbFollowUp,
	"follow_up":       VerbFollowUp,
	"draft-follow-up": VerbDraftFollowUp,
	"draft_follow_up": VerbDraftFollowUp,
}

// Command is one parsed invocation.
type Command struct {
	Verb   Verb
	Args   []string
	Author string
}

// Parse looks for `@botHandle <verb> [args]` on the first line of body. It
// returns ok=false for a comment that doesn't mention the bot, or that
// mentions it with an unrecognized verb — per spec.md, unknown verbs are
// ignored silently rather than answered with a comment.
func Parse(botHandle, author, body string) (Command, bool) {
	firstLine, _, _ := strings.Cut(body, "\n")
	tokens := strings.Fields(firstLine)
	if len(tokens) < 2 {
		return Command{}, false
	}
	if tokens[0] != "@"+botHandle {
		return Command{}, false
	}
	verb, ok := aliases[tokens[1]]
	if !ok {
		return Command{}, false
	}
	return Command{Verb: verb, Args: tokens[2:], Author: author}, true
}
