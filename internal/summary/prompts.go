package summary

import "strings"

// Template placeholders.
const (
	chatContentVar = "{{chatContent}}"
	summariesVar   = "{{summaries}}"
)

// SmallPrompt summarizes one message window.
const SmallPrompt = `You are a story log assistant. Write a concise summary of the conversation below.

Requirements:
1. Record events, dialogue and character actions objectively
2. Keep key details (characters, places, important lines)
3. Write in the third person
4. Stay under 400 words
5. Output only the summary, with no preamble

Conversation:
{{chatContent}}`

// BigPrompt merges accumulated small summaries into one chapter.
const BigPrompt = `You are a story digest assistant. Merge the small summaries below into a shorter, denser big summary.

Requirements:
1. Keep the most important plot developments
2. Merge similar or consecutive events
3. Keep chronological order
4. Output one coherent summary

Small summaries:
{{summaries}}

Merged big summary:`

// DistillPrompt compacts small summaries into weighted records.
const DistillPrompt = `You are a story digest assistant. Distill the small summaries below into a short list of key records.

Requirements:
1. One record per important event or fact, in chronological order
2. Merge similar or consecutive events into one record
3. Give each record a weight between 0 and 1 for how much it matters to the ongoing story
4. Use exactly this format, one record per line:
[1] description of the event (0.80)
[2] description of the event (0.35)
5. Output only the records

Small summaries:
{{summaries}}`

func render(tmpl, placeholder, value string) string {
	return strings.ReplaceAll(tmpl, placeholder, value)
}
