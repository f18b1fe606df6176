// Package fixtures provides test helpers for integration tests.
package fixtures

import "strings"

// Draft is one compose draft used to drive the pipeline in tests.
type Draft struct {
	Text    string
	HTML    string
	Subject string
}

// StrongDraft returns a draft tuned to score well: a hooky subject in
// the optimal length band, a four-paragraph 120-word body and a
// tappable link inside the first 200 characters.
func StrongDraft() Draft {
	lead := []string{"Please", "check", "out", "the", "product", "update", "page", "today"}
	for len(lead) < 30 {
		lead = append(lead, "because")
	}

	filler := strings.TrimSpace(strings.Repeat("content ", 30))
	paragraphs := []string{
		strings.Join(lead, " "),
		filler,
		filler,
		filler,
	}

	text := strings.Join(paragraphs, "\n\n")
	linked := strings.Replace(paragraphs[0],
		"product update page",
		`<a href="https://example.com/update">product update page</a>`, 1)
	html := "<div><p>" + linked + "</p><p>" + filler + "</p><p>" + filler + "</p><p>" + filler + "</p></div>"

	return Draft{
		Text:    text,
		HTML:    html,
		Subject: "Your March product update is live!!",
	}
}

// WeakDraft returns a draft that should grade poorly: a filler-opener
// subject, a single short paragraph and no call to action.
func WeakDraft() Draft {
	return Draft{
		Text:    "Can we talk about the thing sometime soon please today",
		HTML:    "",
		Subject: "Quick question",
	}
}
