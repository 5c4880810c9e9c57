// SPDX-License-Identifier: Apache-2.0

// Package ingest splits source documents into indexable chunks. Markdown
// headings become section labels so retrieved passages can be cited down to
// the section level.
package ingest

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/index"
)

// targetChunkSize is the approximate chunk length in bytes. Paragraphs are
// packed into a chunk until it would grow past this size.
const targetChunkSize = 1000

// SplitDocument breaks text into chunks tagged with documentName and the
// nearest preceding markdown heading. Vectors are left empty for the caller
// to fill in after embedding.
func SplitDocument(documentName, text string) []index.Chunk {
	var chunks []index.Chunk

	section := ""
	var buf strings.Builder

	flush := func() {
		body := strings.TrimSpace(buf.String())
		buf.Reset()
		if body == "" {
			return
		}
		chunks = append(chunks, index.Chunk{
			ID:           uuid.NewString(),
			DocumentName: documentName,
			Section:      section,
			Text:         body,
		})
	}

	for _, paragraph := range splitParagraphs(text) {
		if heading, ok := parseHeading(paragraph); ok {
			flush()
			section = heading
			continue
		}

		if buf.Len() > 0 && buf.Len()+len(paragraph) > targetChunkSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(paragraph)
	}
	flush()

	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")

	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// parseHeading recognises a single-line markdown heading.
func parseHeading(paragraph string) (string, bool) {
	if strings.Contains(paragraph, "\n") || !strings.HasPrefix(paragraph, "#") {
		return "", false
	}

	heading := strings.TrimSpace(strings.TrimLeft(paragraph, "#"))
	if heading == "" {
		return "", false
	}
	return heading, true
}
