// Copyright 2024-2026 Aiku AI

// Package chatfmt converts between Mattermost markdown and the single-line
// plain text a game server chat understands.
package chatfmt

import (
	"regexp"
	"strings"
)

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	starItalicRe = regexp.MustCompile(`\*([^*\s][^*]*?)\*`)
	italicRe     = regexp.MustCompile(`(^|[^\p{L}\p{N}_])_([^_]+?)_($|[^\p{L}\p{N}_])`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(?:[\\w+-]+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	headingRe    = regexp.MustCompile(`^#{1,6}\s+`)
	blockquoteRe = regexp.MustCompile(`^>\s?`)
	ulRe         = regexp.MustCompile(`^[-*+]\s+`)
	spaceRe      = regexp.MustCompile(`\s+`)
	mentionRe    = regexp.MustCompile(`(?i)@(all|channel|here)\b`)
)

// ToGameText flattens Mattermost markdown into one line of plain text.
// Formatting markers are removed, links become "text (url)", and Minecraft
// section-sign color codes are stripped so players cannot inject them.
func ToGameText(markdown string) string {
	if markdown == "" {
		return ""
	}
	text := strings.ReplaceAll(markdown, "§", "")

	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		return " " + strings.TrimSpace(parts[1]) + " "
	})

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		line = headingRe.ReplaceAllString(line, "")
		line = blockquoteRe.ReplaceAllString(line, "")
		line = ulRe.ReplaceAllString(line, "- ")
		lines[i] = line
	}
	text = strings.Join(lines, " ")

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		if label == href {
			return href
		}
		return label + " (" + href + ")"
	})
	text = codeRe.ReplaceAllString(text, "$1")
	text = boldRe.ReplaceAllString(text, "$1")
	text = strikeRe.ReplaceAllString(text, "$1")
	text = starItalicRe.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1$2$3")

	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`~`, `\~`,
	"`", "\\`",
	`[`, `\[`,
	`]`, `\]`,
	`|`, `\|`,
	`<`, `\<`,
	`>`, `\>`,
	`#`, `\#`,
)

// EscapeMarkdown makes s render literally when embedded in Mattermost
// markdown, e.g. inside **bold** announcement markers.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// DisarmMentions breaks channel-wide mentions (@all, @channel, @here) with a
// zero-width space so relayed game chat cannot notify a whole channel.
func DisarmMentions(s string) string {
	return mentionRe.ReplaceAllString(s, "@\u200b$1")
}
