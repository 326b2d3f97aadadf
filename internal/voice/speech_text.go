package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCodeRe   = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe   = regexp.MustCompile("`[^`]*`")
	markdownLinkRe = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	urlRe          = regexp.MustCompile(`https?://\S+`)
	listMarkerRe   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
)

var markupReplacer = strings.NewReplacer(
	"*", " ",
	"_", " ",
	"\\", " ",
	"/", " ",
	"|", " ",
	"#", " ",
	"~", " ",
	"<", " ",
	">", " ",
)

// sanitizeSpeechText strips markdown, links and emoji so synthesized speech
// reads the words only.
func sanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = fencedCodeRe.ReplaceAllString(raw, " ")
	raw = inlineCodeRe.ReplaceAllString(raw, " ")
	raw = markdownLinkRe.ReplaceAllString(raw, "$1")
	raw = urlRe.ReplaceAllString(raw, " ")
	raw = listMarkerRe.ReplaceAllString(raw, "")
	raw = markupReplacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	pendingSpace := false
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			// joiners and keycap marks
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r):
			// dropped
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// emoji and symbols
		case unicode.IsPunct(r) && !speakablePunct(r):
			pendingSpace = b.Len() > 0
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func speakablePunct(r rune) bool {
	return strings.ContainsRune(".,!?:;'\"-()", r)
}
