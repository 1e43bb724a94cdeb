package term

import (
	"regexp"
	"strings"
)

// Chrome patterns of the supported CLI TUIs. A line matching any of these is
// never part of the assistant's prose.
var chromeLine = []*regexp.Regexp{
	// Lines that are only box drawing, borders and whitespace.
	regexp.MustCompile(`^[\s─│┌┐└┘├┤┬┴┼╭╮╯╰═║╔╗╚╝>]+$`),
	// Spinner frames with their status tail ("✻ Thinking… (esc to interrupt)").
	regexp.MustCompile(`^\s*[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏✻✽✶✳✢·*+]\s+\S+…`),
	// Context / token status rows.
	regexp.MustCompile(`%\s*context left|tokens used|esc to interrupt|ctrl\+c to exit`),
	// Shortcut hint row.
	regexp.MustCompile(`\?\s*for shortcuts`),
	// Menu cursor rows.
	regexp.MustCompile(`^\s*❯`),
	// Mode indicator rows ("⏵⏵ accept edits on").
	regexp.MustCompile(`^\s*⏵`),
	// Prompt boxes: a border column followed by an input marker.
	regexp.MustCompile(`^\s*│\s*>`),
}

// leadingBullet strips the reply bullet the TUIs prefix to assistant lines.
var leadingBullet = regexp.MustCompile(`^\s*[●◦•·]\s?`)

// ExtractResponse filters rendered terminal text down to the assistant's
// prose by dropping TUI chrome. Lossy by construction; only a fallback when
// no structured transcript of the reply exists.
func ExtractResponse(rendered string) string {
	var kept []string
	for _, line := range strings.Split(rendered, "\n") {
		if isChrome(line) {
			continue
		}
		kept = append(kept, leadingBullet.ReplaceAllString(line, ""))
	}
	out := strings.Join(kept, "\n")
	out = strings.Trim(out, "\n")
	// Collapse runs of blank lines left behind by removed chrome blocks.
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return out
}

func isChrome(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	for _, re := range chromeLine {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
