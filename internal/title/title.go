// Package title derives the title each tab of a window should carry, given the
// window's marker tab. Everything here is a pure function of its inputs.
package title

import (
	"regexp"
	"strings"
)

var (
	markerPattern  = regexp.MustCompile(`^\[.*\]$`)
	bracketPrefix  = regexp.MustCompile(`^\[.*?\]\s*`)
	maxStripPasses = 16
)

// IsMarker reports whether title has the full `[Label]` form.
func IsMarker(title string) bool {
	return markerPattern.MatchString(title)
}

// Label returns the text between the outer brackets of a marker title, or ""
// when title is not a marker.
func Label(title string) string {
	if !IsMarker(title) {
		return ""
	}
	return title[1 : len(title)-1]
}

// MarkerTitle builds the marker title for label.
func MarkerTitle(label string) string {
	return "[" + label + "]"
}

// StripBracketPrefix removes one leading `[...]` segment and the whitespace
// after it.
func StripBracketPrefix(title string) string {
	return bracketPrefix.ReplaceAllString(title, "")
}

// StripPrefixes peels leading bracket segments and label prefixes off title
// until none is left. A layer that would leave nothing behind is kept.
func StripPrefixes(title string, labels ...string) string {
	out := title
	for pass := 0; pass < maxStripPasses; pass++ {
		next := stripOne(out, labels)
		if next == out || strings.TrimSpace(next) == "" {
			break
		}
		out = next
	}
	return out
}

func stripOne(title string, labels []string) string {
	if strings.HasPrefix(title, "[") {
		if stripped := StripBracketPrefix(title); stripped != title {
			return stripped
		}
	}
	for _, label := range labels {
		if label == "" {
			continue
		}
		if title == label {
			return ""
		}
		if strings.HasPrefix(title, label+" ") {
			return strings.TrimLeft(title[len(label):], " ")
		}
	}
	return title
}

// Desired computes the title a tab should carry. label is the window's marker
// label ("" when the window has no marker); applied is the label previously
// prefixed onto this tab, if any. Marker-shaped titles are returned unchanged.
//
// Only applied is stripped from inactive tabs, so a page whose own title
// starts with the label keeps it. The active tab also sheds label so it is
// never prefixed twice.
func Desired(current string, active bool, label, applied string) string {
	if IsMarker(current) {
		return current
	}
	labels := []string{applied}
	if active {
		labels = append(labels, label)
	}
	base := StripPrefixes(current, labels...)
	if active && label != "" {
		return label + " " + base
	}
	return base
}
