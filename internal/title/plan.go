package title

import "github.com/dgnsrekt/titlesync/internal/tabs"

// Update is a pending title change for one tab.
type Update struct {
	Tab   tabs.Tab
	Title string
	// Prefix is the label the new title starts with, "" when it carries none.
	Prefix string
}

// FindMarker returns the first tab in host order whose title is a marker.
// Host order may follow recent activity, so with several marker-shaped tabs
// the winner can change as the user switches tabs.
func FindMarker(list []tabs.Tab) (tabs.Tab, bool) {
	for _, t := range list {
		if IsMarker(t.Title) {
			return t, true
		}
	}
	return tabs.Tab{}, false
}

// WindowLabel returns the label of the window whose tabs are list.
func WindowLabel(list []tabs.Tab) string {
	marker, ok := FindMarker(list)
	if !ok {
		return ""
	}
	return Label(marker.Title)
}

// Plan computes the title changes needed for one window. applied maps a tab
// to the label previously prefixed onto it and may be nil. Tabs on a
// restricted scheme never appear in the result.
func Plan(list []tabs.Tab, restricted []string, applied map[tabs.TabID]string) []Update {
	marker, hasMarker := FindMarker(list)
	label := ""
	if hasMarker {
		label = Label(marker.Title)
	}

	var out []Update
	for _, t := range list {
		if hasMarker && t.ID == marker.ID {
			continue
		}
		if Restricted(t.URL, restricted) {
			continue
		}
		want := Desired(t.Title, t.Active, label, applied[t.ID])
		if want == t.Title {
			continue
		}
		u := Update{Tab: t, Title: want}
		if t.Active && label != "" {
			u.Prefix = label
		}
		out = append(out, u)
	}
	return out
}
