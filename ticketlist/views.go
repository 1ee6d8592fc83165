package ticketlist

import (
	"strconv"

	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/settings"
)

// ViewOption is one entry of the view picker.
type ViewOption struct {
	Title    string `json:"title"`
	ID       int64  `json:"id"`
	Selected bool   `json:"selected"`
}

// Picker is the view picker state.
type Picker struct {
	Options  []ViewOption `json:"options"`
	Disabled bool         `json:"disabled"`
}

// FilterViews builds the view picker: active views only, limited to the view
// filter when one is set. The current view always stays visible and is
// appended by id when the view list does not carry it.
func FilterViews(views []*prioritizer.View, s settings.Settings) Picker {
	var current int64
	if s.ViewID != nil {
		current = *s.ViewID
	}

	p := Picker{Disabled: s.ZendeskDomain == "", Options: []ViewOption{}}
	currentAdded := false
	for _, v := range views {
		if v == nil || !v.IsActive() {
			continue
		}
		isCurrent := current != 0 && v.ID == current
		if !s.ViewAllowed(v.ID) && !isCurrent {
			continue
		}

		title := v.Title
		if title == "" {
			title = strconv.FormatInt(v.ID, 10)
		}
		p.Options = append(p.Options, ViewOption{ID: v.ID, Title: title, Selected: isCurrent})
		currentAdded = currentAdded || isCurrent
	}

	if current != 0 && !currentAdded {
		p.Options = append(p.Options, ViewOption{ID: current, Title: strconv.FormatInt(current, 10), Selected: true})
	}
	return p
}
