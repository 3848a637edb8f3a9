package schemas

// -- Recorded Event Schemas --

// EventType identifies the kind of recorded UI interaction.
type EventType string

const (
	EventClick      EventType = "click"
	EventTyping     EventType = "typing"
	EventHotkey     EventType = "hotkey"
	EventPress      EventType = "press"
	EventDragFromTo EventType = "dragFromTo"
	EventScroll     EventType = "scroll"
	EventWait       EventType = "wait"
)

// EventData carries the type-specific payload of a recorded event. The
// recorder emits a single flat object, so all fields live here and the
// consumer picks the ones relevant for the event type.
type EventData struct {
	X                   int      `json:"x,omitempty"`
	Y                   int      `json:"y,omitempty"`
	XEnd                int      `json:"xEnd,omitempty"`
	YEnd                int      `json:"yEnd,omitempty"`
	Text                string   `json:"text,omitempty"`
	NumClicks           int      `json:"numClicks,omitempty"`
	Key                 string   `json:"key,omitempty"`
	Keys                []string `json:"keys,omitempty"`
	ScrollDirection     string   `json:"scrollDirection,omitempty"`
	TotalScrollDistance int      `json:"totalScrollDistance,omitempty"`
}

// EventScreenshots holds the screenshot URLs captured around an event.
// Click events are best represented by the post-click ("end") frame; every
// other event type uses the pre-action ("start") frame.
type EventScreenshots struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Event is a single recorded interaction from the session log.
type Event struct {
	Type        EventType        `json:"type"`
	Data        EventData        `json:"data"`
	Screenshots EventScreenshots `json:"screenshots"`
}

// EventLog is the top-level structure of an events.json file.
type EventLog struct {
	Events []Event `json:"events"`
}

// ScreenshotURL returns the URL that represents this event in the notebook
// (end frame for clicks, start frame otherwise) and whether one is present.
func (e Event) ScreenshotURL() (string, bool) {
	url := e.Screenshots.Start
	if e.Type == EventClick {
		url = e.Screenshots.End
	}
	return url, url != ""
}
