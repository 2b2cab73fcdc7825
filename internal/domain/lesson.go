package domain

// Track names a lesson table in the course. The value is the wire ID used in
// JSON and in the lesson TOML tables.
type Track string

const (
	TrackHTMLCSS    Track = "html_css"
	TrackJavaScript Track = "javascript"
)

// Label is the human-readable track name shown in published lessons.
func (t Track) Label() string {
	switch t {
	case TrackHTMLCSS:
		return "HTML/CSS"
	case TrackJavaScript:
		return "JavaScript"
	default:
		return string(t)
	}
}

// Topic is a static entry of a lesson table.
type Topic struct {
	Title    string `toml:"title" json:"title"`
	Theory   string `toml:"theory" json:"theory"`
	Homework string `toml:"homework" json:"homework"`
}

// Lesson is a topic resolved for a specific cursor position.
type Lesson struct {
	Index    int    `json:"lesson_index"`
	Track    Track  `json:"track"`
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Homework string `json:"homework"`
}
