// Package lesson holds the course tables and derives the lesson shown at any
// cursor position.
package lesson

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ashureev/codetutor/internal/domain"
)

//go:embed lessons.toml
var builtinTables []byte

// ErrNegativeIndex is returned by At for indices below zero.
var ErrNegativeIndex = errors.New("lesson index must be >= 0")

// Homework prefixes per track.
const (
	htmlCSSHomeworkPrefix    = "Сверстайте "
	javaScriptHomeworkPrefix = "Напишите "
)

// tables is the TOML layout of a lesson file.
type tables struct {
	HTMLCSS    []domain.Topic `toml:"html_css"`
	JavaScript []domain.Topic `toml:"javascript"`
}

// Catalog is an immutable pair of lesson tables.
type Catalog struct {
	htmlCSS    []domain.Topic
	javaScript []domain.Topic
}

// NewCatalog copies both tables. Neither may be empty.
func NewCatalog(htmlCSS, javaScript []domain.Topic) (*Catalog, error) {
	if len(htmlCSS) == 0 || len(javaScript) == 0 {
		return nil, fmt.Errorf("both lesson tables must be non-empty (html_css=%d, javascript=%d)",
			len(htmlCSS), len(javaScript))
	}
	return &Catalog{
		htmlCSS:    append([]domain.Topic(nil), htmlCSS...),
		javaScript: append([]domain.Topic(nil), javaScript...),
	}, nil
}

// Default returns the built-in course.
func Default() *Catalog {
	c, err := parse(builtinTables)
	if err != nil {
		panic(fmt.Sprintf("built-in lesson tables: %v", err))
	}
	return c
}

// LoadFile reads lesson tables from a TOML file with [[html_css]] and
// [[javascript]] arrays.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lesson file: %w", err)
	}
	c, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse lesson file %s: %w", path, err)
	}
	return c, nil
}

func parse(data []byte) (*Catalog, error) {
	var t tables
	if _, err := toml.Decode(string(data), &t); err != nil {
		return nil, err
	}
	return NewCatalog(t.HTMLCSS, t.JavaScript)
}

// Len returns the sizes of the HTML/CSS and JavaScript tables.
func (c *Catalog) Len() (htmlCSS, javaScript int) {
	return len(c.htmlCSS), len(c.javaScript)
}

// At derives the lesson for a cursor position. Rounds of len(html_css) indices
// alternate between the tracks, starting with HTML/CSS; the position within
// the chosen table is index modulo its own length.
func (c *Catalog) At(index int) (domain.Lesson, error) {
	if index < 0 {
		return domain.Lesson{}, ErrNegativeIndex
	}

	round := index / len(c.htmlCSS)
	track, table, prefix := domain.TrackHTMLCSS, c.htmlCSS, htmlCSSHomeworkPrefix
	if round%2 == 1 {
		track, table, prefix = domain.TrackJavaScript, c.javaScript, javaScriptHomeworkPrefix
	}

	pos := index % len(table)
	topic := table[pos]
	return domain.Lesson{
		Index:    index,
		Track:    track,
		Number:   pos + 1,
		Title:    fmt.Sprintf("Урок %d. %s", index+1, topic.Title),
		Text:     topic.Theory,
		Homework: prefix + strings.ToLower(topic.Homework),
	}, nil
}
