package lesson

import (
	"fmt"
	"html"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

// Render formats a lesson as a Telegram HTML message dated in loc.
func Render(l domain.Lesson, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf(
		"📚 <b>%s</b>\n\n"+
			"💡 <b>Теория:</b>\n%s\n\n"+
			"📝 <b>Домашнее задание:</b>\n%s\n\n"+
			"✅ <b>Сдаём ДЗ:</b> ответом на это сообщение в этой же группе\n\n"+
			"🎯 <b>Уровень:</b> %s\n"+
			"📅 <b>Дата:</b> %s",
		html.EscapeString(l.Title),
		html.EscapeString(l.Text),
		html.EscapeString(l.Homework),
		html.EscapeString(l.Track.Label()),
		at.In(loc).Format("02.01.2006"),
	)
}
