package logger

import (
	"github.com/sirupsen/logrus"
)

// Log готов к использованию сразу, с настройками logrus по умолчанию.
// Init перенастраивает уровень и формат под окружение.
var Log = logrus.New()

// Init инициализирует структурированный логгер.
func Init(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// JSON формат для production, text для development
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// Security возвращает entry для событий безопасности: повторное использование
// refresh токена, принудительный отзыв линии сессий, перебор кодов.
// Такие записи маркируются отдельно, чтобы их можно было выгружать в аудит.
func Security(event string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"audit": true,
		"event": event,
	})
}
