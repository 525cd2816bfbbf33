package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// Пакеты сервисного слоя пишут в Log до того, как main успевает вызвать
// Init. Логгер обязан работать с настройками по умолчанию.
func TestLogUsableWithoutInit(t *testing.T) {
	if Log == nil {
		t.Fatalf("Log должен быть готов без вызова Init")
	}

	prev := Log.Out
	var buf bytes.Buffer
	Log.SetOutput(&buf)
	defer Log.SetOutput(prev)

	Security("refresh_reuse").Warn("линия сессий отозвана")

	out := buf.String()
	if !strings.Contains(out, "refresh_reuse") {
		t.Fatalf("ожидалось событие в выводе, получили: %q", out)
	}
	if !strings.Contains(out, "audit") {
		t.Fatalf("записи безопасности должны нести поле audit: %q", out)
	}
}

func TestInitFallsBackToInfoLevel(t *testing.T) {
	Init("не-уровень")
	if Log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("при неизвестном уровне ожидался info, получили %v", Log.GetLevel())
	}
}
