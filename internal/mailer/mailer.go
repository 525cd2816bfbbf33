package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/sirupsen/logrus"

	"github.com/avdeevramil/market-backend/internal/logger"
)

// Dispatcher доставляет одноразовый код по внешнему каналу (email/SMS).
// Доставка — внешний коллаборатор: код к моменту вызова уже сохранён,
// и ошибка доставки не делает его недействительным.
type Dispatcher interface {
	SendCode(ctx context.Context, email, purpose, code string) error
}

// LogDispatcher пишет код в лог вместо реальной отправки (development).
type LogDispatcher struct{}

func (LogDispatcher) SendCode(_ context.Context, email, purpose, code string) error {
	logger.Log.WithFields(logrus.Fields{
		"email":   email,
		"purpose": purpose,
		"code":    code,
	}).Info("mailer: код для отправки (dev режим)")
	return nil
}

// SMTPDispatcher отправляет код письмом через SMTP без аутентификации
// (предполагается локальный relay).
type SMTPDispatcher struct {
	Addr string
	From string
}

func (d *SMTPDispatcher) SendCode(_ context.Context, email, purpose, code string) error {
	subject := subjectFor(purpose)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\nВаш код подтверждения: %s\r\n",
		d.From, email, subject, code)

	if err := smtp.SendMail(d.Addr, nil, d.From, []string{email}, []byte(msg)); err != nil {
		return fmt.Errorf("mailer: не удалось отправить письмо: %w", err)
	}
	return nil
}

func subjectFor(purpose string) string {
	switch purpose {
	case "email_verify":
		return "Подтверждение email"
	case "password_reset":
		return "Сброс пароля"
	case "two_factor":
		return "Код входа"
	default:
		return "Код подтверждения"
	}
}
