package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avdeevramil/market-backend/internal/logger"
	"github.com/avdeevramil/market-backend/internal/mailer"
	"github.com/avdeevramil/market-backend/internal/models"
	"github.com/avdeevramil/market-backend/internal/pkg/apperror"
	"github.com/avdeevramil/market-backend/internal/repository"
)

// CodeStore описывает зависимости VerificationService от хранилища кодов.
type CodeStore interface {
	Replace(ctx context.Context, vc *models.VerificationCode) error
	GetLatest(ctx context.Context, accountID uuid.UUID, purpose string) (*models.VerificationCode, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	ForceExpire(ctx context.Context, id uuid.UUID) error
	MarkConsumed(ctx context.Context, id uuid.UUID) (bool, error)
}

// VerificationAccounts — срез аккаунтного репозитория, нужный верификации.
type VerificationAccounts interface {
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
}

// VerificationService выпускает и гасит одноразовые коды.
// Машина состояний кода: PENDING -> CONSUMED | EXPIRED | вытеснен новым.
type VerificationService struct {
	codes      CodeStore
	accounts   VerificationAccounts
	dispatcher mailer.Dispatcher

	emailTTL time.Duration
	otpTTL   time.Duration
	grantTTL time.Duration
}

// NewVerificationService создаёт сервис верификации.
func NewVerificationService(codes CodeStore, accounts VerificationAccounts, dispatcher mailer.Dispatcher, emailTTL, otpTTL, grantTTL time.Duration) *VerificationService {
	return &VerificationService{
		codes:      codes,
		accounts:   accounts,
		dispatcher: dispatcher,
		emailTTL:   emailTTL,
		otpTTL:     otpTTL,
		grantTTL:   grantTTL,
	}
}

// IssueCode генерирует код, сохраняет его (вытесняя прежний код того же
// назначения) и запускает доставку. Код хранится до доставки: сбой канала
// не делает уже сохранённый код недействительным.
func (s *VerificationService) IssueCode(ctx context.Context, account *models.Account, purpose string) (*models.VerificationCode, error) {
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("verification service: %w", err)
	}

	vc := &models.VerificationCode{
		AccountID: account.ID,
		Purpose:   purpose,
		Code:      code,
		ExpiresAt: time.Now().Add(s.ttlFor(purpose)),
	}
	if err := s.codes.Replace(ctx, vc); err != nil {
		return nil, err
	}

	if err := s.dispatcher.SendCode(ctx, account.Email, purpose, code); err != nil {
		// Код уже сохранён и остаётся действительным до истечения срока.
		logger.Log.WithFields(logrus.Fields{
			"account_id": account.ID,
			"purpose":    purpose,
			"error":      err.Error(),
		}).Warn("verification service: не удалось доставить код")
	}

	return vc, nil
}

// ConsumeCode проверяет предъявленный код и гасит его ровно один раз.
// Неверный ввод наращивает счётчик попыток; пятая неудача досрочно
// истекает код вместо бесконечного перебора.
func (s *VerificationService) ConsumeCode(ctx context.Context, accountID uuid.UUID, purpose, code string) error {
	vc, err := s.codes.GetLatest(ctx, accountID, purpose)
	if errors.Is(err, repository.ErrVerificationCodeNotFound) {
		return apperror.ErrInvalidCode
	}
	if err != nil {
		return err
	}

	switch {
	case vc.Consumed:
		return apperror.ErrCodeAlreadyUsed
	case vc.Attempts >= models.MaxCodeAttempts:
		return apperror.ErrTooManyAttempts
	case time.Now().After(vc.ExpiresAt):
		return apperror.ErrExpiredCode
	}

	if vc.Code != code {
		attempts, incErr := s.codes.IncrementAttempts(ctx, vc.ID)
		if incErr != nil && !errors.Is(incErr, repository.ErrVerificationCodeNotFound) {
			return incErr
		}
		if attempts >= models.MaxCodeAttempts {
			if expErr := s.codes.ForceExpire(ctx, vc.ID); expErr != nil {
				return expErr
			}
			logger.Security("code_bruteforce_lockout").WithFields(logrus.Fields{
				"account_id": accountID,
				"purpose":    purpose,
			}).Warn("verification service: код заблокирован после перебора")
			return apperror.ErrTooManyAttempts
		}
		return apperror.ErrInvalidCode
	}

	consumed, err := s.codes.MarkConsumed(ctx, vc.ID)
	if err != nil {
		return err
	}
	if !consumed {
		// Условная запись не прошла: конкурентный запрос успел погасить
		// или истечь код между чтением и записью.
		if time.Now().After(vc.ExpiresAt) {
			return apperror.ErrExpiredCode
		}
		return apperror.ErrCodeAlreadyUsed
	}

	if purpose == models.PurposeEmailVerify {
		if err := s.accounts.MarkEmailVerified(ctx, accountID); err != nil {
			return err
		}
	}

	return nil
}

// RegisterGrant сохраняет одноразовое разрешение (jti разрешения на смену
// пароля) в хранилище кодов, переиспользуя его семантику "погасить один раз".
func (s *VerificationService) RegisterGrant(ctx context.Context, accountID uuid.UUID, grantID uuid.UUID) error {
	vc := &models.VerificationCode{
		AccountID: accountID,
		Purpose:   models.PurposeResetGrant,
		Code:      grantID.String(),
		ExpiresAt: time.Now().Add(s.grantTTL),
	}
	return s.codes.Replace(ctx, vc)
}

// ConsumeGrant гасит разрешение; повторное предъявление отклоняется.
func (s *VerificationService) ConsumeGrant(ctx context.Context, accountID uuid.UUID, grantID uuid.UUID) error {
	err := s.ConsumeCode(ctx, accountID, models.PurposeResetGrant, grantID.String())
	switch apperror.CodeOf(err) {
	case apperror.ErrCodeInvalidCode, apperror.ErrCodeCodeAlreadyUsed, apperror.ErrCodeTooManyAttempts:
		return apperror.ErrInvalidResetAuthorization
	case apperror.ErrCodeExpiredCode:
		return apperror.ErrExpiredResetAuthorization
	}
	return err
}

func (s *VerificationService) ttlFor(purpose string) time.Duration {
	switch purpose {
	case models.PurposeEmailVerify:
		return s.emailTTL
	case models.PurposeResetGrant:
		return s.grantTTL
	default:
		// OTP, 2FA и сброс пароля живут коротко.
		return s.otpTTL
	}
}

// generateCode возвращает равномерно распределённый 6-значный код.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("не удалось сгенерировать код: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
