package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avdeevramil/market-backend/internal/logger"
	"github.com/avdeevramil/market-backend/internal/models"
	"github.com/avdeevramil/market-backend/internal/pkg/apperror"
	"github.com/avdeevramil/market-backend/internal/repository"
)

// PasswordAccounts — срез аккаунтного репозитория для работы с паролями.
type PasswordAccounts interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// PasswordSessions — операции отзыва сессий при смене пароля.
type PasswordSessions interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshSession, error)
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	RevokeAllForAccountExcept(ctx context.Context, accountID uuid.UUID, exceptFamilyID uuid.UUID) (int64, error)
}

// ResetGrants — выпуск и одноразовое гашение разрешений на смену пароля.
type ResetGrants interface {
	IssueCode(ctx context.Context, account *models.Account, purpose string) (*models.VerificationCode, error)
	ConsumeCode(ctx context.Context, accountID uuid.UUID, purpose, code string) error
	RegisterGrant(ctx context.Context, accountID uuid.UUID, grantID uuid.UUID) error
	ConsumeGrant(ctx context.Context, accountID uuid.UUID, grantID uuid.UUID) error
}

// PasswordService реализует смену и сброс пароля.
// Сброс: OTP -> одноразовое разрешение -> новая учётка, все сессии отозваны.
type PasswordService struct {
	accounts PasswordAccounts
	sessions PasswordSessions
	tokens   *TokenManager
	grants   ResetGrants
	notifier SecurityNotifier
}

// NewPasswordService создаёт сервис работы с паролями.
func NewPasswordService(accounts PasswordAccounts, sessions PasswordSessions, tokens *TokenManager, grants ResetGrants, notifier SecurityNotifier) *PasswordService {
	return &PasswordService{
		accounts: accounts,
		sessions: sessions,
		tokens:   tokens,
		grants:   grants,
		notifier: notifier,
	}
}

// RequestReset отправляет OTP для сброса пароля. Существование аккаунта
// не раскрывается: для неизвестного email запрос завершается успехом.
func (s *PasswordService) RequestReset(ctx context.Context, email string) error {
	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrAccountNotFound) {
		logger.Log.WithField("email", email).Debug("password service: запрос сброса для неизвестного email")
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.grants.IssueCode(ctx, account, models.PurposePasswordReset)
	return err
}

// VerifyResetOTP гасит OTP и выдаёт короткоживущее одноразовое разрешение
// на смену пароля. Разрешение — не сессия входа.
func (s *PasswordService) VerifyResetOTP(ctx context.Context, email, code string) (string, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return "", apperror.ErrInvalidCode
	}
	if err != nil {
		return "", err
	}

	if err := s.grants.ConsumeCode(ctx, account.ID, models.PurposePasswordReset, code); err != nil {
		return "", err
	}

	grantID := uuid.New()
	if err := s.grants.RegisterGrant(ctx, account.ID, grantID); err != nil {
		return "", err
	}

	return s.tokens.NewResetAuthorization(account.ID, grantID)
}

// Reset гасит разрешение, устанавливает новый пароль и отзывает все
// refresh сессии аккаунта (принудительный выход на всех устройствах).
func (s *PasswordService) Reset(ctx context.Context, authorization, newPassword string) error {
	accountID, grantID, err := s.tokens.ParseResetAuthorization(authorization)
	if err != nil {
		if errors.Is(err, ErrResetAuthorizationExpired) {
			return apperror.ErrExpiredResetAuthorization
		}
		return apperror.ErrInvalidResetAuthorization
	}

	if err := s.grants.ConsumeGrant(ctx, accountID, grantID); err != nil {
		return err
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := s.accounts.UpdatePasswordHash(ctx, accountID, string(passHash)); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return apperror.ErrInvalidResetAuthorization
		}
		return err
	}

	revoked, err := s.sessions.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return err
	}

	logger.Security("password_reset").WithFields(logrus.Fields{
		"account_id": accountID,
		"revoked":    revoked,
	}).Info("password service: пароль сброшен, сессии отозваны")

	if s.notifier != nil {
		s.notifier.SessionsRevoked(accountID, "password_reset")
	}

	return nil
}

// Change меняет пароль аутентифицированного пользователя. Прочие сессии
// отзываются; линия текущего refresh токена продолжает жить.
func (s *PasswordService) Change(ctx context.Context, accountID uuid.UUID, oldPassword, newPassword, currentRefresh string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(oldPassword)); err != nil {
		return apperror.ErrInvalidCredentials
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := s.accounts.UpdatePasswordHash(ctx, accountID, string(passHash)); err != nil {
		return err
	}

	if currentRefresh != "" {
		session, err := s.sessions.GetByTokenHash(ctx, HashRefreshToken(currentRefresh))
		if err == nil && session.AccountID == accountID {
			_, err = s.sessions.RevokeAllForAccountExcept(ctx, accountID, session.FamilyID)
			return err
		}
	}

	_, err = s.sessions.RevokeAllForAccount(ctx, accountID)
	return err
}
