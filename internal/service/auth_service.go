package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avdeevramil/market-backend/internal/logger"
	"github.com/avdeevramil/market-backend/internal/models"
	"github.com/avdeevramil/market-backend/internal/pkg/apperror"
	"github.com/avdeevramil/market-backend/internal/repository"
)

// AccountStore описывает зависимости AuthService от аккаунтного репозитория.
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateLastLoginAt(ctx context.Context, id uuid.UUID) error
	UpsertSellerProfile(ctx context.Context, profile *models.SellerProfile) error
	SetTwoFactorEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// SessionStore описывает зависимости от хранилища refresh сессий.
type SessionStore interface {
	Create(ctx context.Context, session *models.RefreshSession) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshSession, error)
	Rotate(ctx context.Context, parentTokenHash string, child *models.RefreshSession) error
	RevokeFamily(ctx context.Context, familyID uuid.UUID) (int64, error)
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	MarkTwoFactorPassed(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context, accountID uuid.UUID) ([]models.RefreshSession, error)
	RevokeByID(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error
}

// CodeIssuer — срез сервиса верификации, нужный аутентификации.
type CodeIssuer interface {
	IssueCode(ctx context.Context, account *models.Account, purpose string) (*models.VerificationCode, error)
	ConsumeCode(ctx context.Context, accountID uuid.UUID, purpose, code string) error
}

// SecurityNotifier доставляет клиентам события принудительного отзыва сессий.
type SecurityNotifier interface {
	SessionsRevoked(accountID uuid.UUID, reason string)
}

// AuthService инкапсулирует регистрацию, вход и жизненный цикл сессий.
type AuthService struct {
	accounts AccountStore
	sessions SessionStore
	tokens   *TokenManager
	codes    CodeIssuer
	notifier SecurityNotifier
}

// RegisterInput содержит данные пользователя при регистрации.
type RegisterInput struct {
	Email    string
	Password string
	Role     string
	ShopName string
}

// LoginInput содержит данные для входа.
type LoginInput struct {
	Email    string
	Password string
}

// RequestMeta несёт метаданные запроса для привязки к сессии.
type RequestMeta struct {
	UserAgent string
	IP        string
}

// LoginResult возвращает итог входа. Если включена двухфакторная
// аутентификация, пара ограничена (tfa=false) до подтверждения кода.
type LoginResult struct {
	Account           *models.Account
	TokenPair         *TokenPair
	RequiresTwoFactor bool
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(accounts AccountStore, sessions SessionStore, tokens *TokenManager, codes CodeIssuer, notifier SecurityNotifier) *AuthService {
	return &AuthService{
		accounts: accounts,
		sessions: sessions,
		tokens:   tokens,
		codes:    codes,
		notifier: notifier,
	}
}

// Register создаёт непроверенную учётную запись и отправляет код на email.
// Вход возможен только после подтверждения email.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	role := in.Role
	if role == "" {
		role = models.RoleBuyer
	}
	if !models.ValidRole(role) {
		return nil, apperror.New(apperror.ErrCodeValidation, "роль должна быть buyer, seller или admin")
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth service: не удалось захешировать пароль: %w", err)
	}

	account := &models.Account{
		Email:        in.Email,
		PasswordHash: string(passHash),
		Role:         role,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperror.ErrDuplicateIdentity
		}
		return nil, err
	}

	if role == models.RoleSeller {
		profile := &models.SellerProfile{
			AccountID: account.ID,
			ShopName:  in.ShopName,
		}
		if err := s.accounts.UpsertSellerProfile(ctx, profile); err != nil {
			return nil, err
		}
	}

	if _, err := s.codes.IssueCode(ctx, account, models.PurposeEmailVerify); err != nil {
		return nil, err
	}

	return account, nil
}

// VerifyEmail гасит код подтверждения и помечает email проверенным.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) error {
	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return apperror.ErrInvalidCode
	}
	if err != nil {
		return err
	}
	return s.codes.ConsumeCode(ctx, account.ID, models.PurposeEmailVerify, code)
}

// ResendVerificationCode выпускает новый код подтверждения email,
// вытесняя прежний. Частота ограничивается на уровне HTTP слоя.
func (s *AuthService) ResendVerificationCode(ctx context.Context, email string) error {
	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrAccountNotFound) {
		// Не раскрываем существование аккаунта.
		return nil
	}
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return apperror.New(apperror.ErrCodeValidation, "email уже подтверждён")
	}
	_, err = s.codes.IssueCode(ctx, account, models.PurposeEmailVerify)
	return err
}

// Login проверяет учётные данные и открывает новую линию сессий.
func (s *AuthService) Login(ctx context.Context, in LoginInput, meta RequestMeta) (*LoginResult, error) {
	account, err := s.accounts.GetByEmail(ctx, in.Email)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, apperror.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(in.Password)); err != nil {
		return nil, apperror.ErrInvalidCredentials
	}

	if !account.IsActive {
		return nil, apperror.New(apperror.ErrCodeForbidden, "аккаунт заблокирован")
	}
	if !account.EmailVerified {
		return nil, apperror.ErrUnverifiedAccount
	}

	if err := s.accounts.UpdateLastLoginAt(ctx, account.ID); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"account_id": account.ID,
			"error":      err.Error(),
		}).Warn("auth service: не удалось обновить last_login_at")
	}

	// При включённой 2FA пара ограничена до подтверждения кода.
	twoFactorPassed := !account.TwoFactorEnabled

	pair, _, err := s.openSession(ctx, account, twoFactorPassed, meta)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		Account:           account,
		TokenPair:         pair,
		RequiresTwoFactor: account.TwoFactorEnabled,
	}
	if account.TwoFactorEnabled {
		if _, err := s.codes.IssueCode(ctx, account, models.PurposeTwoFactor); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Refresh обменивает действующий refresh токен на новую пару.
// Повторное предъявление уже ротированного токена трактуется как кража:
// отзывается вся линия, и клиенту нужна полная повторная аутентификация.
func (s *AuthService) Refresh(ctx context.Context, presented string, meta RequestMeta) (*TokenPair, error) {
	if presented == "" {
		return nil, apperror.ErrInvalidRefresh
	}

	hash := HashRefreshToken(presented)
	session, err := s.sessions.GetByTokenHash(ctx, hash)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, apperror.ErrInvalidRefresh
	}
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusActive {
		return nil, s.revokeLineage(ctx, session, "refresh_reuse")
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, apperror.ErrExpiredRefresh
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		if _, revErr := s.sessions.RevokeFamily(ctx, session.FamilyID); revErr != nil {
			return nil, revErr
		}
		return nil, apperror.New(apperror.ErrCodeForbidden, "аккаунт заблокирован")
	}

	pair, err := s.rotate(ctx, account, hash, session, meta)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout отзывает предъявленный refresh токен.
// Access токен остаётся жить до своего естественного истечения.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}
	return s.sessions.RevokeByTokenHash(ctx, HashRefreshToken(presented))
}

// SendTwoFactorCode отправляет код второго фактора.
func (s *AuthService) SendTwoFactorCode(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.TwoFactorEnabled {
		return apperror.New(apperror.ErrCodeValidation, "двухфакторная аутентификация не включена")
	}
	_, err = s.codes.IssueCode(ctx, account, models.PurposeTwoFactor)
	return err
}

// VerifyTwoFactor гасит код второго фактора и повышает сессию:
// текущий refresh токен ротируется, новая пара несёт признак tfa=true.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, accountID uuid.UUID, presented, code string, meta RequestMeta) (*TokenPair, error) {
	if err := s.codes.ConsumeCode(ctx, accountID, models.PurposeTwoFactor, code); err != nil {
		return nil, err
	}

	hash := HashRefreshToken(presented)
	session, err := s.sessions.GetByTokenHash(ctx, hash)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, apperror.ErrInvalidRefresh
	}
	if err != nil {
		return nil, err
	}
	if session.AccountID != accountID || session.Status != models.SessionStatusActive {
		return nil, apperror.ErrInvalidRefresh
	}

	if err := s.sessions.MarkTwoFactorPassed(ctx, session.ID); err != nil {
		return nil, err
	}
	session.TwoFactor = true

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return s.rotate(ctx, account, hash, session, meta)
}

// SetTwoFactor включает или выключает 2FA для аккаунта.
func (s *AuthService) SetTwoFactor(ctx context.Context, accountID uuid.UUID, enabled bool) error {
	return s.accounts.SetTwoFactorEnabled(ctx, accountID, enabled)
}

// ListSessions возвращает активные сессии аккаунта.
func (s *AuthService) ListSessions(ctx context.Context, accountID uuid.UUID) ([]models.RefreshSession, error) {
	return s.sessions.ListActive(ctx, accountID)
}

// RevokeSession отзывает конкретную сессию аккаунта.
func (s *AuthService) RevokeSession(ctx context.Context, sessionID uuid.UUID, accountID uuid.UUID) error {
	err := s.sessions.RevokeByID(ctx, sessionID, accountID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return apperror.New(apperror.ErrCodeNotFound, "сессия не найдена")
	}
	return err
}

// openSession выпускает пару токенов и начинает новую линию сессий.
func (s *AuthService) openSession(ctx context.Context, account *models.Account, twoFactorPassed bool, meta RequestMeta) (*TokenPair, *models.RefreshSession, error) {
	access, _, err := s.tokens.NewAccessToken(account, twoFactorPassed)
	if err != nil {
		return nil, nil, err
	}

	refresh, hash, expiresAt, err := s.tokens.NewRefreshToken()
	if err != nil {
		return nil, nil, err
	}

	session := &models.RefreshSession{
		FamilyID:   uuid.New(),
		AccountID:  account.ID,
		TokenHash:  hash,
		Generation: 1,
		TwoFactor:  twoFactorPassed,
		ExpiresAt:  expiresAt,
	}
	applyMeta(session, meta)

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, session, nil
}

// rotate выполняет условную ротацию parent -> child и выпускает пару.
// Проигравший конкурентную ротацию запрос получает ReuseDetected.
func (s *AuthService) rotate(ctx context.Context, account *models.Account, parentHash string, parent *models.RefreshSession, meta RequestMeta) (*TokenPair, error) {
	refresh, hash, expiresAt, err := s.tokens.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	child := &models.RefreshSession{
		TokenHash: hash,
		ExpiresAt: expiresAt,
	}
	applyMeta(child, meta)

	if err := s.sessions.Rotate(ctx, parentHash, child); err != nil {
		if errors.Is(err, repository.ErrRotationConflict) {
			return nil, s.revokeLineage(ctx, parent, "refresh_race")
		}
		return nil, err
	}

	access, _, err := s.tokens.NewAccessToken(account, child.TwoFactor)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// revokeLineage отзывает всю линию сессий и возвращает ReuseDetected.
// Это единственный класс ошибок с побочным эффектом за пределами запроса,
// поэтому событие логируется отдельно для аудита.
func (s *AuthService) revokeLineage(ctx context.Context, session *models.RefreshSession, reason string) error {
	revoked, err := s.sessions.RevokeFamily(ctx, session.FamilyID)
	if err != nil {
		return err
	}

	logger.Security("refresh_reuse_detected").WithFields(logrus.Fields{
		"account_id": session.AccountID,
		"family_id":  session.FamilyID,
		"generation": session.Generation,
		"reason":     reason,
		"revoked":    revoked,
	}).Warn("auth service: повторное использование refresh токена, линия отозвана")

	if s.notifier != nil {
		s.notifier.SessionsRevoked(session.AccountID, reason)
	}

	return apperror.ErrReuseDetected
}

func applyMeta(session *models.RefreshSession, meta RequestMeta) {
	if meta.UserAgent != "" {
		ua := meta.UserAgent
		session.UserAgent = &ua
	}
	if meta.IP != "" {
		ip := meta.IP
		session.IPAddress = &ip
	}
}
