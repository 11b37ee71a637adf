// Package confirm выдаёт и проверяет одноразовые коды подтверждения email и телефона.
package confirm

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
)

// Исходы отправки для метрик.
const (
	sendSent      = "sent"
	sendThrottled = "throttled"
	sendFailed    = "failed"
)

// Config задаёт длины кодов и окна кэша.
type Config struct {
	// CodeLength — длина кода входа по телефону.
	CodeLength int
	// RegisterCodeLength — длина кода подтверждения email.
	RegisterCodeLength int
	// ThrottleWindow — время, в течение которого повторная отправка запрещена.
	ThrottleWindow time.Duration
	// CacheLifetime — время жизни записи в кэше; код можно проверить, пока запись жива.
	CacheLifetime time.Duration
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		CodeLength:         4,
		RegisterCodeLength: 4,
		ThrottleWindow:     120 * time.Second,
		CacheLifetime:      3600 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CodeLength <= 0 {
		c.CodeLength = def.CodeLength
	}
	if c.RegisterCodeLength <= 0 {
		c.RegisterCodeLength = def.RegisterCodeLength
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = def.ThrottleWindow
	}
	if c.CacheLifetime < c.ThrottleWindow {
		c.CacheLifetime = def.CacheLifetime
	}
	return c
}

// TokenIssuer выдаёт пару токенов пользователю.
type TokenIssuer interface {
	Issue(user domain.User) (domain.AuthTokens, error)
}

// SendRequest — запрос на отправку кода. Пустая Salt заменяется нормализованным адресатом.
type SendRequest struct {
	Flow   domain.ConfirmationFlow
	Target string
	Salt   string
}

// VerifyRequest — проверка кода. UserID задаёт пользователя, чей email подтверждается;
// 0 означает поиск по адресу.
type VerifyRequest struct {
	Flow   domain.ConfirmationFlow
	Target string
	Salt   string
	Code   string
	UserID int64
}

// VerifyResult — пользователь после подтверждения и выданные ему токены.
type VerifyResult struct {
	User   domain.User
	Tokens *domain.AuthTokens
}

// Option настраивает Service.
type Option func(*Service)

// WithSender регистрирует канал доставки для сценария.
func WithSender(flow domain.ConfirmationFlow, sender domain.MessageSender) Option {
	return func(s *Service) {
		if sender != nil {
			s.senders[flow] = sender
		}
	}
}

// WithMetrics подключает метрики отправок.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodeGenerator подменяет генератор кодов.
func WithCodeGenerator(generate func(length int) (string, error)) Option {
	return func(s *Service) {
		if generate != nil {
			s.generate = generate
		}
	}
}

// Service реализует отправку и проверку кодов поверх CodeCache.
type Service struct {
	cache    domain.CodeCache
	users    domain.UserRepository
	tokens   TokenIssuer
	senders  map[domain.ConfirmationFlow]domain.MessageSender
	cfg      Config
	metrics  *metrics.StorefrontMetrics
	now      func() time.Time
	generate func(length int) (string, error)
	logger   *log.Entry
}

// NewService создаёт сервис подтверждений. tokens может быть nil: тогда токены не выдаются.
func NewService(cache domain.CodeCache, users domain.UserRepository, tokens TokenIssuer, cfg Config, opts ...Option) *Service {
	s := &Service{
		cache:    cache,
		users:    users,
		tokens:   tokens,
		senders:  make(map[domain.ConfirmationFlow]domain.MessageSender),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		generate: GenerateCode,
		logger:   log.WithField("component", "confirm"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateCode возвращает равномерно случайную строку десятичных цифр.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}
	ten := big.NewInt(10)
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// Send выдаёт новый код, если для соли нет действующего окна запрета.
// Запись резервируется в кэше до отправки, поэтому параллельный вызов с той же солью
// получает ThrottledError. При неуспехе доставки прежнее состояние кэша восстанавливается.
func (s *Service) Send(ctx context.Context, req SendRequest) (domain.CodeEntry, error) {
	target, err := normalizeTarget(req.Flow, req.Target)
	if err != nil {
		return domain.CodeEntry{}, err
	}
	sender, ok := s.senders[req.Flow]
	if !ok {
		return domain.CodeEntry{}, fmt.Errorf("no sender configured for %s flow", req.Flow)
	}
	salt := cacheKey(req.Flow, target, req.Salt)
	logger := s.logger.WithFields(log.Fields{"flow": req.Flow, "salt": salt})

	now := s.now()
	current, present, err := s.cache.Get(ctx, salt)
	if err != nil {
		return domain.CodeEntry{}, fmt.Errorf("read code cache: %w", err)
	}
	if present && current.Throttling(now) {
		s.metrics.RecordConfirmationSend(string(req.Flow), sendThrottled)
		return domain.CodeEntry{}, throttled(current, now)
	}

	code, err := s.generate(s.codeLength(req.Flow))
	if err != nil {
		return domain.CodeEntry{}, err
	}
	next := domain.CodeEntry{Code: code, ExpiresAt: now.Add(s.cfg.ThrottleWindow), Lookup: target}

	var expected *domain.CodeEntry
	if present {
		prev := current
		expected = &prev
	}
	if err := s.cache.CompareAndSwap(ctx, salt, expected, next, s.cfg.CacheLifetime); err != nil {
		if !errors.Is(err, domain.ErrCacheConflict) {
			return domain.CodeEntry{}, fmt.Errorf("store code: %w", err)
		}
		s.metrics.RecordConfirmationSend(string(req.Flow), sendThrottled)
		return domain.CodeEntry{}, s.throttledAfterConflict(ctx, salt, now)
	}

	if err := sender.Send(ctx, target, notify.CodeText(code)); err != nil {
		logger.WithError(err).Warn("confirmation code delivery failed")
		s.rollback(ctx, salt, expected, next)
		s.metrics.RecordConfirmationSend(string(req.Flow), sendFailed)
		if errors.Is(err, domain.ErrSendFailed) {
			return domain.CodeEntry{}, err
		}
		return domain.CodeEntry{}, fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}

	s.metrics.RecordConfirmationSend(string(req.Flow), sendSent)
	logger.Info("confirmation code sent")
	return next, nil
}

// Verify сверяет код с записью кэша и применяет побочный эффект сценария.
// Код принимается только для того адресата, которому он был отправлен.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	target, err := normalizeTarget(req.Flow, req.Target)
	if err != nil {
		return VerifyResult{}, err
	}
	salt := cacheKey(req.Flow, target, req.Salt)

	entry, present, err := s.cache.Get(ctx, salt)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("read code cache: %w", err)
	}
	if !present {
		return VerifyResult{}, domain.ErrNoCode
	}
	if entry.Lookup != target {
		s.logger.WithFields(log.Fields{"flow": req.Flow, "salt": salt}).Warn("confirmation code presented for another target")
		return VerifyResult{}, domain.ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Code)), []byte(entry.Code)) != 1 {
		return VerifyResult{}, domain.ErrInvalidCode
	}

	var user domain.User
	switch req.Flow {
	case domain.ConfirmationEmail:
		user, err = s.confirmEmail(ctx, req.UserID, target)
	case domain.ConfirmationPhone:
		user, err = s.loginByPhone(ctx, target)
	default:
		err = domain.NewValidationError("flow", "неизвестный сценарий подтверждения")
	}
	if err != nil {
		return VerifyResult{}, err
	}

	if err := s.cache.CompareAndDelete(ctx, salt, entry); err != nil {
		s.logger.WithError(err).WithField("salt", salt).Warn("confirmation code was not invalidated")
	}

	result := VerifyResult{User: user}
	if s.tokens != nil {
		tokens, err := s.tokens.Issue(user)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("issue tokens: %w", err)
		}
		result.Tokens = &tokens
	}
	return result, nil
}

func (s *Service) confirmEmail(ctx context.Context, userID int64, email string) (domain.User, error) {
	var (
		user domain.User
		err  error
	)
	if userID != 0 {
		user, err = s.users.GetUser(ctx, userID)
	} else {
		user, err = s.users.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return domain.User{}, err
	}
	if user.EmailConfirmed {
		return user, nil
	}
	if err := s.users.SetEmailConfirmed(ctx, user.ID, true); err != nil {
		return domain.User{}, fmt.Errorf("confirm email: %w", err)
	}
	user.EmailConfirmed = true
	return user, nil
}

func (s *Service) loginByPhone(ctx context.Context, phone string) (domain.User, error) {
	user, err := s.users.GetUserByPhone(ctx, phone)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		created, err := s.users.CreateUser(ctx, domain.User{
			Username:   phone,
			Phone:      phone,
			Active:     true,
			IsCustomer: true,
		})
		if err != nil {
			return domain.User{}, fmt.Errorf("create customer: %w", err)
		}
		s.logger.WithField("user_id", created.ID).Info("customer registered by phone")
		return created, nil
	case err != nil:
		return domain.User{}, err
	}

	if user.Active {
		return user, nil
	}
	user.Active = true
	updated, err := s.users.UpdateUser(ctx, user)
	if err != nil {
		return domain.User{}, fmt.Errorf("activate user: %w", err)
	}
	return updated, nil
}

// rollback возвращает кэш в состояние до резервирования.
func (s *Service) rollback(ctx context.Context, salt string, previous *domain.CodeEntry, reserved domain.CodeEntry) {
	var err error
	if previous == nil {
		err = s.cache.CompareAndDelete(ctx, salt, reserved)
	} else {
		err = s.cache.CompareAndSwap(ctx, salt, &reserved, *previous, s.cfg.CacheLifetime)
	}
	if err != nil {
		s.logger.WithError(err).WithField("salt", salt).Error("rollback of reserved confirmation code failed")
	}
}

func (s *Service) throttledAfterConflict(ctx context.Context, salt string, now time.Time) error {
	current, present, err := s.cache.Get(ctx, salt)
	if err != nil {
		return fmt.Errorf("read code cache: %w", err)
	}
	if !present {
		return &domain.ThrottledError{}
	}
	return throttled(current, now)
}

func (s *Service) codeLength(flow domain.ConfirmationFlow) int {
	if flow == domain.ConfirmationEmail {
		return s.cfg.RegisterCodeLength
	}
	return s.cfg.CodeLength
}

func throttled(entry domain.CodeEntry, now time.Time) error {
	return &domain.ThrottledError{Remaining: entry.Remaining(now), ExpiresAt: entry.ExpiresAt}
}

func normalizeTarget(flow domain.ConfirmationFlow, target string) (string, error) {
	target = strings.TrimSpace(target)
	switch flow {
	case domain.ConfirmationEmail:
		if !strings.Contains(target, "@") {
			return "", domain.NewValidationError("email", "введите правильный адрес электронной почты")
		}
		return strings.ToLower(target), nil
	case domain.ConfirmationPhone:
		if !domain.ValidPhone(target) {
			return "", domain.NewValidationError("phone", "телефон должен быть в формате +<цифры>")
		}
		return target, nil
	default:
		return "", domain.NewValidationError("flow", "неизвестный сценарий подтверждения")
	}
}

// cacheKey строит ключ записи кэша из сценария, нормализованного адресата и соли клиента.
func cacheKey(flow domain.ConfirmationFlow, target, salt string) string {
	key := string(flow) + ":" + target
	if s := strings.TrimSpace(salt); s != "" {
		key += ":" + s
	}
	return key
}
