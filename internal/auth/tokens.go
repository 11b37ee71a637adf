package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultIssuer     = "storefront"

	kindAccess  = "access"
	kindRefresh = "refresh"
)

// ErrInvalidToken возвращается для подделанного, просроченного или чужого токена.
var ErrInvalidToken = errors.New("invalid token")

// Config задаёт секрет подписи и время жизни токенов.
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
}

// Claims — полезная нагрузка JWT витрины.
type Claims struct {
	UserID int64  `json:"uid"`
	Staff  bool   `json:"staff,omitempty"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// Principal — аутентифицированный пользователь запроса.
type Principal struct {
	UserID int64
	Staff  bool
}

// Manager выпускает и проверяет пары access/refresh токенов (HS256).
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

// NewManager проверяет конфигурацию и создаёт менеджер токенов.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	return &Manager{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}, nil
}

// Issue выпускает пару токенов для пользователя.
func (m *Manager) Issue(user domain.User) (domain.AuthTokens, error) {
	now := m.now().UTC()

	access, accessExp, err := m.sign(user, kindAccess, now, m.accessTTL)
	if err != nil {
		return domain.AuthTokens{}, err
	}
	refresh, refreshExp, err := m.sign(user, kindRefresh, now, m.refreshTTL)
	if err != nil {
		return domain.AuthTokens{}, err
	}

	return domain.AuthTokens{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ParseAccess проверяет access-токен и возвращает пользователя запроса.
func (m *Manager) ParseAccess(raw string) (Principal, error) {
	claims, err := m.parse(raw, kindAccess)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: claims.UserID, Staff: claims.Staff}, nil
}

// ParseRefresh проверяет refresh-токен и возвращает идентификатор пользователя.
func (m *Manager) ParseRefresh(raw string) (int64, error) {
	claims, err := m.parse(raw, kindRefresh)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func (m *Manager) sign(user domain.User, kind string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expires := now.Add(ttl)
	claims := Claims{
		UserID: user.ID,
		Staff:  user.Staff,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expires, nil
}

func (m *Manager) parse(raw, kind string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Kind != kind || claims.UserID == 0 {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
