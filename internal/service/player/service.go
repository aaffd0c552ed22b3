package player

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"arcade-service/internal/model"
	"arcade-service/internal/service/ledger"
	pkgAuth "arcade-service/pkg/auth"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// StarterCoins is granted once on registration.
const StarterCoins int64 = 1000

const (
	statusNormal = "normal"
	statusBanned = "banned"
)

type Service struct {
	db *gorm.DB
}

type LoginResult struct {
	Token    string    `json:"token"`
	ExpireAt time.Time `json:"expireAt"`
	Player   Profile   `json:"player"`
}

type Profile struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Nickname      string    `json:"nickname"`
	Coins         int64     `json:"coins"`
	TotalWagered  int64     `json:"totalWagered"`
	TotalReturned int64     `json:"totalReturned"`
	CreatedAt     time.Time `json:"createdAt"`
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Register(ctx context.Context, username, password, nickname string) (*LoginResult, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if n := utf8.RuneCountInString(username); n < 3 || n > 32 {
		return nil, appErr.ErrInvalidCredentials
	}
	if len(password) < 6 {
		return nil, appErr.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(nickname) == "" {
		nickname = username
	}

	p := model.Player{
		Username:     username,
		PasswordHash: string(hash),
		Nickname:     nickname,
		Status:       statusNormal,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return appErr.ErrUsernameTaken
			}
			return appErr.Transient(err)
		}
		book := ledger.NewBook(tx, time.Now())
		coins, err := book.Credit(p.ID, StarterCoins, ledger.Entry{
			Type: model.BillingAdjust,
			Meta: map[string]interface{}{"reason": "starter"},
		})
		if err != nil {
			return err
		}
		p.Coins = coins
		return book.Flush()
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Info("player registered", zap.Int64("playerID", p.ID), zap.String("username", p.Username))
	return s.issue(p)
}

func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var p model.Player
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrInvalidCredentials
		}
		return nil, appErr.Transient(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return nil, appErr.ErrInvalidCredentials
	}
	if strings.EqualFold(p.Status, statusBanned) {
		return nil, appErr.ErrPlayerBanned
	}
	return s.issue(p)
}

func (s *Service) Profile(ctx context.Context, playerID int64) (*Profile, error) {
	var p model.Player
	if err := s.db.WithContext(ctx).First(&p, playerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrPlayerNotFound
		}
		return nil, appErr.Transient(err)
	}
	profile := toProfile(p)
	return &profile, nil
}

// Active reports whether the player exists and may play.
func (s *Service) Active(ctx context.Context, playerID int64) error {
	var p model.Player
	if err := s.db.WithContext(ctx).Select("id", "status").First(&p, playerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.ErrAuthenticationRequired
		}
		return appErr.Transient(err)
	}
	if strings.EqualFold(p.Status, statusBanned) {
		return appErr.ErrPlayerBanned
	}
	return nil
}

func (s *Service) issue(p model.Player) (*LoginResult, error) {
	token, expireAt, err := pkgAuth.GenerateToken(p.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpireAt: expireAt, Player: toProfile(p)}, nil
}

func toProfile(p model.Player) Profile {
	return Profile{
		ID:            p.ID,
		Username:      p.Username,
		Nickname:      p.Nickname,
		Coins:         p.Coins,
		TotalWagered:  p.TotalWagered,
		TotalReturned: p.TotalReturned,
		CreatedAt:     p.CreatedAt,
	}
}
