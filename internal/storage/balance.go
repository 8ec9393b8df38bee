package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrAccountNotFound    = errors.New("account not found")
)

// GormLedger 使用 GORM 管理用户点数
type GormLedger struct {
	db      *gorm.DB
	initial int        // 新用户初始点数
	mu      sync.Mutex // 串行化写操作
}

func NewGormLedger(db *gorm.DB, initialPoints int) *GormLedger {
	return &GormLedger{db: db, initial: initialPoints}
}

// GetOrCreate 返回账户；不存在时以初始点数创建
func (l *GormLedger) GetOrCreate(ctx context.Context, id, email string) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var acct Account
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).First(&acct)
		if result.Error == nil {
			return nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("database error loading account: %w", result.Error)
		}
		acct = Account{ID: id, Email: email, Points: l.initial}
		if err := tx.Create(&acct).Error; err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		zap.L().Info("Created new ledger account", zap.String("account_id", id), zap.Int("points", acct.Points))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Get 查询账户
func (l *GormLedger) Get(ctx context.Context, id string) (*Account, error) {
	var acct Account
	result := l.db.WithContext(ctx).Where("id = ?", id).First(&acct)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &acct, nil
}

// Deduct 检查余额并原子扣除 amount 点，返回剩余点数。
// 余额不足时返回 ErrInsufficientPoints，余额保持不变。
func (l *GormLedger) Deduct(ctx context.Context, id string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var remaining int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct Account
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&acct)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		if result.Error != nil {
			return fmt.Errorf("database error checking points: %w", result.Error)
		}

		if acct.Points < amount {
			return fmt.Errorf("%w (%d), need %d", ErrInsufficientPoints, acct.Points, amount)
		}

		remaining = acct.Points - amount
		updateResult := tx.Model(&Account{}).Where("id = ?", id).Update("points", remaining)
		if updateResult.Error != nil {
			return fmt.Errorf("failed to update points: %w", updateResult.Error)
		}
		if updateResult.RowsAffected == 0 {
			return fmt.Errorf("failed to update points, zero rows affected for %s", id)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientPoints) { // 余额不足属于正常流程
			zap.L().Error("Points deduction transaction failed", zap.String("account_id", id), zap.Error(err))
		}
		return 0, err
	}
	return remaining, nil
}

// AddPoints 为用户增加点数 (例如支付成功后)。账户不存在时以初始点数 + amount 创建。
func (l *GormLedger) AddPoints(ctx context.Context, id string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var total int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct Account
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&acct)

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			acct = Account{ID: id, Points: l.initial + amount}
			if err := tx.Create(&acct).Error; err != nil {
				return fmt.Errorf("failed to create account on add: %w", err)
			}
			total = acct.Points
			zap.L().Info("Created new ledger account via AddPoints", zap.String("account_id", id), zap.Int("points", total))
			return nil
		} else if result.Error != nil {
			return fmt.Errorf("database error checking points on add: %w", result.Error)
		}

		total = acct.Points + amount
		if err := tx.Model(&Account{}).Where("id = ?", id).Update("points", total).Error; err != nil {
			return fmt.Errorf("failed to update points on add: %w", err)
		}
		zap.L().Info("Added points for account", zap.String("account_id", id), zap.Int("amount", amount), zap.Int("points", total))
		return nil
	})
	return total, err
}
