package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolio-tracker/models"
	"portfolio-tracker/portfolio"
	"portfolio-tracker/store"
)

const priceBatchSize = 100

// Store is the PostgreSQL implementation of store.Store for registered users.
// It also keeps the daily price archive and the user table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrPersistence, op, err)
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]portfolio.Transaction, error) {
	var recs []models.TransactionRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&recs).Error; err != nil {
		return nil, persistErr("list transactions", err)
	}
	out := make([]portfolio.Transaction, len(recs))
	for i, r := range recs {
		out[i] = r.Transaction()
	}
	return out, nil
}

func (s *Store) ListSales(ctx context.Context, userID string) ([]portfolio.Sale, error) {
	var recs []models.SaleRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("sale_date DESC, id DESC").Find(&recs).Error; err != nil {
		return nil, persistErr("list sales", err)
	}
	out := make([]portfolio.Sale, len(recs))
	for i, r := range recs {
		out[i] = r.Sale()
	}
	return out, nil
}

func (s *Store) AddTransaction(ctx context.Context, userID string, tx portfolio.Transaction) error {
	rec := models.NewTransactionRecord(userID, tx)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return persistErr("add transaction", err)
	}
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, userID, id string, patch portfolio.TransactionPatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.TransactionRecord
		err := tx.Where("uid = ? AND user_id = ?", id, userID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: transaction %s", store.ErrNotFound, id)
		}
		if err != nil {
			return persistErr("find transaction", err)
		}

		updated := store.ApplyPatch(rec.Transaction(), patch)
		err = tx.Model(&rec).Updates(map[string]interface{}{
			"quantity":       updated.Quantity,
			"purchase_price": updated.PurchasePrice,
			"purchase_date":  updated.PurchaseDate,
		}).Error
		if err != nil {
			return persistErr("update transaction", err)
		}
		return nil
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("uid = ? AND user_id = ?", id, userID).Delete(&models.TransactionRecord{})
	if res.Error != nil {
		return persistErr("delete transaction", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: transaction %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) AddSale(ctx context.Context, userID string, sale portfolio.Sale) error {
	rec := models.NewSaleRecord(userID, sale)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return persistErr("add sale", err)
	}
	return nil
}

func (s *Store) GetAvailableCash(ctx context.Context, userID string) (float64, error) {
	var setting models.CashSetting
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, persistErr("get available cash", err)
	}
	return setting.AvailableCash, nil
}

func (s *Store) SetAvailableCash(ctx context.Context, userID string, amount float64) error {
	setting := models.CashSetting{UserID: userID, AvailableCash: amount, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"available_cash", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return persistErr("set available cash", err)
	}
	return nil
}

func (s *Store) ListCashDeposits(ctx context.Context, userID string) ([]portfolio.CashDeposit, error) {
	var recs []models.CashDepositRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("date DESC, id DESC").Find(&recs).Error; err != nil {
		return nil, persistErr("list cash deposits", err)
	}
	out := make([]portfolio.CashDeposit, len(recs))
	for i, r := range recs {
		out[i] = r.CashDeposit()
	}
	return out, nil
}

func (s *Store) AddCashDeposit(ctx context.Context, userID string, d portfolio.CashDeposit) error {
	rec := models.NewCashDepositRecord(userID, d)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return persistErr("add cash deposit", err)
	}
	return nil
}

func (s *Store) UpdateCashDeposit(ctx context.Context, userID string, d portfolio.CashDeposit) error {
	rec := models.NewCashDepositRecord(userID, d)
	res := s.db.WithContext(ctx).Model(&models.CashDepositRecord{}).
		Where("uid = ? AND user_id = ?", d.ID, userID).
		Updates(map[string]interface{}{
			"amount":    rec.Amount,
			"date":      rec.Date,
			"type":      rec.Type,
			"timestamp": rec.Timestamp,
		})
	if res.Error != nil {
		return persistErr("update cash deposit", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: cash deposit %s", store.ErrNotFound, d.ID)
	}
	return nil
}

func (s *Store) DeleteCashDeposit(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("uid = ? AND user_id = ?", id, userID).Delete(&models.CashDepositRecord{})
	if res.Error != nil {
		return persistErr("delete cash deposit", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: cash deposit %s", store.ErrNotFound, id)
	}
	return nil
}

// RecordPrices archives daily bars. Days already stored are left alone.
func (s *Store) RecordPrices(ctx context.Context, ticker string, points []portfolio.PricePoint) error {
	rows := make([]models.StockPrice, len(points))
	for i, p := range points {
		rows[i] = models.NewStockPrice(ticker, p)
	}
	if err := CreateInBatches(s.db.WithContext(ctx), rows, priceBatchSize); err != nil {
		return persistErr("record prices", err)
	}
	return nil
}

// GetHistoricalPrices serves archived bars, oldest first.
func (s *Store) GetHistoricalPrices(ctx context.Context, ticker string, from, to time.Time) ([]portfolio.PricePoint, error) {
	q := s.db.WithContext(ctx).Where("symbol = ?", portfolio.NormalizeTicker(ticker))
	if !from.IsZero() {
		q = q.Where("timestamp >= ?", portfolio.Day(from))
	}
	if !to.IsZero() {
		q = q.Where("timestamp <= ?", portfolio.Day(to))
	}
	var rows []models.StockPrice
	if err := q.Order("timestamp").Find(&rows).Error; err != nil {
		return nil, persistErr("list prices", err)
	}
	out := make([]portfolio.PricePoint, len(rows))
	for i, r := range rows {
		out[i] = r.PricePoint()
	}
	return out, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("%w: user %s", store.ErrNotFound, email)
	}
	if err != nil {
		return models.User{}, persistErr("find user", err)
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (models.User, error) {
	user := models.User{Email: email, Password: passwordHash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return models.User{}, persistErr("create user", err)
	}
	return user, nil
}
