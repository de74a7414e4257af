package database

import (
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolio-tracker/models"
)

// AutoMigrate creates or updates every table the service uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.TransactionRecord{},
		&models.SaleRecord{},
		&models.CashDepositRecord{},
		&models.CashSetting{},
		&models.StockPrice{},
	)
}

var (
	ErrInvalidBatchSize = fmt.Errorf("invalid batch size")
	ErrInvalidData      = fmt.Errorf("invalid data, expected slice")
)

// CreateInBatches inserts a slice of models in chunks inside one transaction.
// Rows that collide with an existing unique key are skipped.
func CreateInBatches(db *gorm.DB, data interface{}, batchSize int) error {
	if batchSize <= 0 {
		return ErrInvalidBatchSize
	}

	slice := reflect.ValueOf(data)
	if slice.Kind() != reflect.Slice {
		return ErrInvalidData
	}
	total := slice.Len()
	if total == 0 {
		return nil
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if tx.Error != nil {
		return tx.Error
	}

	for i := 0; i < total; i += batchSize {
		end := i + batchSize
		if end > total {
			end = total
		}

		chunk := slice.Slice(i, end).Interface()
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(chunk).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("batch insert failed: %w", err)
		}
	}

	return tx.Commit().Error
}
