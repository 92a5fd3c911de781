package repository

import (
	"context"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"gorm.io/gorm"
)

type addressGormRepository struct {
	db *gorm.DB
}

// DI
func NewAddressGormRepository(db *gorm.DB) repo.AddressRepository {
	return &addressGormRepository{db: db}
}

// そのユーザーの住所だけを返す。他人の住所は存在しない扱い
func (r *addressGormRepository) FindOwned(ctx context.Context, addressID, userID int64) (model.Address, error) {
	var a model.Address
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		First(&a).Error
	if isNotFound(err) {
		return model.Address{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Address{}, err
	}
	return a, nil
}
