package persistence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	var dial gorm.Dialector
	switch strings.TrimPrefix(cfg.PersistenceConfig.Type, "gorm-") {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// one connection, so that in-memory databases are shared and writers never contend
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(&types.User{}, &types.Room{}, &types.Message{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func translateGormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreUser(user types.User) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error
}

func (p *GormPersist) GetUser(user *types.User) error {
	return translateGormErr(p.db.Where("id = ?", user.Id).First(user).Error)
}

func (p *GormPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Order("id").Find(&users).Error
	return users, err
}

func (p *GormPersist) DeleteUser(user *types.User) error {
	res := p.db.Delete(&types.User{}, "id = ?", user.Id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *GormPersist) StoreRoom(room types.Room) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&room).Error
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	return translateGormErr(p.db.Where("id = ?", room.Id).First(room).Error)
}

func (p *GormPersist) DeleteRoom(room *types.Room) error {
	res := p.db.Delete(&types.Room{}, "id = ?", room.Id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *GormPersist) GetRooms(limit int) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	query := p.db.Order("last_activity DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) StoreMessage(message *types.Message) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&types.Room{}).Where("id = ?", message.RoomId).Update("last_activity", message.Timestamp).Error
	})
}

func (p *GormPersist) GetRecentMessages(roomId string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	query := p.db.Where("room_id = ?", roomId).Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&messages).Error
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func (p *GormPersist) DeleteMessagesBefore(before time.Time) (int, error) {
	res := p.db.Where("timestamp < ?", before).Delete(&types.Message{})
	return int(res.RowsAffected), res.Error
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
