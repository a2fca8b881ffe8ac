// Package sqlstore persists rooms through gorm on SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
	"github.com/dkeye/muc/internal/storage"
)

type Store struct {
	db *gorm.DB
}

var _ storage.DAO = (*Store)(nil)

// Open connects with driver "sqlite" or "postgres" and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&roomModel{}, &affiliationModel{}, &configModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("module", "storage.sql").Str("dialect", db.Dialector.Name()).Msg("schema ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ConfigStore returns the room configuration key/value store.
func (s *Store) ConfigStore() core.ConfigStore { return ConfigStore{db: s.db} }

func (s *Store) CreateRoom(ctx context.Context, rec core.RoomRecord) (string, error) {
	key := rec.ID.String()
	row := roomModel{
		JID:            key,
		CreatedAt:      rec.Created,
		Creator:        rec.Creator,
		Subject:        rec.Subject.Text,
		SubjectNick:    rec.Subject.Nick,
		SubjectChanged: rec.Subject.Changed,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "jid"}},
			DoUpdates: clause.AssignmentColumns([]string{"created_at", "creator", "subject", "subject_nick", "subject_changed"}),
		}).Create(&row).Error; err != nil {
			return err
		}
		var stored roomModel
		if err := tx.Where("jid = ?", key).First(&stored).Error; err != nil {
			return err
		}
		row.ID = stored.ID
		for bare, a := range rec.Affiliations {
			if err := upsertAffiliation(tx, key, bare, a); err != nil {
				return err
			}
		}
		if rec.Config != nil {
			return rec.Config.Write(ctx, ConfigStore{db: tx}, rec.ID)
		}
		return nil
	})
	if err != nil {
		log.Error().Str("module", "storage.sql").Str("room", key).Err(err).Msg("create room")
		return "", fmt.Errorf("create room %s: %w", key, err)
	}
	id := strconv.FormatUint(uint64(row.ID), 10)
	log.Debug().Str("module", "storage.sql").Str("room", key).Str("id", id).Msg("room stored")
	return id, nil
}

func (s *Store) GetRoom(ctx context.Context, id jid.JID) (core.RoomRecord, bool, error) {
	key := id.String()
	var row roomModel
	err := s.db.WithContext(ctx).Where("jid = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.RoomRecord{}, false, nil
	}
	if err != nil {
		return core.RoomRecord{}, false, fmt.Errorf("get room %s: %w", key, err)
	}
	cfg := core.NewRoomConfig(id)
	if err := cfg.Read(ctx, s.ConfigStore(), id); err != nil {
		return core.RoomRecord{}, false, err
	}
	return core.RoomRecord{
		ID:      id,
		StoreID: strconv.FormatUint(uint64(row.ID), 10),
		Config:  cfg,
		Created: row.CreatedAt,
		Creator: row.Creator,
		Subject: domain.Subject{Text: row.Subject, Nick: row.SubjectNick, Changed: row.SubjectChanged},
	}, true, nil
}

func (s *Store) DestroyRoom(ctx context.Context, id jid.JID) error {
	key := id.String()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_jid = ?", key).Delete(&configModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_jid = ?", key).Delete(&affiliationModel{}).Error; err != nil {
			return err
		}
		return tx.Where("jid = ?", key).Delete(&roomModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("destroy room %s: %w", key, err)
	}
	log.Debug().Str("module", "storage.sql").Str("room", key).Msg("room deleted")
	return nil
}

func (s *Store) SetAffiliation(ctx context.Context, room jid.JID, bare string, aff domain.Affiliation) error {
	if err := upsertAffiliation(s.db.WithContext(ctx), room.String(), bare, aff); err != nil {
		return fmt.Errorf("set affiliation %s in %s: %w", bare, room, err)
	}
	return nil
}

func upsertAffiliation(db *gorm.DB, room, bare string, aff domain.Affiliation) error {
	if aff == domain.AffiliationNone {
		return db.Where("room_jid = ? AND bare = ?", room, bare).Delete(&affiliationModel{}).Error
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_jid"}, {Name: "bare"}},
		DoUpdates: clause.AssignmentColumns([]string{"affiliation"}),
	}).Create(&affiliationModel{RoomJID: room, Bare: bare, Affiliation: aff.String()}).Error
}

func (s *Store) GetAffiliations(ctx context.Context, room jid.JID) (map[string]domain.Affiliation, error) {
	var rows []affiliationModel
	if err := s.db.WithContext(ctx).Where("room_jid = ?", room.String()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get affiliations of %s: %w", room, err)
	}
	out := make(map[string]domain.Affiliation, len(rows))
	for _, r := range rows {
		a, err := domain.ParseAffiliation(r.Affiliation)
		if err != nil {
			log.Warn().Str("module", "storage.sql").Str("room", room.String()).Str("jid", r.Bare).Err(err).Msg("skipping malformed affiliation")
			continue
		}
		out[r.Bare] = a
	}
	return out, nil
}

func (s *Store) SetSubject(ctx context.Context, room jid.JID, subject domain.Subject) error {
	err := s.db.WithContext(ctx).Model(&roomModel{}).Where("jid = ?", room.String()).Updates(map[string]any{
		"subject":         subject.Text,
		"subject_nick":    subject.Nick,
		"subject_changed": subject.Changed,
	}).Error
	if err != nil {
		return fmt.Errorf("set subject of %s: %w", room, err)
	}
	return nil
}

func (s *Store) UpdateRoomConfig(ctx context.Context, cfg *core.RoomConfig) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return cfg.Write(ctx, ConfigStore{db: tx}, cfg.RoomID())
	})
}

func (s *Store) GetRoomsJIDList(ctx context.Context) ([]jid.JID, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&roomModel{}).Order("jid").Pluck("jid", &keys).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]jid.JID, 0, len(keys))
	for _, k := range keys {
		j, err := jid.Parse(k)
		if err != nil {
			log.Warn().Str("module", "storage.sql").Str("room", k).Err(err).Msg("skipping malformed room jid")
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// ConfigStore keeps one row per (room, field).
type ConfigStore struct {
	db *gorm.DB
}

func (c ConfigStore) Keys(ctx context.Context, node string) ([]string, error) {
	var keys []string
	err := c.db.WithContext(ctx).Model(&configModel{}).Where("room_jid = ?", node).Order("name").Pluck("name", &keys).Error
	return keys, err
}

func (c ConfigStore) Get(ctx context.Context, node, key string) ([]string, error) {
	var row configModel
	err := c.db.WithContext(ctx).Where("room_jid = ? AND name = ?", node, key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return row.Values, err
}

func (c ConfigStore) Put(ctx context.Context, node, key string, values []string) error {
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_jid"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"field_values"}),
	}).Create(&configModel{RoomJID: node, Name: key, Values: values}).Error
}

func (c ConfigStore) Remove(ctx context.Context, node, key string) error {
	return c.db.WithContext(ctx).Where("room_jid = ? AND name = ?", node, key).Delete(&configModel{}).Error
}
