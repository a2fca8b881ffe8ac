package sqlstore

import "time"

type roomModel struct {
	ID             uint   `gorm:"primaryKey"`
	JID            string `gorm:"column:jid;uniqueIndex;not null"`
	CreatedAt      time.Time
	Creator        string
	Subject        string
	SubjectNick    string
	SubjectChanged time.Time
}

func (roomModel) TableName() string { return "muc_rooms" }

type affiliationModel struct {
	RoomJID     string `gorm:"column:room_jid;primaryKey"`
	Bare        string `gorm:"primaryKey"`
	Affiliation string `gorm:"not null"`
}

func (affiliationModel) TableName() string { return "muc_affiliations" }

type configModel struct {
	RoomJID string   `gorm:"column:room_jid;primaryKey"`
	Name    string   `gorm:"primaryKey"`
	Values  []string `gorm:"column:field_values;serializer:json"`
}

func (configModel) TableName() string { return "muc_room_config" }
