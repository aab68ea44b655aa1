package slot

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/potholewatch/potholewatch/internal/datastore"
	"github.com/potholewatch/potholewatch/internal/errors"
)

// Entry is one slot row.
type Entry struct {
	Key       string `gorm:"column:slot_key;primaryKey;size:191"`
	Value     string `gorm:"size:16777215"` // mediumtext on MySQL, text on SQLite
	UpdatedAt time.Time
}

// TableName keeps slot rows apart from civic tables.
func (Entry) TableName() string { return "slot_entries" }

// Database is a slot stored in a gorm table.
type Database struct {
	store *datastore.Store
	quota int64
	owned bool
}

// NewDatabase migrates the slot table on store. When owned is true Close
// closes the store.
func NewDatabase(store *datastore.Store, quota int64, owned bool) (*Database, error) {
	if err := store.Migrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Database{store: store, quota: quota, owned: owned}, nil
}

func (d *Database) Get(ctx context.Context, key string) (string, bool, error) {
	var entry Entry
	err := d.store.DB.WithContext(ctx).Where("slot_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, d.dbError(err, key, "get")
	}
	return entry.Value, true, nil
}

func (d *Database) Set(ctx context.Context, key, value string) error {
	if d.quota > 0 && int64(len(value)) > d.quota {
		return quotaError(d.Name(), key, int64(len(value)), d.quota)
	}
	entry := Entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := d.store.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return d.dbError(err, key, "set")
	}
	return nil
}

func (d *Database) dbError(err error, key, op string) error {
	return errors.New(err).
		Component("slot").
		Category(errors.CategoryDatabase).
		Context("key", key).
		Context("operation", op).
		Context("dialect", d.store.Dialect).
		Build()
}

func (d *Database) Name() string { return "database" }

func (d *Database) Close() error {
	if d.owned {
		return d.store.Close()
	}
	return nil
}
