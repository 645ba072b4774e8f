package registry

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/index"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// IndexModel 索引定义表，ID 自增，决定表上索引的定义顺序
type IndexModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement;column:id"`
	Database  string    `gorm:"size:128;not null;uniqueIndex:uk_index_name,priority:1;column:db_name"`
	Table     string    `gorm:"size:128;not null;uniqueIndex:uk_index_name,priority:2;column:tbl_name"`
	Name      string    `gorm:"size:128;not null;uniqueIndex:uk_index_name,priority:3;column:index_name"`
	Fields    string    `gorm:"type:text;not null;column:fields"`
	Unique    bool      `gorm:"not null;column:is_unique"`
	Active    bool      `gorm:"not null;column:active"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (IndexModel) TableName() string {
	return "secidx_index"
}

// StatusModel 每个索引最新的构建进度，内容为 JSON
type StatusModel struct {
	PhysicalTable string    `gorm:"primaryKey;size:400;column:physical_table"`
	BuildID       string    `gorm:"size:36;not null;column:build_id"`
	Content       string    `gorm:"type:text;not null;column:content"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (StatusModel) TableName() string {
	return "secidx_build_status"
}

// GenerationModel 表上索引的版本
type GenerationModel struct {
	Database   string `gorm:"primaryKey;size:128;column:db_name"`
	Table      string `gorm:"primaryKey;size:128;column:tbl_name"`
	Generation int64  `gorm:"not null;column:generation"`
}

func (GenerationModel) TableName() string {
	return "secidx_generation"
}

type GormRegistryOptions struct {
	// Driver 数据库驱动：sqlite, mysql
	Driver string `cfg:"driver" def:"sqlite" validate:"oneof=sqlite mysql"`
	DSN    string `cfg:"dsn" validate:"required"`

	MaxOpenConns int `cfg:"maxOpenConns" def:"10"`
	MaxIdleConns int `cfg:"maxIdleConns" def:"5"`

	// 打印 SQL
	Debug bool `cfg:"debug"`
}

// GormRegistry 基于 gorm 的注册表，多个进程可以共享
type GormRegistry struct {
	db *gorm.DB
}

func NewGormRegistryWithOptions(options *GormRegistryOptions) (*GormRegistry, error) {
	if options == nil || options.DSN == "" {
		return nil, errors.New("gorm registry dsn is required")
	}

	config := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if options.Debug {
		config.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var dialector gorm.Dialector
	switch options.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(options.DSN)
	case "mysql":
		dialector = mysql.Open(options.DSN)
	default:
		return nil, errors.Errorf("unsupported database driver: %s", options.Driver)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, errors.Wrapf(err, "gorm.Open failed. driver: %s", options.Driver)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "db.DB failed")
	}
	if options.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(options.MaxOpenConns)
	}
	if options.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(options.MaxIdleConns)
	}

	return NewGormRegistry(db)
}

// NewGormRegistry 使用已有的连接，自动迁移注册表需要的表
func NewGormRegistry(db *gorm.DB) (*GormRegistry, error) {
	if err := db.AutoMigrate(&IndexModel{}, &StatusModel{}, &GenerationModel{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate failed")
	}
	return &GormRegistry{db: db}, nil
}

func toModel(idx *index.Index) (*IndexModel, error) {
	fields, err := json.Marshal(idx.Fields)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal fields failed")
	}
	return &IndexModel{
		Database:  idx.Database,
		Table:     idx.Table,
		Name:      idx.Name,
		Fields:    string(fields),
		Unique:    idx.Unique,
		Active:    idx.Active,
		CreatedAt: idx.CreatedAt,
		UpdatedAt: idx.UpdatedAt,
	}, nil
}

func fromModel(m *IndexModel) (*index.Index, error) {
	idx := &index.Index{
		Database:  m.Database,
		Table:     m.Table,
		Name:      m.Name,
		Unique:    m.Unique,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(m.Fields), &idx.Fields); err != nil {
		return nil, errors.Wrapf(err, "json.Unmarshal fields of index %s failed", m.Name)
	}
	return idx, nil
}

// bump 在事务中增加表的版本
func bump(tx *gorm.DB, database, table string) error {
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "db_name"}, {Name: "tbl_name"}},
		DoUpdates: clause.Assignments(map[string]any{"generation": gorm.Expr("generation + 1")}),
	}).Create(&GenerationModel{Database: database, Table: table, Generation: 1})
	return errors.Wrap(result.Error, "bump generation failed")
}

func (r *GormRegistry) CreateIndex(ctx context.Context, idx *index.Index) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	m, err := toModel(idx)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&IndexModel{}).
			Where("db_name = ? AND tbl_name = ? AND index_name = ?", idx.Database, idx.Table, idx.Name).
			Count(&n).Error; err != nil {
			return errors.Wrap(err, "count index failed")
		}
		if n > 0 {
			return errs.Duplicate("index %s already exists on %s.%s", idx.Name, idx.Database, idx.Table)
		}
		if err := tx.Create(m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicateError(err) {
				return errs.Duplicate("index %s already exists on %s.%s", idx.Name, idx.Database, idx.Table)
			}
			return errors.Wrap(err, "create index failed")
		}
		return bump(tx, idx.Database, idx.Table)
	})
}

func isDuplicateError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

func (r *GormRegistry) first(ctx context.Context, database, table, name string) (*IndexModel, error) {
	var m IndexModel
	err := r.db.WithContext(ctx).
		Where("db_name = ? AND tbl_name = ? AND index_name = ?", database, table, name).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("index %s not found on %s.%s", name, database, table)
		}
		return nil, errors.Wrap(err, "get index failed")
	}
	return &m, nil
}

func (r *GormRegistry) GetIndex(ctx context.Context, database, table, name string) (*index.Index, error) {
	m, err := r.first(ctx, database, table, name)
	if err != nil {
		return nil, err
	}
	return fromModel(m)
}

func (r *GormRegistry) ListIndexes(ctx context.Context, database, table string) ([]*index.Index, error) {
	var models []*IndexModel
	if err := r.db.WithContext(ctx).
		Where("db_name = ? AND tbl_name = ?", database, table).
		Order("id").
		Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list indexes failed")
	}

	indexes := make([]*index.Index, 0, len(models))
	for _, m := range models {
		idx, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

func (r *GormRegistry) ListAllIndexes(ctx context.Context) ([]*index.Index, error) {
	var models []*IndexModel
	if err := r.db.WithContext(ctx).Order("db_name, tbl_name, id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list all indexes failed")
	}

	indexes := make([]*index.Index, 0, len(models))
	for _, m := range models {
		idx, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

func (r *GormRegistry) Generation(ctx context.Context, database, table string) (int64, error) {
	var m GenerationModel
	err := r.db.WithContext(ctx).Where("db_name = ? AND tbl_name = ?", database, table).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "get generation failed")
	}
	return m.Generation, nil
}

func (r *GormRegistry) ActivateIndex(ctx context.Context, database, table, name string, at time.Time) (*index.Index, error) {
	var activated *index.Index
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&IndexModel{}).
			Where("db_name = ? AND tbl_name = ? AND index_name = ? AND active = ?", database, table, name, false).
			Updates(map[string]any{"active": true, "updated_at": at})
		if result.Error != nil {
			return errors.Wrap(result.Error, "activate index failed")
		}

		var m IndexModel
		if err := tx.Where("db_name = ? AND tbl_name = ? AND index_name = ?", database, table, name).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("index %s not found on %s.%s", name, database, table)
			}
			return errors.Wrap(err, "get index failed")
		}
		idx, err := fromModel(&m)
		if err != nil {
			return err
		}
		activated = idx

		if result.RowsAffected == 0 {
			return nil
		}
		return bump(tx, database, table)
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

func (r *GormRegistry) DeleteIndex(ctx context.Context, database, table, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("db_name = ? AND tbl_name = ? AND index_name = ?", database, table, name).Delete(&IndexModel{})
		if result.Error != nil {
			return errors.Wrap(result.Error, "delete index failed")
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("index %s not found on %s.%s", name, database, table)
		}
		if err := tx.Where("physical_table = ?", index.PhysicalTableName(database, table, name)).Delete(&StatusModel{}).Error; err != nil {
			return errors.Wrap(err, "delete build status failed")
		}
		return bump(tx, database, table)
	})
}

func (r *GormRegistry) SaveStatus(ctx context.Context, status *build.IndexBuildStatus) error {
	if status == nil || status.Index == nil {
		return errs.Contract("build status without index")
	}
	if _, err := r.first(ctx, status.Index.Database, status.Index.Table, status.Index.Name); err != nil {
		return err
	}

	content, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "json.Marshal status failed")
	}
	m := &StatusModel{
		PhysicalTable: status.Index.PhysicalTable(),
		BuildID:       status.ID.String(),
		Content:       string(content),
		UpdatedAt:     status.StatusLastUpdatedAt,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "physical_table"}},
		DoUpdates: clause.AssignmentColumns([]string{"build_id", "content", "updated_at"}),
	}).Create(m).Error
	return errors.Wrap(err, "save build status failed")
}

func (r *GormRegistry) GetStatus(ctx context.Context, database, table, name string) (*build.IndexBuildStatus, error) {
	var m StatusModel
	err := r.db.WithContext(ctx).Where("physical_table = ?", index.PhysicalTableName(database, table, name)).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("no build status for index %s on %s.%s", name, database, table)
		}
		return nil, errors.Wrap(err, "get build status failed")
	}

	var status build.IndexBuildStatus
	if err := json.Unmarshal([]byte(m.Content), &status); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal status failed")
	}
	return &status, nil
}

func (r *GormRegistry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return errors.Wrap(err, "db.DB failed")
	}
	return sqlDB.Close()
}
