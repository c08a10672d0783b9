// Package db persists the gateway's configuration records in SQLite:
// providers, models, composite models and system settings.
package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DreamFate/DeepClaude/internal/typ"
)

const dbFileName = "deepclaude.db"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNameTaken is returned when a name collides with any provider,
	// model or composite. The three kinds share one user-facing namespace.
	ErrNameTaken = errors.New("name already in use")
	// ErrInUse is returned when deleting a record that others reference.
	ErrInUse = errors.New("record is referenced by other records")
	// ErrInvalidRef is returned when a record points at a member that does
	// not exist or has the wrong type.
	ErrInvalidRef = errors.New("invalid reference")
)

// Store wraps the SQLite database holding the gateway configuration.
type Store struct {
	db    *gorm.DB
	mutex sync.Mutex
}

// NewStore opens (creating if needed) the database under baseDir, migrates
// the schema and seeds the default system settings.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(baseDir, dbFileName)
	logrus.Debugf("opening sqlite database: %s", dbPath)
	dsn := dbPath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := gdb.AutoMigrate(&ProviderRecord{}, &ModelRecord{}, &CompositeRecord{}, &SettingRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	s := &Store{db: gdb}
	if err := s.seedDefaultSettings(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// seedDefaultSettings inserts the well-known settings that are missing.
// The gateway api_key is generated on first run and logged once.
func (s *Store) seedDefaultSettings() error {
	defaults := []any{nil, "", "info", 100, 0, 30}
	keys := []string{
		typ.SettingAPIKey,
		typ.SettingProxyAddress,
		typ.SettingLogLevel,
		typ.SettingTCPConnectorLimit,
		typ.SettingTCPConnectorPerHost,
		typ.SettingTCPKeepaliveTimeout,
	}
	for i, key := range keys {
		var count int64
		if err := s.db.Model(&SettingRecord{}).Where("key = ?", key).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to read setting %s: %w", key, err)
		}
		if count > 0 {
			continue
		}
		value := defaults[i]
		if key == typ.SettingAPIKey {
			generated := "sk-" + uuid.NewString()
			logrus.Infof("generated gateway api key: %s", generated)
			value = generated
		}
		setting, err := typ.NewSetting(key, value)
		if err != nil {
			return err
		}
		if err := s.db.Create(toSettingRecord(setting)).Error; err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

// nameInUse checks the shared provider/model/composite namespace. excludeID
// lets updates keep their own name.
func (s *Store) nameInUse(name, excludeID string) (bool, error) {
	checks := []struct {
		model any
	}{
		{&ProviderRecord{}},
		{&ModelRecord{}},
		{&CompositeRecord{}},
	}
	for _, c := range checks {
		var count int64
		q := s.db.Model(c.model).Where("name = ?", name)
		if excludeID != "" {
			q = q.Where("id <> ?", excludeID)
		}
		if err := q.Count(&count).Error; err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// SaveProvider creates or updates a provider. A missing ID means create.
func (s *Store) SaveProvider(p *typ.Provider) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	taken, err := s.nameInUse(p.Name, p.ID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrNameTaken, p.Name)
	}
	return s.db.Save(toProviderRecord(p)).Error
}

// GetProvider looks a provider up by id.
func (s *Store) GetProvider(id string) (*typ.Provider, error) {
	var record ProviderRecord
	if err := s.db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record.toProvider(), nil
}

// GetProviderByName looks a provider up by its display name.
func (s *Store) GetProviderByName(name string) (*typ.Provider, error) {
	var record ProviderRecord
	if err := s.db.Where("name = ?", name).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record.toProvider(), nil
}

// ListProviders returns all providers ordered by name.
func (s *Store) ListProviders() ([]*typ.Provider, error) {
	var records []ProviderRecord
	if err := s.db.Order("name").Find(&records).Error; err != nil {
		return nil, err
	}
	providers := make([]*typ.Provider, 0, len(records))
	for i := range records {
		providers = append(providers, records[i].toProvider())
	}
	return providers, nil
}

// DeleteProvider removes a provider unless models still reference it.
func (s *Store) DeleteProvider(id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var dependents int64
	if err := s.db.Model(&ModelRecord{}).Where("provider_id = ?", id).Count(&dependents).Error; err != nil {
		return err
	}
	if dependents > 0 {
		return fmt.Errorf("%w: provider has %d dependent models", ErrInUse, dependents)
	}
	result := s.db.Delete(&ProviderRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveModel creates or updates a model. The referenced provider must exist.
func (s *Store) SaveModel(m *typ.Model) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var count int64
	if err := s.db.Model(&ProviderRecord{}).Where("id = ?", m.ProviderID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: provider '%s' not found", ErrInvalidRef, m.ProviderID)
	}
	taken, err := s.nameInUse(m.Name, m.ID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrNameTaken, m.Name)
	}
	return s.db.Save(toModelRecord(m)).Error
}

// GetModel looks a model up by id.
func (s *Store) GetModel(id string) (*typ.Model, error) {
	var record ModelRecord
	if err := s.db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record.toModel(), nil
}

// GetModelByName looks a model up by its public name.
func (s *Store) GetModelByName(name string) (*typ.Model, error) {
	var record ModelRecord
	if err := s.db.Where("name = ?", name).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record.toModel(), nil
}

// ListModels returns all models ordered by name.
func (s *Store) ListModels() ([]*typ.Model, error) {
	var records []ModelRecord
	if err := s.db.Order("name").Find(&records).Error; err != nil {
		return nil, err
	}
	models := make([]*typ.Model, 0, len(records))
	for i := range records {
		models = append(models, records[i].toModel())
	}
	return models, nil
}

// DeleteModel removes a model unless a composite still references it.
func (s *Store) DeleteModel(id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var dependents int64
	if err := s.db.Model(&CompositeRecord{}).
		Where("reasoner_model_id = ? OR general_model_id = ?", id, id).
		Count(&dependents).Error; err != nil {
		return err
	}
	if dependents > 0 {
		return fmt.Errorf("%w: model is referenced by %d composite models", ErrInUse, dependents)
	}
	result := s.db.Delete(&ModelRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveComposite creates or updates a composite. Both member models must
// exist, and the reasoner member must actually be a reasoner.
func (s *Store) SaveComposite(c *typ.CompositeModel) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var reasoner ModelRecord
	if err := s.db.Where("id = ?", c.ReasonerModelID).First(&reasoner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: model '%s' not found", ErrInvalidRef, c.ReasonerModelID)
		}
		return err
	}
	if reasoner.Type != string(typ.ModelTypeReasoner) {
		return fmt.Errorf("%w: model '%s' is not a reasoner", ErrInvalidRef, reasoner.Name)
	}
	var count int64
	if err := s.db.Model(&ModelRecord{}).Where("id = ?", c.GeneralModelID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: model '%s' not found", ErrInvalidRef, c.GeneralModelID)
	}
	taken, err := s.nameInUse(c.Name, c.ID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrNameTaken, c.Name)
	}
	return s.db.Save(toCompositeRecord(c)).Error
}

// GetComposite looks a composite up by id.
func (s *Store) GetComposite(id string) (*typ.CompositeModel, error) {
	var record CompositeRecord
	if err := s.db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record.toComposite(), nil
}

// GetCompositeByName looks a composite up by its public name.
func (s *Store) GetCompositeByName(name string) (*typ.CompositeModel, error) {
	var record CompositeRecord
	if err := s.db.Where("name = ?", name).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record.toComposite(), nil
}

// ListComposites returns all composites ordered by name.
func (s *Store) ListComposites() ([]*typ.CompositeModel, error) {
	var records []CompositeRecord
	if err := s.db.Order("name").Find(&records).Error; err != nil {
		return nil, err
	}
	composites := make([]*typ.CompositeModel, 0, len(records))
	for i := range records {
		composites = append(composites, records[i].toComposite())
	}
	return composites, nil
}

// DeleteComposite removes a composite.
func (s *Store) DeleteComposite(id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result := s.db.Delete(&CompositeRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Settings returns a snapshot of every system setting. Dispatch takes one
// snapshot per request so configuration cannot shift mid-flight.
func (s *Store) Settings() (typ.Settings, error) {
	var records []SettingRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, err
	}
	settings := make(typ.Settings, len(records))
	for i := range records {
		settings[records[i].Key] = records[i].toSetting()
	}
	return settings, nil
}

// GetSetting returns one setting by key.
func (s *Store) GetSetting(key string) (typ.SystemSetting, error) {
	var record SettingRecord
	if err := s.db.Where("key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return typ.SystemSetting{}, ErrNotFound
		}
		return typ.SystemSetting{}, err
	}
	return record.toSetting(), nil
}

// SetSetting creates or replaces one setting.
func (s *Store) SetSetting(setting typ.SystemSetting) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.db.Save(toSettingRecord(setting)).Error
}
