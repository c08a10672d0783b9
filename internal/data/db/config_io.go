package db

import (
	"fmt"

	"github.com/DreamFate/DeepClaude/internal/typ"
)

// ConfigDump is the round-trippable export of the whole configuration.
type ConfigDump struct {
	Providers  []*typ.Provider       `json:"providers"`
	Models     []*typ.Model          `json:"models"`
	Composites []*typ.CompositeModel `json:"composite_models"`
	Settings   []typ.SystemSetting   `json:"system"`
}

// ExportConfig snapshots every configuration table.
func (s *Store) ExportConfig() (*ConfigDump, error) {
	providers, err := s.ListProviders()
	if err != nil {
		return nil, err
	}
	models, err := s.ListModels()
	if err != nil {
		return nil, err
	}
	composites, err := s.ListComposites()
	if err != nil {
		return nil, err
	}
	settings, err := s.Settings()
	if err != nil {
		return nil, err
	}
	dump := &ConfigDump{
		Providers:  providers,
		Models:     models,
		Composites: composites,
	}
	for _, setting := range settings {
		dump.Settings = append(dump.Settings, setting)
	}
	return dump, nil
}

// ImportConfig replaces the entire configuration with the dump. Records are
// validated in dependency order, so a dump referencing missing members fails
// partway; callers treat the import as best-effort replace, matching the
// export format produced by ExportConfig.
func (s *Store) ImportConfig(dump *ConfigDump) error {
	s.mutex.Lock()
	wipe := []any{&CompositeRecord{}, &ModelRecord{}, &ProviderRecord{}, &SettingRecord{}}
	for _, table := range wipe {
		if err := s.db.Where("1 = 1").Delete(table).Error; err != nil {
			s.mutex.Unlock()
			return fmt.Errorf("failed to clear configuration: %w", err)
		}
	}
	s.mutex.Unlock()

	for _, provider := range dump.Providers {
		if err := s.SaveProvider(provider); err != nil {
			return err
		}
	}
	for _, model := range dump.Models {
		if err := s.SaveModel(model); err != nil {
			return err
		}
	}
	for _, composite := range dump.Composites {
		if err := s.SaveComposite(composite); err != nil {
			return err
		}
	}
	for _, setting := range dump.Settings {
		if err := s.SetSetting(setting); err != nil {
			return err
		}
	}
	// A dump without settings must not leave the gateway keyless.
	return s.seedDefaultSettings()
}
