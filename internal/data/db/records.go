package db

import (
	"time"

	"github.com/DreamFate/DeepClaude/internal/typ"
)

// ProviderRecord is the GORM model for an upstream provider, credentials
// included, persisted as one logical entity.
type ProviderRecord struct {
	ID           string `gorm:"primaryKey;column:id"`
	Name         string `gorm:"column:name;not null;uniqueIndex"`
	APIKey       string `gorm:"column:api_key"`
	BaseURL      string `gorm:"column:base_url;not null"`
	RequestPath  string `gorm:"column:request_path"`
	Format       string `gorm:"column:format;not null"`
	ProxyEnabled bool   `gorm:"column:proxy_enabled;default:false"`
	Valid        bool   `gorm:"column:valid;default:true"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ProviderRecord) TableName() string {
	return "providers"
}

func (r *ProviderRecord) toProvider() *typ.Provider {
	return &typ.Provider{
		ID:           r.ID,
		Name:         r.Name,
		APIKey:       r.APIKey,
		BaseURL:      r.BaseURL,
		RequestPath:  r.RequestPath,
		Format:       typ.Format(r.Format),
		ProxyEnabled: r.ProxyEnabled,
		Valid:        r.Valid,
	}
}

func toProviderRecord(p *typ.Provider) *ProviderRecord {
	return &ProviderRecord{
		ID:           p.ID,
		Name:         p.Name,
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		RequestPath:  p.RequestPath,
		Format:       string(p.Format),
		ProxyEnabled: p.ProxyEnabled,
		Valid:        p.Valid,
	}
}

// ModelRecord is the GORM model for an upstream model reachable through a
// provider.
type ModelRecord struct {
	ID              string `gorm:"primaryKey;column:id"`
	Name            string `gorm:"column:name;not null;uniqueIndex"`
	ModelID         string `gorm:"column:model_id;not null"`
	ProviderID      string `gorm:"column:provider_id;not null;index"`
	Type            string `gorm:"column:type;not null"`
	Format          string `gorm:"column:format;not null"`
	OriginReasoning bool   `gorm:"column:origin_reasoning;default:false"`
	OriginOutput    bool   `gorm:"column:origin_output;default:false"`
	Valid           bool   `gorm:"column:valid;default:true"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ModelRecord) TableName() string {
	return "models"
}

func (r *ModelRecord) toModel() *typ.Model {
	return &typ.Model{
		ID:              r.ID,
		Name:            r.Name,
		ModelID:         r.ModelID,
		ProviderID:      r.ProviderID,
		Type:            typ.ModelType(r.Type),
		Format:          typ.Format(r.Format),
		OriginReasoning: r.OriginReasoning,
		OriginOutput:    r.OriginOutput,
		Valid:           r.Valid,
	}
}

func toModelRecord(m *typ.Model) *ModelRecord {
	return &ModelRecord{
		ID:              m.ID,
		Name:            m.Name,
		ModelID:         m.ModelID,
		ProviderID:      m.ProviderID,
		Type:            string(m.Type),
		Format:          string(m.Format),
		OriginReasoning: m.OriginReasoning,
		OriginOutput:    m.OriginOutput,
		Valid:           m.Valid,
	}
}

// CompositeRecord is the GORM model for a reasoner/general model pairing.
type CompositeRecord struct {
	ID              string `gorm:"primaryKey;column:id"`
	Name            string `gorm:"column:name;not null;uniqueIndex"`
	ReasonerModelID string `gorm:"column:reasoner_model_id;not null;index"`
	GeneralModelID  string `gorm:"column:general_model_id;not null;index"`
	Valid           bool   `gorm:"column:valid;default:true"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (CompositeRecord) TableName() string {
	return "composite_models"
}

func (r *CompositeRecord) toComposite() *typ.CompositeModel {
	return &typ.CompositeModel{
		ID:              r.ID,
		Name:            r.Name,
		ReasonerModelID: r.ReasonerModelID,
		GeneralModelID:  r.GeneralModelID,
		Valid:           r.Valid,
	}
}

func toCompositeRecord(c *typ.CompositeModel) *CompositeRecord {
	return &CompositeRecord{
		ID:              c.ID,
		Name:            c.Name,
		ReasonerModelID: c.ReasonerModelID,
		GeneralModelID:  c.GeneralModelID,
		Valid:           c.Valid,
	}
}

// SettingRecord is the GORM model for one typed system setting.
type SettingRecord struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
	Type  string `gorm:"column:setting_type;not null"`

	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SettingRecord) TableName() string {
	return "system_settings"
}

func (r *SettingRecord) toSetting() typ.SystemSetting {
	return typ.SystemSetting{
		Key:   r.Key,
		Value: r.Value,
		Type:  typ.SettingType(r.Type),
	}
}

func toSettingRecord(s typ.SystemSetting) *SettingRecord {
	return &SettingRecord{
		Key:   s.Key,
		Value: s.Value,
		Type:  string(s.Type),
	}
}
