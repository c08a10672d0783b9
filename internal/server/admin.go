package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/DreamFate/DeepClaude/internal/data/db"
	"github.com/DreamFate/DeepClaude/internal/obs"
	"github.com/DreamFate/DeepClaude/internal/server/middleware"
	"github.com/DreamFate/DeepClaude/internal/typ"
)

// setSessionCookie installs the admin session cookie. Secure stays off so
// the UI works over plain localhost HTTP.
func (s *Server) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, maxAge, "/", "", false, true)
}

// AuthVerify exchanges the gateway api_key for an admin session cookie.
func (s *Server) AuthVerify(c *gin.Context) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "apiKey is required"})
		return
	}

	setting, err := s.store.GetSetting(typ.SettingAPIKey)
	if err != nil || req.APIKey != setting.Value {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid api key"})
		return
	}

	token, err := s.jwtManager.GenerateToken("user")
	if err != nil {
		logrus.Errorf("failed to issue session token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	s.setSessionCookie(c, token, int(s.jwtManager.TokenLifetime().Seconds()))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AuthStatus reports whether the session cookie is currently valid.
func (s *Server) AuthStatus(c *gin.Context) {
	token, err := c.Cookie(middleware.SessionCookie)
	if err != nil || token == "" {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	if _, err := s.jwtManager.ValidateToken(token); err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

// AuthLogout clears the session cookie.
func (s *Server) AuthLogout(c *gin.Context) {
	s.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetAllProviders returns every provider record.
func (s *Server) GetAllProviders(c *gin.Context) {
	providers, err := s.store.ListProviders()
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, providers)
}

// GetAllValidProviders returns id/name pairs for enabled providers, the
// shape the model form's provider picker wants.
func (s *Server) GetAllValidProviders(c *gin.Context) {
	providers, err := s.store.ListProviders()
	if err != nil {
		writeAdminError(c, err)
		return
	}
	result := make([]gin.H, 0, len(providers))
	for _, provider := range providers {
		if provider.Valid {
			result = append(result, gin.H{"id": provider.ID, "name": provider.Name})
		}
	}
	c.JSON(http.StatusOK, result)
}

// GetProviderByID returns one provider.
func (s *Server) GetProviderByID(c *gin.Context) {
	provider, err := s.store.GetProvider(c.Param("id"))
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, provider)
}

// GetProviderByName returns one provider by display name.
func (s *Server) GetProviderByName(c *gin.Context) {
	provider, err := s.store.GetProviderByName(c.Param("name"))
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, provider)
}

// SaveProvider creates or updates a provider record.
func (s *Server) SaveProvider(c *gin.Context) {
	var provider typ.Provider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "invalid provider payload"})
		return
	}
	if provider.Name == "" {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "provider name is required"})
		return
	}
	if !provider.Format.Valid() {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "unsupported provider format '" + string(provider.Format) + "'"})
		return
	}
	if err := s.store.SaveProvider(&provider); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, provider)
}

// DeleteProvider removes a provider unless models depend on it.
func (s *Server) DeleteProvider(c *gin.Context) {
	if err := s.store.DeleteProvider(c.Param("id")); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminMessage{Message: "provider deleted"})
}

// GetAllModels returns every model record.
func (s *Server) GetAllModels(c *gin.Context) {
	models, err := s.store.ListModels()
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, models)
}

// GetAllModelsByType filters models by reasoner/general.
func (s *Server) GetAllModelsByType(c *gin.Context) {
	modelType := typ.ModelType(c.Param("model_type"))
	if modelType != typ.ModelTypeReasoner && modelType != typ.ModelTypeGeneral {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "unknown model type '" + string(modelType) + "'"})
		return
	}
	models, err := s.store.ListModels()
	if err != nil {
		writeAdminError(c, err)
		return
	}
	result := make([]*typ.Model, 0, len(models))
	for _, model := range models {
		if model.Type == modelType {
			result = append(result, model)
		}
	}
	c.JSON(http.StatusOK, result)
}

// GetAllValidModels groups enabled models by type, the shape the composite
// form's member pickers want.
func (s *Server) GetAllValidModels(c *gin.Context) {
	models, err := s.store.ListModels()
	if err != nil {
		writeAdminError(c, err)
		return
	}
	reasoners := []gin.H{}
	generals := []gin.H{}
	for _, model := range models {
		if !model.Valid {
			continue
		}
		entry := gin.H{"id": model.ID, "name": model.Name}
		switch model.Type {
		case typ.ModelTypeReasoner:
			reasoners = append(reasoners, entry)
		case typ.ModelTypeGeneral:
			generals = append(generals, entry)
		}
	}
	c.JSON(http.StatusOK, gin.H{"reasoner": reasoners, "general": generals})
}

// GetModelByID returns one model.
func (s *Server) GetModelByID(c *gin.Context) {
	model, err := s.store.GetModel(c.Param("id"))
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

// GetModelByName returns one model by public name.
func (s *Server) GetModelByName(c *gin.Context) {
	model, err := s.store.GetModelByName(c.Param("name"))
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

// SaveModel creates or updates a model record.
func (s *Server) SaveModel(c *gin.Context) {
	var model typ.Model
	if err := c.ShouldBindJSON(&model); err != nil {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "invalid model payload"})
		return
	}
	if model.Name == "" || model.ModelID == "" || model.ProviderID == "" {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "model name, model_id and provider_id are required"})
		return
	}
	if model.Type != typ.ModelTypeReasoner && model.Type != typ.ModelTypeGeneral {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "unknown model type '" + string(model.Type) + "'"})
		return
	}
	if err := s.store.SaveModel(&model); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

// DeleteModel removes a model unless a composite references it.
func (s *Server) DeleteModel(c *gin.Context) {
	if err := s.store.DeleteModel(c.Param("id")); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminMessage{Message: "model deleted"})
}

// GetAllComposites returns every composite record.
func (s *Server) GetAllComposites(c *gin.Context) {
	composites, err := s.store.ListComposites()
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, composites)
}

// GetCompositeByID returns one composite.
func (s *Server) GetCompositeByID(c *gin.Context) {
	composite, err := s.store.GetComposite(c.Param("id"))
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, composite)
}

// GetCompositeByName returns one composite by public name.
func (s *Server) GetCompositeByName(c *gin.Context) {
	composite, err := s.store.GetCompositeByName(c.Param("name"))
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, composite)
}

// SaveComposite creates or updates a composite record.
func (s *Server) SaveComposite(c *gin.Context) {
	var composite typ.CompositeModel
	if err := c.ShouldBindJSON(&composite); err != nil {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "invalid composite payload"})
		return
	}
	if composite.Name == "" || composite.ReasonerModelID == "" || composite.GeneralModelID == "" {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "composite name and both member models are required"})
		return
	}
	if err := s.store.SaveComposite(&composite); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, composite)
}

// DeleteComposite removes a composite record.
func (s *Server) DeleteComposite(c *gin.Context) {
	if err := s.store.DeleteComposite(c.Param("id")); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminMessage{Message: "composite model deleted"})
}

// GetAllSettings returns the well-known settings as a flat object.
func (s *Server) GetAllSettings(c *gin.Context) {
	settings, err := s.store.Settings()
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		typ.SettingAPIKey:              settings.Get(typ.SettingAPIKey).Value,
		typ.SettingProxyAddress:        settings.Get(typ.SettingProxyAddress).Value,
		typ.SettingLogLevel:            settings.Get(typ.SettingLogLevel).Value,
		typ.SettingTCPConnectorLimit:   settings.Get(typ.SettingTCPConnectorLimit).Value,
		typ.SettingTCPConnectorPerHost: settings.Get(typ.SettingTCPConnectorPerHost).Value,
		typ.SettingTCPKeepaliveTimeout: settings.Get(typ.SettingTCPKeepaliveTimeout).Value,
	})
}

// GetSettingForKey returns one setting record.
func (s *Server) GetSettingForKey(c *gin.Context) {
	setting, err := s.store.GetSetting(c.Param("key"))
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

func bindSettings(c *gin.Context) ([]typ.SystemSetting, bool) {
	var settings []typ.SystemSetting
	if err := c.ShouldBindJSON(&settings); err != nil || len(settings) == 0 {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "settings payload is required"})
		return nil, false
	}
	return settings, true
}

// SaveSettings persists a batch of settings.
func (s *Server) SaveSettings(c *gin.Context) {
	settings, ok := bindSettings(c)
	if !ok {
		return
	}
	for _, setting := range settings {
		if err := s.store.SetSetting(setting); err != nil {
			writeAdminError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, adminMessage{Message: "settings saved"})
}

// SaveAPIKey rotates the gateway api_key and invalidates the current admin
// session, forcing a re-login with the new key.
func (s *Server) SaveAPIKey(c *gin.Context) {
	settings, ok := bindSettings(c)
	if !ok {
		return
	}
	if settings[0].Key != typ.SettingAPIKey || settings[0].Value == "" {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "not an api_key setting"})
		return
	}
	settings[0].Type = typ.SettingStr
	if err := s.store.SetSetting(settings[0]); err != nil {
		writeAdminError(c, err)
		return
	}
	s.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SetLogLevel persists and applies a new log level.
func (s *Server) SetLogLevel(c *gin.Context) {
	settings, ok := bindSettings(c)
	if !ok {
		return
	}
	if settings[0].Key != typ.SettingLogLevel {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "not a log_level setting"})
		return
	}
	settings[0].Type = typ.SettingStr
	if err := obs.SetLevel(settings[0].Value); err != nil {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "unknown log level '" + settings[0].Value + "'"})
		return
	}
	if err := s.store.SetSetting(settings[0]); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminMessage{Message: "log level updated"})
}

// tcpSettingKeys are the settings SetTCPConnector accepts, all required.
var tcpSettingKeys = map[string]bool{
	typ.SettingTCPConnectorLimit:   true,
	typ.SettingTCPConnectorPerHost: true,
	typ.SettingTCPKeepaliveTimeout: true,
}

// SetTCPConnector persists the connector limits and rebuilds the shared
// transport pool.
func (s *Server) SetTCPConnector(c *gin.Context) {
	settings, ok := bindSettings(c)
	if !ok {
		return
	}
	accepted := make([]typ.SystemSetting, 0, len(settings))
	for _, setting := range settings {
		if tcpSettingKeys[setting.Key] {
			accepted = append(accepted, setting)
		}
	}
	if len(accepted) != len(tcpSettingKeys) {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "all three tcp connector settings are required"})
		return
	}
	for _, setting := range accepted {
		if err := s.store.SetSetting(setting); err != nil {
			writeAdminError(c, err)
			return
		}
	}
	if err := s.dispatcher.ReloadTransport(); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminMessage{Message: "tcp connector settings updated"})
}

// ExportConfig downloads the whole configuration as a JSON attachment.
func (s *Server) ExportConfig(c *gin.Context) {
	dump, err := s.store.ExportConfig()
	if err != nil {
		writeAdminError(c, err)
		return
	}
	payload, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=config.json")
	c.Data(http.StatusOK, "application/json", payload)
}

// ImportConfig replaces the configuration from an exported dump and
// re-applies the runtime settings it carries.
func (s *Server) ImportConfig(c *gin.Context) {
	var req struct {
		Config json.RawMessage `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Config) == 0 {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "config data is required"})
		return
	}
	var dump db.ConfigDump
	if err := json.Unmarshal(req.Config, &dump); err != nil {
		c.JSON(http.StatusBadRequest, adminMessage{Message: "config data is malformed"})
		return
	}
	if err := s.store.ImportConfig(&dump); err != nil {
		writeAdminError(c, err)
		return
	}

	if setting, err := s.store.GetSetting(typ.SettingLogLevel); err == nil && setting.Value != "" {
		if err := obs.SetLevel(setting.Value); err != nil {
			logrus.Warnf("imported log level is invalid: %v", err)
		}
	}
	if err := s.dispatcher.ReloadTransport(); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminMessage{Message: "configuration imported"})
}
