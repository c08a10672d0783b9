// Package dispatch resolves chat-completion requests onto upstream clients:
// it validates the body, resolves the model name to a direct or composite
// record, builds clients against the persisted configuration, and tracks
// cancellation handles per chat id.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/DreamFate/DeepClaude/internal/client"
	"github.com/DreamFate/DeepClaude/internal/composite"
	"github.com/DreamFate/DeepClaude/internal/data/db"
	"github.com/DreamFate/DeepClaude/internal/protocol"
	"github.com/DreamFate/DeepClaude/internal/typ"
)

// Request is the validated shape of a chat-completion body. Keys that are
// not structural fields stay in Args and flow to the formatter allowlists.
type Request struct {
	Messages  []protocol.Message
	Model     string
	Stream    bool
	ModelType string
	Args      map[string]any
}

// Result is what a dispatch produced. Exactly one of the four payload fields
// is set; a composite request always yields Stream even when the caller did
// not ask for streaming. Callers must call Release when done with it.
type Result struct {
	ChatID     string
	Stream     *client.ChunkStream
	Raw        *client.RawStream
	Completion *protocol.Completion
	RawJSON    json.RawMessage

	release func()
}

// Release tears down the chat's cancellation registration. Safe to call
// more than once.
func (r *Result) Release() {
	if r.release != nil {
		r.release()
		r.release = nil
	}
}

// Dispatcher owns the per-process transport pool and cancel registry.
type Dispatcher struct {
	store    *db.Store
	pool     *client.TransportPool
	registry *CancelRegistry
}

// New builds a dispatcher over the configuration store.
func New(store *db.Store) *Dispatcher {
	return &Dispatcher{
		store:    store,
		pool:     client.GetGlobalTransportPool(),
		registry: NewCancelRegistry(),
	}
}

// CancelRequest fires the cancel signal for an in-flight chat, reporting
// whether one was registered.
func (d *Dispatcher) CancelRequest(chatID string) bool {
	canceled := d.registry.Cancel(chatID)
	if canceled {
		logrus.Infof("chat %s canceled by caller", chatID)
	}
	return canceled
}

// ReloadTransport re-reads the tcp_* settings and rebuilds the transport
// pool. The admin surface calls this when the connector settings change.
func (d *Dispatcher) ReloadTransport() error {
	settings, err := d.store.Settings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	d.pool.Reconfigure(limitsFromSettings(settings))
	return nil
}

// Inflight reports the number of registered chats, for the status surface.
func (d *Dispatcher) Inflight() int {
	return d.registry.Len()
}

// ProcessRequest validates the body, resolves the model and returns the
// upstream response in whichever shape the model dictates.
func (d *Dispatcher) ProcessRequest(ctx context.Context, body []byte) (*Result, error) {
	req, err := ParseRequest(body)
	if err != nil {
		return nil, err
	}

	settings, err := d.store.Settings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	d.pool.Reconfigure(limitsFromSettings(settings))

	model, comp, err := d.resolveModel(req.Model, req.ModelType)
	if err != nil {
		return nil, err
	}

	chatID, cancel := d.register()
	result := &Result{
		ChatID:  chatID,
		release: func() { d.registry.Remove(chatID) },
	}

	if comp != nil {
		if err := d.dispatchComposite(ctx, result, req, comp, settings, cancel); err != nil {
			result.Release()
			return nil, err
		}
		return result, nil
	}
	if err := d.dispatchDirect(ctx, result, req, model, settings, body, cancel); err != nil {
		result.Release()
		return nil, err
	}
	return result, nil
}

// ParseRequest validates the structural fields and splits off model args.
func ParseRequest(body []byte) (*Request, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, protocol.NewValidationError("request body is not valid JSON")
	}

	req := &Request{Args: raw}

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, protocol.NewValidationError("messages cannot be empty")
	}
	if err := json.Unmarshal([]byte(messages.Raw), &req.Messages); err != nil {
		return nil, protocol.NewValidationError("messages are malformed")
	}

	model, ok := raw["model"].(string)
	if !ok || model == "" {
		return nil, protocol.NewValidationError("model is required")
	}
	req.Model = model

	if stream, ok := raw["stream"].(bool); ok {
		req.Stream = stream
	}
	if mt, ok := raw["model_type"].(string); ok {
		req.ModelType = mt
	}
	switch req.ModelType {
	case "", "reasoner", "general", "composite":
	default:
		return nil, protocol.NewValidationError("model_type '%s' is not supported", req.ModelType)
	}

	for _, key := range []string{"messages", "model", "stream", "model_type"} {
		delete(req.Args, key)
	}
	return req, nil
}

// resolveModel maps a public name to a model or composite record. With no
// model_type hint, direct models win over composites.
func (d *Dispatcher) resolveModel(name, modelType string) (*typ.Model, *typ.CompositeModel, error) {
	lookupModel := func() (*typ.Model, error) {
		model, err := d.store.GetModelByName(name)
		if err != nil {
			return nil, err
		}
		if !model.Valid {
			return nil, protocol.NewValidationError("model '%s' is not available", name)
		}
		return model, nil
	}
	lookupComposite := func() (*typ.CompositeModel, error) {
		comp, err := d.store.GetCompositeByName(name)
		if err != nil {
			return nil, err
		}
		if !comp.Valid {
			return nil, protocol.NewValidationError("model '%s' is not available", name)
		}
		return comp, nil
	}

	switch modelType {
	case "reasoner", "general":
		model, err := lookupModel()
		if err != nil {
			return nil, nil, notFoundAsValidation(err, name)
		}
		return model, nil, nil
	case "composite":
		comp, err := lookupComposite()
		if err != nil {
			return nil, nil, notFoundAsValidation(err, name)
		}
		return nil, comp, nil
	default:
		model, err := lookupModel()
		if err == nil {
			return model, nil, nil
		}
		if !isNotFound(err) {
			return nil, nil, err
		}
		comp, err := lookupComposite()
		if err != nil {
			return nil, nil, notFoundAsValidation(err, name)
		}
		return nil, comp, nil
	}
}

func isNotFound(err error) bool {
	return err == db.ErrNotFound
}

func notFoundAsValidation(err error, name string) error {
	if isNotFound(err) {
		return protocol.NewValidationError("model '%s' not found", name)
	}
	return err
}

// register allocates a chat id and cancel signal. Ids derive from the
// dispatch time in microseconds; collisions retry with the next tick.
func (d *Dispatcher) register() (string, *client.CancelSignal) {
	cancel := client.NewCancelSignal()
	for {
		chatID := fmt.Sprintf("chatcmpl-%x", time.Now().UnixMicro())
		if d.registry.Register(chatID, cancel) {
			return chatID, cancel
		}
		time.Sleep(time.Microsecond)
	}
}

func (d *Dispatcher) dispatchDirect(ctx context.Context, result *Result, req *Request, model *typ.Model, settings typ.Settings, body []byte, cancel *client.CancelSignal) error {
	upstream, params, err := d.buildClient(model, settings)
	if err != nil {
		return err
	}

	if model.OriginOutput {
		// Verbatim pass-through: swap in the upstream's own model id and
		// relay bytes untouched.
		forwarded, err := sjson.SetBytes(body, "model", model.ModelID)
		if err != nil {
			return fmt.Errorf("failed to rewrite model id: %w", err)
		}
		if req.Stream {
			result.Raw = upstream.OriginalStreamChat(ctx, forwarded, cancel)
			return nil
		}
		raw, err := upstream.OriginalChat(ctx, forwarded)
		if err != nil {
			return err
		}
		result.RawJSON = raw
		return nil
	}

	if req.Stream {
		result.Stream = upstream.StreamChat(ctx, result.ChatID, model.ModelID, req.Messages, req.Args, params, cancel)
		return nil
	}
	completion, err := upstream.Chat(ctx, result.ChatID, model.ModelID, req.Messages, req.Args, params)
	if err != nil {
		return err
	}
	result.Completion = completion
	return nil
}

func (d *Dispatcher) dispatchComposite(ctx context.Context, result *Result, req *Request, comp *typ.CompositeModel, settings typ.Settings, cancel *client.CancelSignal) error {
	reasonerModel, err := d.compositeMember(comp, comp.ReasonerModelID)
	if err != nil {
		return err
	}
	generalModel, err := d.compositeMember(comp, comp.GeneralModelID)
	if err != nil {
		return err
	}

	reasonerClient, reasonerParams, err := d.buildClient(reasonerModel, settings)
	if err != nil {
		return err
	}
	targetClient, targetParams, err := d.buildClient(generalModel, settings)
	if err != nil {
		return err
	}

	orchestrator := composite.New(reasonerClient, targetClient)
	result.Stream = orchestrator.StreamChat(ctx, result.ChatID, req.Messages, req.Args, composite.Params{
		ReasoningModel:  reasonerModel.ModelID,
		TargetModel:     generalModel.ModelID,
		ReasoningParams: reasonerParams,
		TargetParams:    targetParams,
	}, cancel)
	return nil
}

func (d *Dispatcher) compositeMember(comp *typ.CompositeModel, modelID string) (*typ.Model, error) {
	model, err := d.store.GetModel(modelID)
	if err != nil {
		if isNotFound(err) {
			return nil, protocol.NewValidationError("composite '%s' references a missing model", comp.Name)
		}
		return nil, err
	}
	if !model.Valid {
		return nil, protocol.NewValidationError("composite '%s' references a disabled model", comp.Name)
	}
	return model, nil
}

// buildClient constructs an upstream client for a model's provider record,
// wiring in the shared transport for the provider's proxy choice.
func (d *Dispatcher) buildClient(model *typ.Model, settings typ.Settings) (client.Client, client.Params, error) {
	provider, err := d.store.GetProvider(model.ProviderID)
	if err != nil {
		if isNotFound(err) {
			return nil, client.Params{}, protocol.NewValidationError("model '%s' has no provider", model.Name)
		}
		return nil, client.Params{}, err
	}
	if !provider.Valid {
		return nil, client.Params{}, protocol.NewValidationError("provider '%s' is not available", provider.Name)
	}

	proxyURL := ""
	if provider.ProxyEnabled {
		proxyURL = NormalizeProxy(settings.Get(typ.SettingProxyAddress).Str(""))
	}
	upstream, err := client.New(provider.Format, client.Options{
		APIKey:    provider.APIKey,
		APIURL:    joinURL(provider.BaseURL, provider.RequestPath),
		Transport: d.pool.GetTransport(proxyURL),
	})
	if err != nil {
		return nil, client.Params{}, err
	}
	return upstream, client.Params{IsOriginReasoning: model.OriginReasoning}, nil
}

// NormalizeProxy prefixes scheme-less proxy addresses with http://.
func NormalizeProxy(addr string) string {
	if addr == "" {
		return ""
	}
	if !strings.Contains(addr, "://") {
		return "http://" + addr
	}
	return addr
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func limitsFromSettings(settings typ.Settings) client.TransportLimits {
	defaults := client.DefaultTransportLimits()
	return client.TransportLimits{
		MaxConns:         settings.Get(typ.SettingTCPConnectorLimit).Int(defaults.MaxConns),
		MaxConnsPerHost:  settings.Get(typ.SettingTCPConnectorPerHost).Int(defaults.MaxConnsPerHost),
		KeepaliveTimeout: time.Duration(settings.Get(typ.SettingTCPKeepaliveTimeout).Int(30)) * time.Second,
	}
}
