package model

import "time"

// DeviceStatus is the coarse state of a host.
type DeviceStatus string

const (
	DeviceIdle    DeviceStatus = "idle"
	DeviceLoading DeviceStatus = "loading"
	DeviceRunning DeviceStatus = "running"
	DeviceError   DeviceStatus = "error"
)

// Device is one host's catalog header.
type Device struct {
	HostID         string            `json:"hostId"`
	Name           string            `json:"name"`
	LastSeen       time.Time         `json:"lastSeen"`
	Capabilities   map[string]string `json:"capabilities,omitempty"`
	CatalogVersion int64             `json:"catalogVersion"`
	ActiveModelID  string            `json:"activeModelId,omitempty"`
	Status         DeviceStatus      `json:"status"`
}

// ModelHealth describes whether a model can be served.
type ModelHealth string

const (
	ModelAvailable ModelHealth = "available"
	ModelMissing   ModelHealth = "missing"
	ModelPulling   ModelHealth = "pulling"
	ModelError     ModelHealth = "error"
)

// Model is a model a host can run.
type Model struct {
	ID           string      `json:"modelId"`
	HostID       string      `json:"hostId"`
	Name         string      `json:"name"`
	Provider     string      `json:"provider"`
	EndpointID   string      `json:"endpointId,omitempty"`
	Identifier   string      `json:"identifier,omitempty"`
	ContextSize  int         `json:"contextSize,omitempty"`
	Quantization string      `json:"quantization,omitempty"`
	SizeBytes    int64       `json:"sizeBytes,omitempty"`
	Tags         []string    `json:"tags,omitempty"`
	Exposed      bool        `json:"exposed"`
	Health       ModelHealth `json:"health"`
	LastChecked  time.Time   `json:"lastChecked"`
	Version      int64       `json:"version"`
}

// EndpointHealth is the reachability of an endpoint.
type EndpointHealth string

const (
	EndpointUp   EndpointHealth = "up"
	EndpointDown EndpointHealth = "down"
)

// Endpoint is an inference server a host exposes.
type Endpoint struct {
	ID             string         `json:"endpointId"`
	HostID         string         `json:"hostId"`
	Kind           string         `json:"kind"`
	BaseURL        string         `json:"baseUrl"`
	AuthConfigured bool           `json:"authConfigured"`
	Health         EndpointHealth `json:"health"`
	Exposed        bool           `json:"exposed"`
	Version        int64          `json:"version"`
}

// ContextMetrics reports context window usage.
type ContextMetrics struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// HostState is the live state of a host, versioned apart from the catalog.
type HostState struct {
	HostID          string          `json:"hostId"`
	ActiveModelID   string          `json:"activeModelId,omitempty"`
	Status          DeviceStatus    `json:"status"`
	TokensPerSecond *float64        `json:"tokensPerSecond,omitempty"`
	Context         *ContextMetrics `json:"context,omitempty"`
	StateVersion    int64           `json:"stateVersion"`
	ChangedBy       string          `json:"changedBy,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Snapshot is a reader's view of another host's catalog. Device and
// HostState are nil when the host never published them.
type Snapshot struct {
	Device    *Device    `json:"device"`
	Models    []Model    `json:"models"`
	Endpoints []Endpoint `json:"endpoints"`
	HostState *HostState `json:"hostState"`
}
