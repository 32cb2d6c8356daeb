// ABOUTME: MCP protocol surface: versions, capabilities, and method payload types.
// ABOUTME: Shapes here travel on the wire and must round-trip JSON exactly.

package mcp

import (
	"fmt"
	"strings"
)

// Supported MCP protocol versions. Negotiation is exact-match only.
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses.
const latestProtocolVersion = "2025-11-25"

// SupportedVersions returns the allow-list sorted oldest first, for
// error payloads and introspection.
func SupportedVersions() []string {
	return []string{"2025-03-26", "2025-11-25"}
}

// URIScheme is the scheme every record resource URI uses.
const URIScheme = "carrel"

// Method names served by the engine.
const (
	MethodInitialize            = "initialize"
	MethodInitialized           = "initialized"
	MethodNotifInitialized      = "notifications/initialized"
	MethodPing                  = "ping"
	MethodToolsList             = "tools/list"
	MethodToolsCall             = "tools/call"
	MethodResourcesList         = "resources/list"
	MethodResourceTemplatesList = "resources/templates/list"
	MethodResourcesRead         = "resources/read"
	MethodResourcesSubscribe    = "resources/subscribe"
	MethodResourcesUnsubscribe  = "resources/unsubscribe"
	MethodLoggingSetLevel       = "logging/setLevel"
)

// Notification methods sent by the server.
const (
	NotifResourcesUpdated     = "notifications/resources/updated"
	NotifResourcesListChanged = "notifications/resources/list_changed"
	NotifToolsListChanged     = "notifications/tools/list_changed"
	NotifProgress             = "notifications/progress"
	NotifMessage              = "notifications/message"
)

// ServerCapabilities is the fixed capability set this server declares.
// It does not depend on anything the client sends.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Logging   *struct{}            `json:"logging,omitempty"`
}

// ToolsCapability declares the tools feature flags.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability declares the resources feature flags.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// serverCapabilities returns the static declaration: tools and
// resources with change notification, subscriptions, and log
// forwarding. Prompts are not declared because there is no prompt
// surface.
func serverCapabilities() ServerCapabilities {
	return ServerCapabilities{
		Tools:     &ToolsCapability{ListChanged: true},
		Resources: &ResourcesCapability{Subscribe: true, ListChanged: true},
		Logging:   &struct{}{},
	}
}

// Implementation identifies one end of the connection.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the feature set a client declares during
// initialize. It is recorded per session but never alters what the
// server offers.
type ClientCapabilities struct {
	Roots    map[string]any `json:"roots,omitempty"`
	Sampling map[string]any `json:"sampling,omitempty"`
}

// InitializeParams are the params for the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the result of a successful initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Content is one element of a tool call result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent wraps text in the standard content element.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallToolResult is the result of tools/call. IsError marks a failure
// of the tool's own logic, reported in-band so the caller can read it.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Resource describes one readable record in resources/list output.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes the URI shape of a source's records.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResourceContents is one content item of resources/read. Text and
// Blob are mutually exclusive; Blob is base64.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ParseRecordURI splits carrel://<source>/<record-id> into its parts.
// The record id may itself contain slashes (file paths do).
func ParseRecordURI(uri string) (sourceID, recordID string, err error) {
	prefix := URIScheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", fmt.Errorf("Unsupported URI scheme: %s", uri)
	}
	rest := strings.TrimPrefix(uri, prefix)
	source, record, ok := strings.Cut(rest, "/")
	if !ok || source == "" || record == "" {
		return "", "", fmt.Errorf("malformed resource URI: %s", uri)
	}
	return source, record, nil
}
