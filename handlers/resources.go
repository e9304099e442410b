// ABOUTME: MCP resource handlers exposing queue and cache state
// ABOUTME: Provides read-only JSON views addressed by fieldsync:// URIs
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/offline"
)

const (
	QueueURI = "fieldsync://queue"
	StateURI = "fieldsync://state"
	CacheURI = "fieldsync://cache"
)

type ResourceHandlers struct {
	svc *offline.Service
}

func NewResourceHandlers(svc *offline.Service) *ResourceHandlers {
	return &ResourceHandlers{svc: svc}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, "fieldsync://") {
		return nil, fmt.Errorf("invalid URI scheme: expected fieldsync://")
	}

	switch {
	case uri == QueueURI:
		actions, err := h.svc.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch queue: %w", err)
		}
		return jsonResource(uri, actions)

	case uri == StateURI:
		state, err := h.svc.State(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch state: %w", err)
		}
		return jsonResource(uri, state)

	case strings.HasPrefix(uri, CacheURI+"/"):
		return h.readCacheEntry(uri)

	default:
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}
}

func (h *ResourceHandlers) readCacheEntry(uri string) (*mcp.ReadResourceResult, error) {
	c := h.svc.Cache()
	if c == nil {
		return nil, fmt.Errorf("no cache configured")
	}
	partition, key, ok := strings.Cut(strings.TrimPrefix(uri, CacheURI+"/"), "/")
	if !ok || key == "" {
		return nil, fmt.Errorf("cache URI must be %s/<partition>/<key>", CacheURI)
	}

	entry, found, err := c.Entry(partition, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("cache miss: %s/%s", partition, key)
	}
	return jsonResource(uri, entry)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
