// ABOUTME: MCP server subcommand
// ABOUTME: Exposes the offline action queue as MCP tools and resources over stdio
package cli

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/handlers"
)

// NewMCPServer registers every fieldsync tool and resource.
func NewMCPServer(app *App, version string) *mcp.Server {
	actionHandlers := handlers.NewActionHandlers(app.Service)
	resourceHandlers := handlers.NewResourceHandlers(app.Service)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "fieldsync",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_action",
		Description: "Capture a field action (inspection, condition_update, maintenance_log, transfer, scan_log, photo_upload). It is GPS-tagged, queued locally and synced when online",
	}, actionHandlers.AddAction)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_queue",
		Description: "Send every pending and failed action to the server now",
	}, actionHandlers.SyncQueue)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retry_failed",
		Description: "Move failed and conflicting actions back to pending and sync them",
	}, actionHandlers.RetryFailed)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_synced",
		Description: "Remove synced actions from the queue",
	}, actionHandlers.ClearSynced)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "queue_status",
		Description: "Queue counts by status plus connectivity and the last drain result",
	}, actionHandlers.QueueStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_actions",
		Description: "List queued actions in sync order, optionally filtered by status",
	}, actionHandlers.ListActions)

	server.AddResource(&mcp.Resource{
		URI:      handlers.QueueURI,
		Name:     "queue",
		MIMEType: "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResource(&mcp.Resource{
		URI:      handlers.StateURI,
		Name:     "state",
		MIMEType: "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: handlers.CacheURI + "/{partition}/{key}",
		Name:        "cache",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	return server
}

// MCPCommand starts the MCP server on stdio
func MCPCommand(app *App, version string) error {
	app.Logger.Info("starting fieldsync MCP server")
	return NewMCPServer(app, version).Run(context.Background(), &mcp.StdioTransport{})
}
