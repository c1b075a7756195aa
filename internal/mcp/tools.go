package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var snapshotToolDef = mcp.NewTool("site_snapshot",
	mcp.WithDescription("Copy a site's live log database without interrupting ingestion. "+
		"The snapshot file is delivered on the notification channels once written."),
	mcp.WithString("origin", mcp.Required(),
		mcp.Description("Site host, e.g. shop.example.com (port and case are ignored)")),
)

var rotateToolDef = mcp.NewTool("site_rotate",
	mcp.WithDescription("Archive a site's log database now and start a fresh one on the next write. "+
		"The archive is delivered on the notification channels."),
	mcp.WithString("origin", mcp.Required(),
		mcp.Description("Site host, e.g. shop.example.com")),
	mcp.WithDestructiveHintAnnotation(true),
)

var statsToolDef = mcp.NewTool("site_stats",
	mcp.WithDescription("Row counts of every open site database."),
	mcp.WithBoolean("strict",
		mcp.Description("Wait until every queued write has been applied before reading (default false)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var filesToolDef = mcp.NewTool("site_files",
	mcp.WithDescription("List database files in the data directory: active databases, "+
		"archives and snapshots not yet removed after delivery."),
	mcp.WithString("origin", mcp.Description("Only list files of this site")),
	mcp.WithBoolean("counts", mcp.Description("Include the row count of each file (slower)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var reloadToolDef = mcp.NewTool("rules_reload",
	mcp.WithDescription("Re-read the per-site rule file. On error the current rules stay active."),
)

var healthToolDef = mcp.NewTool("service_health",
	mcp.WithDescription("Service status, uptime, queue depth and rule summary."),
	mcp.WithReadOnlyHintAnnotation(true),
)
