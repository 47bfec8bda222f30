package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/interviewd/internal/storage"
)

const registrationURIPrefix = "registration://"

// MCPStore is the part of the registration store exposed over MCP.
type MCPStore interface {
	ListRegistrations(ctx context.Context, limit int) ([]storage.Registration, error)
	GetRegistration(ctx context.Context, id string) (storage.Registration, error)
	GetByRegistrationID(ctx context.Context, registrationID string) (storage.Registration, error)
	UpdateStatus(ctx context.Context, id string, status storage.Status) (storage.Registration, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store MCPStore
}

// NewMCPServer creates an MCP server with the admin tools and the
// registration resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"interviewd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("interviewd: browse candidate registrations, their resume summaries and interview answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_registrations",
			mcp.WithDescription("List candidate registrations, newest first. Extracted resume text is omitted."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
			mcp.WithString("status", mcp.Description("Only return registrations with this status")),
		),
		mcpListRegistrations(deps),
	)

	s.AddTool(
		mcp.NewTool("get_registration",
			mcp.WithDescription("Fetch one registration with its summary and interview answers."),
			mcp.WithString("id", mcp.Description("Internal id or candidate registration id"), mcp.Required()),
		),
		mcpGetRegistration(deps),
	)

	s.AddTool(
		mcp.NewTool("set_registration_status",
			mcp.WithDescription("Set a registration's status (e.g. mark it interviewed)."),
			mcp.WithString("id", mcp.Description("Internal id of the registration"), mcp.Required()),
			mcp.WithString("status",
				mcp.Description("New status"),
				mcp.Required(),
				mcp.Enum(string(storage.StatusPending), string(storage.StatusProcessing), string(storage.StatusInProgress),
					string(storage.StatusCompleted), string(storage.StatusInterviewed)),
			),
		),
		mcpSetRegistrationStatus(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			registrationURIPrefix+"{id}",
			"Registration",
			mcp.WithTemplateDescription("A registration as JSON, addressed by internal or candidate id"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceRegistration(deps),
	)

	return s
}

// findRegistration tries the internal id first, then the candidate's
// registration id.
func findRegistration(ctx context.Context, store MCPStore, id string) (storage.Registration, error) {
	reg, err := store.GetRegistration(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		reg, err = store.GetByRegistrationID(ctx, id)
	}
	return reg, err
}

func mcpListRegistrations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 500 {
			limit = 500
		}
		status := storage.Status(req.GetString("status", ""))
		if status != "" && !status.Valid() {
			return mcpError(fmt.Sprintf("unknown status %q", status)), nil
		}

		regs, err := deps.Store.ListRegistrations(ctx, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("list failed: %v", err)), nil
		}

		type registrationRow struct {
			ID             string `json:"id"`
			RegistrationID string `json:"registration_id"`
			Name           string `json:"name"`
			Email          string `json:"email"`
			Status         string `json:"status"`
			SubmittedAt    string `json:"submitted_at"`
			Answered       int    `json:"answered"`
		}

		rows := []registrationRow{}
		for _, r := range regs {
			if status != "" && r.Status != status {
				continue
			}
			answered := 0
			for _, q := range r.Interview.Questions {
				if q.IsAnswered {
					answered++
				}
			}
			rows = append(rows, registrationRow{
				ID:             r.ID,
				RegistrationID: r.RegistrationID,
				Name:           r.Name,
				Email:          r.Email,
				Status:         string(r.Status),
				SubmittedAt:    r.SubmittedAt.Format("2006-01-02T15:04:05Z07:00"),
				Answered:       answered,
			})
		}

		b, err := json.Marshal(rows)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetRegistration(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		reg, err := findRegistration(ctx, deps.Store, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("registration %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(reg.Sanitized())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal registration: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetRegistrationStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		raw, err := req.RequireString("status")
		if err != nil {
			return mcpError("status is required"), nil
		}
		status := storage.Status(raw)
		if !status.Valid() {
			return mcpError(fmt.Sprintf("unknown status %q", raw)), nil
		}

		reg, err := deps.Store.UpdateStatus(ctx, id, status)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("registration %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to set status: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s status = %s", reg.RegistrationID, reg.Status)), nil
	}
}

func mcpResourceRegistration(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id := strings.TrimPrefix(req.Params.URI, registrationURIPrefix)
		if id == "" || id == req.Params.URI {
			return nil, fmt.Errorf("invalid registration uri %q", req.Params.URI)
		}

		reg, err := findRegistration(ctx, deps.Store, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get registration %s: %w", id, err)
		}

		b, err := json.Marshal(reg.Sanitized())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal registration: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
