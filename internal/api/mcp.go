package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/twin/internal/pipeline"
)

const profileURIPrefix = "twin://profile/"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline *pipeline.Pipeline
	Version  string
}

// NewMCPServer creates an MCP server with the twin tools and the profile
// resource template registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"twin",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("twin trains a digital twin from answered questions and chats as that twin."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("next_question",
			mcp.WithDescription("Return the next unanswered training question for a profile."),
			mcp.WithString("profile_id", mcp.Description("Profile to train"), mcp.Required()),
			mcp.WithString("context", mcp.Description("Optional free text whose words steer selection")),
		),
		mcpNextQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_answer",
			mcp.WithDescription("Record a profile's answer to a training question."),
			mcp.WithString("profile_id", mcp.Description("Profile being trained"), mcp.Required()),
			mcp.WithNumber("question_id", mcp.Description("ID of the answered question"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The answer text"), mcp.Required()),
			mcp.WithString("emotion", mcp.Description("Optional emotion tag: happy, excited, sad, angry or neutral")),
		),
		mcpSubmitAnswer(deps),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send a message to a twin. With speaker_id the target must be deployed."),
			mcp.WithString("profile_id", mcp.Description("Twin to talk to"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Message text"), mcp.Required()),
			mcp.WithString("speaker_id", mcp.Description("Profile of the visitor talking to a deployed twin")),
			mcp.WithBoolean("reset", mcp.Description("Start a fresh conversation context")),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze",
			mcp.WithDescription("Classify the emotion and style of a text for a profile."),
			mcp.WithString("profile_id", mcp.Description("Profile whose traits are reported"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Text to analyze"), mcp.Required()),
		),
		mcpAnalyze(deps),
	)

	s.AddTool(
		mcp.NewTool("list_deployed",
			mcp.WithDescription("List the deployed twins open for conversation."),
		),
		mcpListDeployed(deps),
	)

	// Resources
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			profileURIPrefix+"{id}",
			"Profile",
			mcp.WithTemplateDescription("A stored profile as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpNextQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("profile_id")
		if err != nil {
			return mcpError("profile_id is required"), nil
		}
		q, err := deps.Pipeline.NextQuestion(ctx, id, req.GetString("context", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("next question: %v", err)), nil
		}
		return mcpJSON(q)
	}
}

func mcpSubmitAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("profile_id")
		if err != nil {
			return mcpError("profile_id is required"), nil
		}
		qid, err := req.RequireInt("question_id")
		if err != nil {
			return mcpError("question_id is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil {
			return mcpError("answer is required"), nil
		}

		p, err := deps.Pipeline.SubmitAnswer(ctx, id, qid, answer, req.GetString("emotion", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("submit answer: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded answer to question %d; training progress %d%%", qid, p.TrainingProgress)), nil
	}
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("profile_id")
		if err != nil {
			return mcpError("profile_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		reset := req.GetBool("reset", false)

		var reply string
		if speaker := req.GetString("speaker_id", ""); speaker != "" {
			r, err := deps.Pipeline.ChatWith(ctx, speaker, id, message, reset)
			if err != nil {
				return mcpError(fmt.Sprintf("chat: %v", err)), nil
			}
			reply = r.Text
		} else {
			r, err := deps.Pipeline.Chat(ctx, id, message, reset)
			if err != nil {
				return mcpError(fmt.Sprintf("chat: %v", err)), nil
			}
			reply = r.Text
		}
		return mcpText(reply), nil
	}
}

func mcpAnalyze(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("profile_id")
		if err != nil {
			return mcpError("profile_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		report, err := deps.Pipeline.Analyze(ctx, id, text)
		if err != nil {
			return mcpError(fmt.Sprintf("analyze: %v", err)), nil
		}
		return mcpJSON(report)
	}
}

func mcpListDeployed(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deployed, err := deps.Pipeline.ListDeployed(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("list deployed: %v", err)), nil
		}
		return mcpJSON(deployed)
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id := strings.TrimPrefix(req.Params.URI, profileURIPrefix)
		if id == "" || id == req.Params.URI {
			return nil, fmt.Errorf("invalid profile uri %q", req.Params.URI)
		}

		p, err := deps.Pipeline.Profile(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
