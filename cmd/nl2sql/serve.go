package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/noah-collins1/NL2SQL-sub003/internal/pipeline"
)

const serveVersion = "1.0.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query_database tool over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.checkHealth(ctx); err != nil {
			return err
		}

		server := mcp.NewServer(&mcp.Implementation{Name: "nl2sql", Version: serveVersion}, nil)
		mcp.AddTool(server, &mcp.Tool{
			Name: "query_database",
			Description: "Answer a natural-language question about the connected database " +
				"by generating, validating, and executing read-only SQL.",
		}, a.handleQuery)
		if serveAllowRunSQL {
			mcp.AddTool(server, &mcp.Tool{
				Name: "run_sql",
				Description: "Execute operator-supplied SQL directly. The statement still goes " +
					"through the read-only validator and the row cap.",
			}, a.handleRunSQL)
		}
		server.AddResource(&mcp.Resource{
			URI:         "schema://tables",
			Name:        "tables",
			Description: "Every table in the schema index with its module and description.",
			MIMEType:    "application/json",
		}, a.handleTableList)
		server.AddResourceTemplate(&mcp.ResourceTemplate{
			URITemplate: "schema://tables/{name}/schema",
			Name:        "table-schema",
			Description: "Column layout of one table, as annotated DDL.",
			MIMEType:    "text/plain",
		}, a.handleTableSchema)

		a.log.Infof("serving MCP on stdio (database %s)", a.cfg.Database.DatabaseID)
		return server.Run(ctx, &mcp.StdioTransport{})
	},
}

var serveAllowRunSQL bool

func init() {
	serveCmd.Flags().BoolVar(&serveAllowRunSQL, "allow-run-sql", false,
		"also expose the run_sql tool for operator-supplied SQL")
}

type queryInput struct {
	Question  string `json:"question"`
	MaxRows   int    `json:"max_rows,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
	Trace     bool   `json:"trace,omitempty"`
}

func (a *app) handleQuery(ctx context.Context, req *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, pipeline.QueryResult, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, pipeline.QueryResult{}, fmt.Errorf("question must not be empty")
	}
	res := a.pipe.Answer(ctx, in.Question, pipeline.Options{
		Trace:     in.Trace,
		MaxRows:   in.MaxRows,
		TimeoutMS: in.TimeoutMS,
	})
	// pipeline failures are part of the answer, not protocol errors
	return nil, *res, nil
}

type runSQLInput struct {
	SQL string `json:"sql"`
}

func (a *app) handleRunSQL(ctx context.Context, req *mcp.CallToolRequest, in runSQLInput) (*mcp.CallToolResult, pipeline.QueryResult, error) {
	if strings.TrimSpace(in.SQL) == "" {
		return nil, pipeline.QueryResult{}, fmt.Errorf("sql must not be empty")
	}
	res := a.pipe.RunSQL(ctx, in.SQL)
	return nil, *res, nil
}

type tableSummary struct {
	Name   string `json:"name"`
	Module string `json:"module,omitempty"`
	Gloss  string `json:"gloss,omitempty"`
}

func (a *app) handleTableList(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	tables, err := a.pipe.Retriever().Catalog(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tableSummary, len(tables))
	for i, t := range tables {
		out[i] = tableSummary{Name: t.QualifiedName(), Module: t.Module, Gloss: t.Gloss}
	}
	text, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
		URI:      req.Params.URI,
		MIMEType: "application/json",
		Text:     string(text),
	}}}, nil
}

func (a *app) handleTableSchema(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(req.Params.URI, "schema://tables/"), "/schema")
	tables, err := a.pipe.Retriever().Catalog(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if strings.EqualFold(t.QualifiedName(), name) || strings.EqualFold(t.Name, name) {
			return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     t.CompactDDL(),
			}}}, nil
		}
	}
	return nil, mcp.ResourceNotFoundError(req.Params.URI)
}
