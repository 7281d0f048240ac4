package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-collins1/NL2SQL-sub003/internal/logger"
	"github.com/noah-collins1/NL2SQL-sub003/internal/pipeline"
)

// examCase is one question in a batch file. Files are either a JSON array
// of cases or JSONL with one case per line.
type examCase struct {
	ID       string `json:"id,omitempty"`
	Question string `json:"question"`
}

type examResult struct {
	ID       string                `json:"id,omitempty"`
	Question string                `json:"question"`
	Result   *pipeline.QueryResult `json:"result"`
}

var examOut string

var examCmd = &cobra.Command{
	Use:   "exam <cases-file>",
	Short: "Run a batch of questions and report per-case results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cases, err := loadExamCases(args[0])
		if err != nil {
			return exitf(exitConfig, "load cases: %v", err)
		}
		if len(cases) == 0 {
			return exitf(exitConfig, "%s contains no cases", args[0])
		}

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.checkHealth(cmd.Context()); err != nil {
			return err
		}

		out := os.Stdout
		if examOut != "" {
			f, err := os.Create(examOut)
			if err != nil {
				return exitf(exitConfig, "create output file: %v", err)
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)

		a.log.Section(fmt.Sprintf("Exam: %d case(s)", len(cases)))
		progress := logger.NewProgress(a.log, len(cases))
		for i, c := range cases {
			name := c.ID
			if name == "" {
				name = fmt.Sprintf("case-%d", i+1)
			}
			progress.Start(name)
			res := a.pipe.Answer(cmd.Context(), c.Question, pipeline.Options{})
			if res.Error != nil {
				progress.Fail(name, fmt.Errorf("%s: %s", res.Error.Kind, res.Error.Message))
			} else {
				progress.Pass(name)
			}
			if err := enc.Encode(examResult{ID: c.ID, Question: c.Question, Result: res}); err != nil {
				return exitf(exitConfig, "write result: %v", err)
			}
		}

		if failed := progress.Summary(); failed > 0 {
			return exitf(exitExamFailed, "%d of %d case(s) failed", failed, len(cases))
		}
		return nil
	},
}

func init() {
	examCmd.Flags().StringVar(&examOut, "out", "", "write per-case results to this file as JSONL (default stdout)")
}

func loadExamCases(path string) ([]examCase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var cases []examCase
		if err := json.Unmarshal(trimmed, &cases); err != nil {
			return nil, fmt.Errorf("parse JSON array: %w", err)
		}
		return cases, nil
	}

	var cases []examCase
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var c examCase
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", line, err)
		}
		cases = append(cases, c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}
