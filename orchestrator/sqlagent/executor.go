// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlagent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"axonflow/tabula/connectors/postgres"
	"axonflow/tabula/connectors/sdk"
	"axonflow/tabula/orchestrator/llm"
	"axonflow/tabula/shared/logger"
	"axonflow/tabula/shared/tracing"
)

// Answer is the outcome of one question.
type Answer struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
	SQL     string `json:"-"`
	Rows    int    `json:"-"`
}

// NoTablesAnswer is returned before any file has been loaded.
const NoTablesAnswer = "There are no tables in this project's database yet. Upload a CSV or XLSX file first."

// Executor answers questions against one project database.
type Executor struct {
	projectID    string
	db           *sql.DB
	provider     llm.Provider
	retry        *sdk.RetryPolicy
	rowLimit     int
	queryTimeout time.Duration
	logger       *logger.Logger
}

type plan struct {
	SQL    string `json:"sql"`
	Reason string `json:"reason"`
}

// Run plans a SELECT for question, executes it read-only and has the model
// phrase the answer from the rows.
func (e *Executor) Run(ctx context.Context, requestID, question string) (*Answer, error) {
	ctx, span := tracing.Start(ctx, "sqlagent.run", attribute.String("project_id", e.projectID))
	answer, err := e.run(ctx, requestID, question)
	tracing.End(span, err)
	return answer, err
}

func (e *Executor) run(ctx context.Context, requestID, question string) (*Answer, error) {
	tables, err := postgres.DescribeSchema(ctx, e.db)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return &Answer{Success: true, Answer: NoTablesAnswer}, nil
	}

	p, err := e.plan(ctx, tables, question)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SQL) == "" {
		reason := p.Reason
		if reason == "" {
			reason = "The question cannot be answered from the uploaded data."
		}
		return &Answer{Success: true, Answer: reason}, nil
	}

	stmt, err := ValidateSelect(p.SQL)
	if err != nil {
		e.logger.Warn(e.projectID, requestID, "Rejected generated SQL", map[string]interface{}{"sql": p.SQL, "error": err.Error()})
		return nil, sdk.Permanent(err)
	}

	result, err := e.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	e.logger.Info(e.projectID, requestID, "Executed generated SQL", map[string]interface{}{
		"sql":       stmt,
		"rows":      result.RowCount,
		"truncated": result.Truncated,
		"duration":  result.Duration.String(),
	})

	text, err := e.answer(ctx, question, stmt, result)
	if err != nil {
		return nil, err
	}
	return &Answer{Success: true, Answer: text, SQL: stmt, Rows: result.RowCount}, nil
}

func (e *Executor) query(ctx context.Context, stmt string) (*postgres.QueryResult, error) {
	return sdk.Do(ctx, e.retry, func(ctx context.Context) (*postgres.QueryResult, error) {
		qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
		return postgres.QueryReadOnly(qctx, e.db, stmt, e.rowLimit)
	})
}

func (e *Executor) plan(ctx context.Context, tables []postgres.Table, question string) (*plan, error) {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: planPrompt(tables, e.rowLimit),
		Prompt:       question,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("plan query: %w", err)
	}
	var p plan
	if err := llm.DecodeJSON(resp.Content, &p); err != nil {
		return nil, sdk.Permanent(fmt.Errorf("plan query: %w", err))
	}
	return &p, nil
}

func (e *Executor) answer(ctx context.Context, question, stmt string, result *postgres.QueryResult) (string, error) {
	rows, err := json.Marshal(result.Rows)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSQL: %s\n\nRows (%d", question, stmt, result.RowCount)
	if result.Truncated {
		fmt.Fprintf(&b, ", truncated to the first %d", e.rowLimit)
	}
	fmt.Fprintf(&b, "):\n%s", rows)

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: answerPrompt,
		Prompt:       b.String(),
	})
	if err != nil {
		return "", fmt.Errorf("answer: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

const answerPrompt = `You answer questions about a user's uploaded spreadsheets.
You are given the question, the SQL that was run and the resulting rows as JSON.
Answer the question directly and concisely from the rows only. If the rows are empty,
say that no matching data was found. Do not mention SQL, tables or JSON.`

func planPrompt(tables []postgres.Table, rowLimit int) string {
	var b strings.Builder
	b.WriteString("You translate questions into a single PostgreSQL SELECT statement over these tables.\n")
	b.WriteString("All columns are stored as TEXT; cast with ::numeric or ::date when comparing or aggregating.\n\n")
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
		fmt.Fprintf(&b, "- %s(%s)\n", t.Name, strings.Join(cols, ", "))
	}
	fmt.Fprintf(&b, `
Rules:
- Only SELECT (or WITH ... SELECT). Never modify data.
- Return at most %d rows.
- Respond with a JSON object: {"sql": "<statement>"}.
- If the question cannot be answered from these tables respond {"sql": "", "reason": "<short explanation>"}.`, rowLimit)
	return b.String()
}
