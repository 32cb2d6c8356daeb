// ABOUTME: Tests for script tools running real JavaScript snippets.
// ABOUTME: Covers bindings, throw handling, timeouts, and result export.

package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScriptTool(t *testing.T, script string, timeout time.Duration) *ScriptTool {
	t.Helper()
	return NewScriptTool("test_tool", "test", nil, script, timeout, docsFetcher(), nil)
}

func TestScriptToolReturnsString(t *testing.T) {
	tool := newTestScriptTool(t, `return "hello " + args.name;`, 0)

	out, err := tool.Execute(context.Background(), []byte(`{"name":"world"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestScriptToolReturnsObjectAsJSON(t *testing.T) {
	tool := newTestScriptTool(t, `return {status: "ok", value: 7};`, 0)

	out, err := tool.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "ok"`)
	assert.Contains(t, out, `"value": 7`)
}

func TestScriptToolReturnsNothing(t *testing.T) {
	tool := newTestScriptTool(t, `var unused = 1;`, 0)

	out, err := tool.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScriptToolQueriesRecords(t *testing.T) {
	tool := newTestScriptTool(t, `
		var recs = queryRecords("docs", {});
		return recs.length + " records, first is " + recs[0].id;
	`, 0)

	out, err := tool.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2 records, first is intro", out)
}

func TestScriptToolGetsRecord(t *testing.T) {
	tool := newTestScriptTool(t, `
		var rec = getRecord("docs", "intro");
		return rec.uri + ": " + rec.text;
	`, 0)

	out, err := tool.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "carrel://docs/intro: body of intro", out)
}

func TestScriptToolCanCatchFetchErrors(t *testing.T) {
	tool := newTestScriptTool(t, `
		try {
			getRecord("docs", "ghost");
			return "found";
		} catch (e) {
			return "caught";
		}
	`, 0)

	out, err := tool.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "caught", out)
}

func TestScriptToolThrowBecomesToolFailure(t *testing.T) {
	tool := newTestScriptTool(t, `throw new Error("bad input value");`, 0)

	_, err := tool.Execute(context.Background(), nil, nil)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "bad input value")
}

func TestScriptToolTimeout(t *testing.T) {
	tool := newTestScriptTool(t, `while (true) {}`, 50*time.Millisecond)

	start := time.Now()
	_, err := tool.Execute(context.Background(), nil, nil)
	require.Error(t, err)

	var execErr *ExecError
	assert.False(t, errors.As(err, &execErr), "a runaway script is an infrastructure failure")
	assert.Contains(t, err.Error(), "interrupted")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScriptToolSyntaxError(t *testing.T) {
	tool := newTestScriptTool(t, `return (((`, 0)

	_, err := tool.Execute(context.Background(), nil, nil)
	require.Error(t, err)
	var execErr *ExecError
	assert.False(t, errors.As(err, &execErr), "a broken script is a configuration problem")
}

func TestScriptToolReportsProgress(t *testing.T) {
	tool := newTestScriptTool(t, `
		progress(1, 3);
		progress(2, 3);
		return "done";
	`, 0)

	var calls [][2]float64
	out, err := tool.Execute(context.Background(), nil, func(p, total float64) {
		calls = append(calls, [2]float64{p, total})
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	require.Len(t, calls, 2)
	assert.Equal(t, [2]float64{1, 3}, calls[0])
	assert.Equal(t, [2]float64{2, 3}, calls[1])
}

func TestScriptToolDefaultSchema(t *testing.T) {
	tool := newTestScriptTool(t, `return "x";`, 0)
	def := tool.Definition()
	assert.Equal(t, "test_tool", def.Name)
	assert.JSONEq(t, `{"type":"object"}`, string(def.InputSchema))
}
