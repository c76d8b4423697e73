package entstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entstore/entstore/entstore/key"
	"github.com/entstore/entstore/entstore/wire"
)

// scriptedExecutor replays canned pages and records every request it
// sees, so tests can assert on the exact cursor/limit threading between
// round trips.
type scriptedExecutor struct {
	pages    []*wire.RunQueryResponse
	aggs     []*wire.RunAggregationResponse
	err      error
	requests []*wire.RunQueryRequest
	aggReqs  []*wire.RunAggregationRequest
}

func (s *scriptedExecutor) ExecuteQuery(_ context.Context, req *wire.RunQueryRequest) (*wire.RunQueryResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.pages) == 0 {
		return nil, errors.New("scripted executor: out of pages")
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func (s *scriptedExecutor) ExecuteAggregation(_ context.Context, req *wire.RunAggregationRequest) (*wire.RunAggregationResponse, error) {
	s.aggReqs = append(s.aggReqs, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.aggs) == 0 {
		return nil, errors.New("scripted executor: out of pages")
	}
	resp := s.aggs[0]
	s.aggs = s.aggs[1:]
	return resp, nil
}

func taskEntity(name string, priority string) wire.Entity {
	return wire.Entity{
		Key:        key.NameKey("Task", name, nil),
		Properties: map[string]wire.Value{"priority": {Integer: &priority}},
	}
}

func TestRunReturnsExactlyOnePage(t *testing.T) {
	exec := &scriptedExecutor{pages: []*wire.RunQueryResponse{
		{
			Entities:    []wire.Entity{taskEntity("a", "1"), taskEntity("b", "2")},
			EndCursor:   []byte("page-1"),
			MoreResults: wire.NotFinished,
		},
	}}
	db := NewDatabase(exec)

	q := db.NewQuery("Task").Limit(5).Offset(2)
	entities, info, err := q.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Len(t, entities, 2)
	assert.Equal(t, "Task,'a'", entities[0].Key.Token())
	assert.Equal(t, int64(1), entities[0].Properties["priority"])
	assert.Equal(t, NotFinished, info.MoreResults)
	assert.Equal(t, Cursor("page-1"), info.EndCursor)

	// One round trip, even though the store reported more results;
	// resuming is the caller's choice.
	require.Len(t, exec.requests, 1)
	req := exec.requests[0].Query
	require.NotNil(t, req.Limit)
	assert.Equal(t, int64(5), *req.Limit)
	require.NotNil(t, req.Offset)
	assert.Equal(t, int64(2), *req.Offset)
	assert.Empty(t, req.StartCursor)
}

func TestRunResumesViaStartCursor(t *testing.T) {
	exec := &scriptedExecutor{pages: []*wire.RunQueryResponse{
		{
			Entities:    []wire.Entity{taskEntity("a", "1")},
			EndCursor:   []byte("page-1"),
			MoreResults: wire.NotFinished,
		},
		{
			Entities:    []wire.Entity{taskEntity("b", "2")},
			EndCursor:   []byte("page-2"),
			MoreResults: wire.NoMoreResults,
		},
	}}
	q := NewDatabase(exec).NewQuery("Task")

	_, info, err := q.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	entities, info, err := q.Start(info.EndCursor).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, NoMoreResults, info.MoreResults)

	require.Len(t, exec.requests, 2)
	assert.Equal(t, []byte("page-1"), exec.requests[1].Query.StartCursor)
}

func TestRunDoesNotMutateQuery(t *testing.T) {
	exec := &scriptedExecutor{pages: []*wire.RunQueryResponse{
		{EndCursor: []byte("p1"), MoreResults: wire.NotFinished},
	}}
	q := NewDatabase(exec).NewQuery("Task").Limit(9).Offset(4)

	_, _, err := q.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(9), q.limit)
	assert.Equal(t, int64(4), q.offset)
	assert.Empty(t, q.startCursor)
}

func TestRunUnknownMoreResultsIsDecodeError(t *testing.T) {
	exec := &scriptedExecutor{pages: []*wire.RunQueryResponse{
		{MoreResults: "MAYBE_MORE"},
	}}
	q := NewDatabase(exec).NewQuery("Task")

	_, _, err := q.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrDecode), "got %v", err)
}

func TestRunWrapsTransportFailures(t *testing.T) {
	cause := errors.New("connection refused")
	exec := &scriptedExecutor{err: cause}
	q := NewDatabase(exec).NewQuery("Task")

	_, _, err := q.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrTransport), "got %v", err)
	assert.True(t, errors.Is(err, cause))
}

func TestRunCarriesScopeAndOptions(t *testing.T) {
	exec := &scriptedExecutor{pages: []*wire.RunQueryResponse{
		{MoreResults: wire.NoMoreResults},
	}}
	db := NewDatabase(exec).WithNamespace("tenant-a")
	tx := db.NewTransaction([]byte("txn-7"))

	_, _, err := tx.NewQuery("Task").Run(context.Background(), RunOptions{
		Consistency: ConsistencyEventual,
		Explain:     &ExplainOptions{Analyze: true},
	})
	require.NoError(t, err)

	require.Len(t, exec.requests, 1)
	req := exec.requests[0]
	assert.Equal(t, "tenant-a", req.Namespace)
	assert.Equal(t, []byte("txn-7"), req.Transaction)
	assert.Equal(t, wire.ConsistencyEventual, req.Consistency)
	require.NotNil(t, req.Explain)
	assert.True(t, req.Explain.Analyze)
}

func TestRunAggregation(t *testing.T) {
	count := "3"
	sum := 12.5
	exec := &scriptedExecutor{aggs: []*wire.RunAggregationResponse{
		{Results: map[string]wire.Value{
			"total":    {Integer: &count},
			"prio_sum": {Double: &sum},
		}},
	}}
	q := NewDatabase(exec).NewQuery("Task")

	res, err := q.NewAggregationQuery().
		WithCount("total").
		WithSum("priority", "prio_sum").
		Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Len(t, exec.aggReqs, 1)
	require.Len(t, exec.aggReqs[0].Aggregations, 2)
	assert.NotNil(t, exec.aggReqs[0].Aggregations[0].Count)
	require.NotNil(t, exec.aggReqs[0].Aggregations[1].Sum)
	assert.Equal(t, "priority", exec.aggReqs[0].Aggregations[1].Sum.Name)

	assert.Len(t, res, 2)
}

func TestRunAggregationRequiresAggregations(t *testing.T) {
	q := NewDatabase(&scriptedExecutor{}).NewQuery("Task")
	_, err := q.NewAggregationQuery().Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrClient))
}
