package docfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentworkforce/gtaskfs/internal/diagnostics"
	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

type fakeTasksClient struct {
	mu       sync.Mutex
	record   taskdoc.Record
	getErr   error
	patchErr error
	gets     int
	patches  []taskdoc.Update
	trace    *[]string
}

func (c *fakeTasksClient) GetTask(_ context.Context, listID, taskID string) (taskdoc.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return taskdoc.Record{}, c.getErr
	}
	return c.record, nil
}

func (c *fakeTasksClient) PatchTask(_ context.Context, listID, taskID string, update taskdoc.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trace != nil {
		*c.trace = append(*c.trace, "patch:"+listID+"/"+taskID)
	}
	if c.patchErr != nil {
		return c.patchErr
	}
	c.patches = append(c.patches, update)
	return nil
}

func readyAccessor(client tasksapi.Client) ClientAccessor {
	return func() (tasksapi.Client, bool) { return client, true }
}

func notReady() (tasksapi.Client, bool) {
	return nil, false
}

type testHarness struct {
	provider *Provider
	client   *fakeTasksClient
	sink     *diagnostics.MemorySink
	trace    []string
}

func newHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()
	h := &testHarness{sink: diagnostics.NewMemorySink(10)}
	h.client = &fakeTasksClient{
		record: taskdoc.Record{
			Kind:   "tasks#task",
			ID:     "T1",
			Etag:   `"etag"`,
			Title:  taskdoc.Ptr("Write report"),
			Notes:  taskdoc.Ptr("Q4 <numbers> & charts"),
			Status: taskdoc.Ptr(taskdoc.StatusNeedsAction),
			Due:    taskdoc.Ptr("2025-12-01T00:00:00.000Z"),
			Links:  []taskdoc.Link{{Type: "email", Link: "https://mail.example.com/1"}},
		},
		trace: &h.trace,
	}
	if opts.Clients == nil {
		opts.Clients = readyAccessor(h.client)
	}
	if opts.Refresher == nil {
		opts.Refresher = RefreshFunc(func() { h.trace = append(h.trace, "refresh") })
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = h.sink
	}
	h.provider = NewProvider(opts)
	h.provider.OnDidChange(func(events []ChangeEvent) {
		for _, event := range events {
			h.trace = append(h.trace, event.Type.String()+":"+event.Address)
		}
	})
	t.Cleanup(h.provider.Close)
	return h
}

func TestReadRendersIndentedDocument(t *testing.T) {
	h := newHarness(t, Options{})
	address := taskdoc.Encode("L1", "T1")

	data, err := h.provider.Read(context.Background(), address)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	want := `{
  "$schema": "` + taskdoc.DefaultSchemaRef + `",
  "title": "Write report",
  "notes": "Q4 <numbers> & charts",
  "due": "2025-12-01T00:00:00.000Z",
  "status": "needsAction",
  "links": [
    {
      "type": "email",
      "link": "https://mail.example.com/1"
    }
  ]
}`
	if string(data) != want {
		t.Fatalf("unexpected document:\n%s", data)
	}
	if strings.Contains(string(data), `"id"`) || strings.Contains(string(data), "etag") {
		t.Fatalf("expected informational fields to be dropped, got %s", data)
	}
}

func TestReadWithoutClientReturnsPlaceholder(t *testing.T) {
	h := newHarness(t, Options{Clients: notReady, SchemaRef: "https://example.test/task.json"})

	data, err := h.provider.Read(context.Background(), taskdoc.Encode("L1", "T1"))
	if err != nil {
		t.Fatalf("expected placeholder without error, got %v", err)
	}
	var placeholder map[string]string
	if err := json.Unmarshal(data, &placeholder); err != nil {
		t.Fatalf("placeholder is not json: %v", err)
	}
	if placeholder["$schema"] != "https://example.test/task.json" {
		t.Fatalf("expected configured schema ref, got %v", placeholder)
	}
	if placeholder["error"] != PlaceholderError || placeholder["note"] != PlaceholderNote {
		t.Fatalf("unexpected placeholder %v", placeholder)
	}
	if h.client.gets != 0 {
		t.Fatalf("expected no remote call, got %d", h.client.gets)
	}
}

func TestReadMalformedAddressIsFileNotFound(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.provider.Read(context.Background(), "gtask-json:/only-one.json")
	if code, _ := CodeOf(err); code != CodeFileNotFound {
		t.Fatalf("expected file not found, got %v", err)
	}
	if !errors.Is(err, taskdoc.ErrNotFound) {
		t.Fatalf("expected taskdoc.ErrNotFound in chain, got %v", err)
	}
}

func TestReadRemoteFailureIsWrappedAndRecorded(t *testing.T) {
	h := newHarness(t, Options{})
	h.client.getErr = &tasksapi.HTTPError{StatusCode: 404, Status: "NOT_FOUND", Message: "gone"}
	address := taskdoc.Encode("L1", "T1")

	_, err := h.provider.Read(context.Background(), address)
	if code, _ := CodeOf(err); code != CodeRemoteFailure {
		t.Fatalf("expected remote failure, got %v", err)
	}
	if !errors.Is(err, tasksapi.ErrNotFound) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	entries, _ := h.sink.Recent(context.Background(), 0)
	if len(entries) != 1 || entries[0].Op != "read" || entries[0].Address != address {
		t.Fatalf("expected one read diagnostic, got %+v", entries)
	}
	if !strings.Contains(entries[0].Message, "gone") {
		t.Fatalf("expected cause in diagnostic, got %q", entries[0].Message)
	}
}

func TestWriteRefreshesThenFiresOneChange(t *testing.T) {
	h := newHarness(t, Options{})
	address := taskdoc.Encode("L1", "T1")

	payload := `{"$schema":"x","title":"New title","status":"completed","links":[{"type":"email"}]}`
	if err := h.provider.Write(context.Background(), address, []byte(payload)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	want := []string{"patch:L1/T1", "refresh", "changed:" + address}
	if strings.Join(h.trace, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, h.trace)
	}
	if len(h.client.patches) != 1 {
		t.Fatalf("expected one patch, got %d", len(h.client.patches))
	}
	keys := h.client.patches[0].Keys()
	if strings.Join(keys, ",") != "status,title" {
		t.Fatalf("expected links and $schema to be left out, got %v", keys)
	}
}

func TestWriteInvalidStatusDoesNotPatch(t *testing.T) {
	h := newHarness(t, Options{})

	err := h.provider.Write(context.Background(), taskdoc.Encode("L1", "T1"), []byte(`{"status":"archived"}`))
	if !errors.Is(err, taskdoc.ErrInvalidStatus) || !errors.Is(err, taskdoc.ErrInvalidInput) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if code, _ := CodeOf(err); code != CodeUnavailable {
		t.Fatalf("expected unavailable code, got %v", err)
	}
	if len(h.trace) != 0 || len(h.client.patches) != 0 {
		t.Fatalf("expected no patch and no events, got %v", h.trace)
	}
}

func TestWriteFailuresFireNothing(t *testing.T) {
	cases := []struct {
		name    string
		opts    Options
		address string
		payload string
		setup   func(c *fakeTasksClient)
		code    Code
		target  error
	}{
		{name: "bad address", address: "gtask-json:/L1", payload: `{}`, code: CodeFileNotFound, target: taskdoc.ErrNotFound},
		{name: "not ready", opts: Options{Clients: notReady}, payload: `{"title":"x"}`, code: CodeUnavailable, target: ErrServiceNotReady},
		{name: "malformed json", payload: `{"title":`, code: CodeUnavailable, target: taskdoc.ErrInvalidInput},
		{name: "non object", payload: `[1,2]`, code: CodeUnavailable, target: taskdoc.ErrInvalidInput},
		{name: "unsupported key", payload: `{"title":"ok","id":"T9"}`, code: CodeUnavailable, target: taskdoc.ErrUnsupportedField},
		{name: "bad due", payload: `{"due":"not-a-date"}`, code: CodeUnavailable, target: taskdoc.ErrInvalidDue},
		{
			name:    "remote failure",
			payload: `{"title":"x"}`,
			setup: func(c *fakeTasksClient) {
				c.patchErr = &tasksapi.HTTPError{StatusCode: 500, Message: "boom"}
			},
			code: CodeRemoteFailure,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts)
			if tc.setup != nil {
				tc.setup(h.client)
			}
			address := tc.address
			if address == "" {
				address = taskdoc.Encode("L1", "T1")
			}
			err := h.provider.Write(context.Background(), address, []byte(tc.payload))
			if code, _ := CodeOf(err); code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, err)
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Fatalf("expected %v in chain, got %v", tc.target, err)
			}
			for _, step := range h.trace {
				if step == "refresh" || strings.HasPrefix(step, "changed:") {
					t.Fatalf("expected no refresh or change event, got %v", h.trace)
				}
			}
			entries, _ := h.sink.Recent(context.Background(), 0)
			if len(entries) != 1 || entries[0].Op != "write" {
				t.Fatalf("expected one write diagnostic, got %+v", entries)
			}
		})
	}
}

func TestWriteStrictSchemaRejectsWrongTypes(t *testing.T) {
	schema, err := taskdoc.CompileSchema()
	if err != nil {
		t.Fatalf("compile schema failed: %v", err)
	}
	h := newHarness(t, Options{Schema: schema})

	err = h.provider.Write(context.Background(), taskdoc.Encode("L1", "T1"), []byte(`{"title":"ok","links":"not-a-list"}`))
	if !errors.Is(err, taskdoc.ErrInvalidInput) {
		t.Fatalf("expected schema violation, got %v", err)
	}
	var schemaErr *taskdoc.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected schema error, got %T", err)
	}
	if len(h.client.patches) != 0 {
		t.Fatalf("expected no patch call")
	}

	if err := h.provider.Write(context.Background(), taskdoc.Encode("L1", "T1"), []byte(`{"title":"ok","hidden":true}`)); err != nil {
		t.Fatalf("expected valid document to pass schema, got %v", err)
	}
}

func TestWriteHonorsAllowList(t *testing.T) {
	h := newHarness(t, Options{Allowed: taskdoc.NewKeySet("title")})

	err := h.provider.Write(context.Background(), taskdoc.Encode("L1", "T1"), []byte(`{"title":"x","notes":"y"}`))
	if !errors.Is(err, taskdoc.ErrUnsupportedField) {
		t.Fatalf("expected notes to be rejected, got %v", err)
	}
}

func TestStructuralOperationsAreNotPermitted(t *testing.T) {
	h := newHarness(t, Options{})
	address := taskdoc.Encode("L1", "T1")
	errs := map[string]error{
		"readDirectory":   h.provider.ReadDirectory("gtask-json:/L1"),
		"createDirectory": h.provider.CreateDirectory("gtask-json:/L2"),
		"rename":          h.provider.Rename(address, taskdoc.Encode("L1", "T2")),
		"delete":          h.provider.Delete(address),
	}
	for op, err := range errs {
		if code, _ := CodeOf(err); code != CodeNoPermissions {
			t.Fatalf("%s: expected no permissions, got %v", op, err)
		}
		if !errors.Is(err, ErrNoPermissions) {
			t.Fatalf("%s: expected ErrNoPermissions, got %v", op, err)
		}
		var docErr *Error
		if !errors.As(err, &docErr) || docErr.Op != op {
			t.Fatalf("expected op %s, got %v", op, err)
		}
	}
	entries, _ := h.sink.Recent(context.Background(), 0)
	if len(entries) != len(errs) {
		t.Fatalf("expected a diagnostic per refused operation, got %+v", entries)
	}
	for _, entry := range entries {
		if _, ok := errs[entry.Op]; !ok {
			t.Fatalf("unexpected diagnostic %+v", entry)
		}
	}
}

func TestStatAndWatch(t *testing.T) {
	now := time.Date(2025, 12, 1, 15, 0, 0, 0, time.UTC)
	h := newHarness(t, Options{Now: func() time.Time { return now }})

	stat := h.provider.Stat(taskdoc.Encode("L1", "T1"))
	if stat.Type != FileTypeFile || stat.Ctime != 0 || stat.Size != 0 || stat.Mtime != now.UnixMilli() {
		t.Fatalf("unexpected stat %+v", stat)
	}
	h.provider.Watch(taskdoc.Encode("L1", "T1")).Close()
}

func TestCloseStopsChangeEvents(t *testing.T) {
	h := newHarness(t, Options{})
	h.provider.Close()

	if err := h.provider.Write(context.Background(), taskdoc.Encode("L1", "T1"), []byte(`{"title":"x"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	for _, step := range h.trace {
		if strings.HasPrefix(step, "changed:") {
			t.Fatalf("expected no change event after close, got %v", h.trace)
		}
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestReadWithoutClientLogsPlaceholder(t *testing.T) {
	logger := &recordingLogger{}
	h := newHarness(t, Options{Clients: notReady, Logger: logger})

	if _, err := h.provider.Read(context.Background(), "/L1/T1.json"); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !logger.contains("not ready") || !logger.contains(taskdoc.Encode("L1", "T1")) {
		t.Fatalf("expected a not-ready line for the canonical address, got %v", logger.lines)
	}
}

func TestWriteBarePathFiresCanonicalAddress(t *testing.T) {
	h := newHarness(t, Options{})

	if err := h.provider.Write(context.Background(), " /L1/T1.json", []byte(`{"title":"x"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	want := "changed:" + taskdoc.Encode("L1", "T1")
	if len(h.trace) != 3 || h.trace[2] != want {
		t.Fatalf("expected %q as the last event, got %v", want, h.trace)
	}
}

func TestWriteTrailingBracketDoesNotPatch(t *testing.T) {
	for _, payload := range []string{`{"title":"x"}}`, `{"title":"x"}]`} {
		h := newHarness(t, Options{})
		err := h.provider.Write(context.Background(), taskdoc.Encode("L1", "T1"), []byte(payload))
		if !errors.Is(err, taskdoc.ErrInvalidInput) {
			t.Fatalf("payload %s: expected invalid input, got %v", payload, err)
		}
		if len(h.client.patches) != 0 || len(h.trace) != 0 {
			t.Fatalf("payload %s: expected no patch and no events, got %v", payload, h.trace)
		}
	}
}

type contextCheckingSink struct {
	mu      sync.Mutex
	ctxErrs []error
}

func (s *contextCheckingSink) Record(ctx context.Context, entry diagnostics.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return ctx.Err()
}

func TestFailureIsRecordedAfterCallerCancels(t *testing.T) {
	sink := &contextCheckingSink{}
	h := newHarness(t, Options{Diagnostics: sink})
	h.client.getErr = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.provider.Read(ctx, taskdoc.Encode("L1", "T1")); err == nil {
		t.Fatalf("expected read to fail")
	}
	if len(sink.ctxErrs) != 1 || sink.ctxErrs[0] != nil {
		t.Fatalf("expected one record with a live context, got %v", sink.ctxErrs)
	}
}
