package docfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentworkforce/gtaskfs/internal/diagnostics"
	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

const (
	PlaceholderError = "Google Tasks is still initializing. Open the Google Tasks view or sign in, then reload this document."
	PlaceholderNote  = "Once Google Tasks is ready, click Try Again or re-open to fetch live data."
)

// ClientAccessor reports the remote client available at call time.
// ok is false while the service is not ready.
type ClientAccessor func() (client tasksapi.Client, ok bool)

// Refresher is told to reload its views after a successful write.
type Refresher interface {
	Refresh()
}

type RefreshFunc func()

func (f RefreshFunc) Refresh() {
	if f != nil {
		f()
	}
}

type Logger interface {
	Printf(format string, args ...any)
}

type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeFile
	FileTypeDirectory
)

// FileStat times are milliseconds since the Unix epoch.
type FileStat struct {
	Type  FileType
	Ctime int64
	Mtime int64
	Size  int64
}

type Subscription interface {
	Close()
}

type noopSubscription struct{}

func (noopSubscription) Close() {}

type Options struct {
	Clients     ClientAccessor
	Refresher   Refresher
	SchemaRef   string
	Schema      *taskdoc.Schema
	Allowed     taskdoc.KeySet
	Logger      Logger
	Diagnostics diagnostics.Sink
	Now         func() time.Time
}

// Provider serves task records as JSON documents addressed by
// taskdoc.Encode. Documents are synthesized on every read.
type Provider struct {
	clients     ClientAccessor
	refresher   Refresher
	schemaRef   string
	schema      *taskdoc.Schema
	allowed     taskdoc.KeySet
	logger      Logger
	diagnostics diagnostics.Sink
	now         func() time.Time
	changes     *Changes
}

func NewProvider(opts Options) *Provider {
	clients := opts.Clients
	if clients == nil {
		clients = func() (tasksapi.Client, bool) { return nil, false }
	}
	schemaRef := opts.SchemaRef
	if schemaRef == "" {
		schemaRef = taskdoc.DefaultSchemaRef
	}
	allowed := opts.Allowed
	if allowed == nil {
		allowed = taskdoc.EditableKeys
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		clients:     clients,
		refresher:   opts.Refresher,
		schemaRef:   schemaRef,
		schema:      opts.Schema,
		allowed:     allowed,
		logger:      opts.Logger,
		diagnostics: opts.Diagnostics,
		now:         now,
		changes:     NewChanges(),
	}
}

func (p *Provider) Changes() *Changes {
	return p.changes
}

func (p *Provider) OnDidChange(listener Listener) (dispose func()) {
	return p.changes.OnDidChange(listener)
}

func (p *Provider) Close() {
	p.changes.Close()
}

func (p *Provider) SchemaRef() string {
	return p.schemaRef
}

// Watch is accepted for any address. Changes are only reported for
// writes made through this provider.
func (p *Provider) Watch(address string) Subscription {
	return noopSubscription{}
}

func (p *Provider) Stat(address string) FileStat {
	return FileStat{
		Type:  FileTypeFile,
		Ctime: 0,
		Mtime: p.now().UnixMilli(),
		Size:  0,
	}
}

func (p *Provider) ReadDirectory(address string) error {
	return p.fail(context.Background(), noPermissions("readDirectory", address, "task documents cannot be listed"))
}

func (p *Provider) CreateDirectory(address string) error {
	return p.fail(context.Background(), noPermissions("createDirectory", address, "directories cannot be created"))
}

func (p *Provider) Rename(oldAddress, newAddress string) error {
	return p.fail(context.Background(), noPermissions("rename", oldAddress, "task documents cannot be renamed"))
}

func (p *Provider) Delete(address string) error {
	return p.fail(context.Background(), noPermissions("delete", address, "task documents cannot be deleted"))
}

// Read returns the document for address as indented JSON. Without a
// client it returns a placeholder document instead of an error.
func (p *Provider) Read(ctx context.Context, address string) ([]byte, error) {
	addr, err := taskdoc.Decode(address)
	if err != nil {
		return nil, p.fail(ctx, &Error{Code: CodeFileNotFound, Op: "read", Address: address, Err: err})
	}
	client, ok := p.clients()
	if !ok || client == nil {
		p.logf("docfs: read %s while Google Tasks is not ready, serving placeholder", addr)
		return marshalIndent(taskdoc.Placeholder{
			Schema: p.schemaRef,
			Error:  PlaceholderError,
			Note:   PlaceholderNote,
		})
	}
	record, err := client.GetTask(ctx, addr.ListID, addr.TaskID)
	if err != nil {
		return nil, p.fail(ctx, &Error{Code: CodeRemoteFailure, Op: "read", Address: address, Err: err})
	}
	doc := taskdoc.ToDocument(record)
	doc.Schema = p.schemaRef
	data, err := marshalIndent(doc)
	if err != nil {
		return nil, p.fail(ctx, &Error{Code: CodeRemoteFailure, Op: "read", Address: address, Err: err})
	}
	return data, nil
}

// Write submits content as a sparse update of the addressed task. On
// success the refresher runs and exactly one change event fires, in that
// order. Nothing fires when the write fails.
func (p *Provider) Write(ctx context.Context, address string, content []byte) error {
	addr, err := taskdoc.Decode(address)
	if err != nil {
		return p.fail(ctx, &Error{Code: CodeFileNotFound, Op: "write", Address: address, Err: err})
	}
	client, ok := p.clients()
	if !ok || client == nil {
		return p.fail(ctx, &Error{Code: CodeUnavailable, Op: "write", Address: address, Err: ErrServiceNotReady})
	}
	raw, err := taskdoc.Parse(content)
	if err != nil {
		return p.fail(ctx, &Error{Code: CodeUnavailable, Op: "write", Address: address, Err: err})
	}
	update, err := taskdoc.ToUpdate(raw, p.allowed)
	if err != nil {
		return p.fail(ctx, &Error{Code: CodeUnavailable, Op: "write", Address: address, Err: err})
	}
	if err := p.schema.Validate(raw); err != nil {
		return p.fail(ctx, &Error{Code: CodeUnavailable, Op: "write", Address: address, Err: err})
	}
	if err := client.PatchTask(ctx, addr.ListID, addr.TaskID, update); err != nil {
		return p.fail(ctx, &Error{Code: CodeRemoteFailure, Op: "write", Address: address, Err: err})
	}
	canonical := addr.String()
	p.logf("docfs: updated %s (%v)", canonical, update.Keys())
	if p.refresher != nil {
		p.refresher.Refresh()
	}
	p.changes.Fire(ChangeEvent{Type: ChangeChanged, Address: canonical})
	return nil
}

// recordTimeout bounds a diagnostic write, which is not tied to the
// caller's cancellation.
const recordTimeout = 5 * time.Second

func (p *Provider) fail(ctx context.Context, err *Error) error {
	p.logf("docfs: %s %s failed: %v", err.Op, err.Address, err.Err)
	if p.diagnostics != nil {
		entry := diagnostics.Entry{
			Time:    p.now().UTC(),
			Op:      err.Op,
			Address: err.Address,
			Message: fmt.Sprint(err.Err),
		}
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if recordErr := p.diagnostics.Record(recordCtx, entry); recordErr != nil {
			p.logf("docfs: record diagnostic failed: %v", recordErr)
		}
	}
	return err
}

func (p *Provider) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}

// marshalIndent keeps <, > and & literal so notes stay readable when edited
// by hand.
func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
