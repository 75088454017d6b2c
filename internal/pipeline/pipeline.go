// Package pipeline holds the contract shared by every stage: the
// per-stage directory layout, the stage-filename convention, and batch
// finalization, mirroring the shared helpers the teacher keeps alongside
// its own run orchestration.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spmedge/pipeline/internal/store"
)

// Directory names are fixed relative to the configured data root.
const (
	DirUnprocessed  = "unprocessed"
	DirStageInput   = "stage_input"
	DirStageLoad    = "stage_load"
	DirStageClean   = "stage_clean"
	DirStageProcess = "stage_process"
	DirArchive      = "archive"
	DirLogs         = "logs"
)

// allDirs lists every directory EnsureDirectories must create.
var allDirs = []string{DirUnprocessed, DirStageInput, DirStageLoad, DirStageClean, DirStageProcess, DirArchive, DirLogs}

// Context bundles the resources every stage needs: the state store and the
// resolved data-root paths. Stages take a *Context rather than importing
// config directly, so they can be exercised with a temp directory in tests.
type Context struct {
	Store    store.Store
	DataRoot string
	Now      func() time.Time
}

// NewContext builds a Context rooted at dataRoot.
func NewContext(st store.Store, dataRoot string) *Context {
	return &Context{Store: st, DataRoot: dataRoot, Now: time.Now}
}

// Dir returns the absolute path of one of the fixed stage directories.
func (c *Context) Dir(name string) string {
	return filepath.Join(c.DataRoot, name)
}

// EnsureDirectories creates every fixed directory under the data root,
// idempotently.
func (c *Context) EnsureDirectories() error {
	for _, d := range allDirs {
		if err := os.MkdirAll(c.Dir(d), 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", d, err)
		}
	}
	return nil
}

// CancelledMessage is the fixed error message a stage records for a
// document whose processing was interrupted by context cancellation,
// taking the place of whatever message the underlying suspension point
// (file I/O, a state-store query, an LLM call) happened to return.
const CancelledMessage = "cancelled"

// FailureMessage returns the message a stage should record for a failed
// document: CancelledMessage when ctx was canceled, otherwise err's own
// message. Stages call this at the point they'd otherwise write
// err.Error() into a PipelineStateRecord's ErrorMessage, so a document
// interrupted mid-suspension lands on the fixed "cancelled" message
// rather than a transport-specific cancellation string.
func FailureMessage(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return CancelledMessage
	}
	return err.Error()
}

// StageDir returns the artifact directory a stage writes into. stage is the
// stage whose OWN artifact is being produced (e.g. store.StageLoad writes
// into stage_load/).
func (c *Context) StageDir(stage store.Stage) string {
	switch stage {
	case store.StageInput:
		return c.Dir(DirStageInput)
	case store.StageLoad:
		return c.Dir(DirStageLoad)
	case store.StageClean:
		return c.Dir(DirStageClean)
	case store.StageProcess:
		return c.Dir(DirStageProcess)
	default:
		return c.Dir(DirStageProcess)
	}
}

// shortID truncates a document id's dashes-removed form to 12 hex chars.
func shortID(documentID string) string {
	s := strings.ReplaceAll(documentID, "-", "")
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}

// StageFilename builds the canonical artifact filename for a (document,
// stage) pair:
//
//	pipeline_<stage>_doc<12-hex>_batch<batch>_<sanitized-base>_<YYYYMMDD_HHMMSS><ext>
func (c *Context) StageFilename(stage store.Stage, documentID, batchID, sanitizedBase, ext string) string {
	if !strings.HasPrefix(ext, ".") && ext != "" {
		ext = "." + ext
	}
	ts := c.now().Format("20060102_150405")
	base := strings.TrimSuffix(sanitizedBase, filepath.Ext(sanitizedBase))
	return fmt.Sprintf("pipeline_%s_doc%s_batch%s_%s_%s%s", stage, shortID(documentID), batchID, base, ts, ext)
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// DefaultExt returns the conventional artifact extension for a stage.
func DefaultExt(stage store.Stage) string {
	switch stage {
	case store.StageLoad, store.StageProcess:
		return ".json"
	case store.StageClean:
		return ".txt"
	default:
		return ".json"
	}
}

// FinalizeBatch marks a batch completed when every document succeeded,
// failed when none did, and partial otherwise; an empty batch is completed.
func FinalizeBatch(ctx context.Context, st store.Store, batchID string, succeeded, total int) error {
	status := store.StatusCompleted
	if succeeded < total {
		status = store.StatusPartial
	}
	if succeeded == 0 && total > 0 {
		status = store.StatusFailed
	}
	if total == 0 {
		status = store.StatusCompleted
	}
	if err := st.FinalizeBatch(ctx, batchID, status); err != nil {
		return fmt.Errorf("finalize batch %s: %w", batchID, err)
	}
	return nil
}
