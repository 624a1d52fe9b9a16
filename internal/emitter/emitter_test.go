package emitter

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/resolver"
	"github.com/printlot-io/printlot/internal/store/memory"
	"github.com/printlot-io/printlot/pkg/log"
)

const (
	vinOne = "1HGCM82633A004352"
	vinTwo = "2HGCM82633A004353"
)

func testConfig(root string) *model.DealershipConfig {
	return &model.DealershipConfig{
		Name:     "Acme Honda",
		IsActive: true,
		Output: model.OutputRules{
			TemplateType:  "shortcut_pack",
			QRURLTemplate: "https://lot.example.com/v/{vin}",
			DefaultSize:   "Medium (STD)",
		},
		QROutputPath: root,
	}
}

func testResolution(vins ...string) *resolver.Resolution {
	res := &resolver.Resolution{
		Dealership: "Acme Honda",
		Mode:       model.OrderModeCAO,
		ResolvedAt: time.Now(),
	}
	for _, vin := range vins {
		res.Included = append(res.Included, model.Vehicle{
			VIN:         vin,
			Stock:       "S-" + vin[:4],
			Make:        "Honda",
			Model:       "Accord",
			VehicleType: model.VehicleTypeUsed,
		})
	}
	return res
}

func newEmitter(t *testing.T, s store) *Emitter {
	t.Helper()
	return New(s, t.TempDir(), log.NewNopLogger())
}

func TestEmitWritesArtifactsAndLogs(t *testing.T) {
	root := t.TempDir()
	s := memory.New()
	e := New(s, "", log.NewNopLogger())

	run, err := e.Emit(context.Background(), testResolution(vinOne, vinTwo), testConfig(root), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.VehicleCount)
	assert.Equal(t, 2, run.RowCount)

	// One QR per VIN, square 388px.
	for _, vin := range []string{vinOne, vinTwo} {
		f, err := os.Open(filepath.Join(run.QRDir, vin+".png"))
		require.NoError(t, err)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 388, img.Bounds().Dx())
		assert.Equal(t, 388, img.Bounds().Dy())
	}

	// VIN log appended and run recorded.
	assert.Equal(t, 2, s.VINLogLen("Acme Honda"))
	runs, err := s.ListOrderRuns(context.Background(), "Acme Honda", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	// No staging residue next to the run dir.
	siblings, err := os.ReadDir(filepath.Dir(run.QRDir))
	require.NoError(t, err)
	assert.Len(t, siblings, 1)
}

func TestEmitCSVDialect(t *testing.T) {
	root := t.TempDir()
	e := newEmitter(t, memory.New())

	run, err := e.Emit(context.Background(), testResolution(vinOne), testConfig(root), Options{})
	require.NoError(t, err)

	raw, err := os.ReadFile(run.CSVPath)
	require.NoError(t, err)
	content := string(raw)

	lines := strings.Split(strings.TrimSuffix(content, "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `"vin","stock","year","make","model","trim","price","size","quantity","qr_file"`, lines[0])
	assert.Contains(t, lines[1], `"`+vinOne+`"`)
	assert.Contains(t, lines[1], `"Medium (STD)"`)
	assert.Contains(t, lines[1], `"1"`)
	assert.NotContains(t, content, "\n\n", "CRLF only")
}

func TestEmitQuantityExpandsToUnitRows(t *testing.T) {
	root := t.TempDir()
	e := newEmitter(t, memory.New())

	run, err := e.Emit(context.Background(), testResolution(vinOne), testConfig(root), Options{
		Items: []ItemSpec{{VIN: vinOne, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, run.RowCount)

	raw, err := os.ReadFile(run.CSVPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\r\n"), "\r\n")
	require.Len(t, lines, 4, "header plus three identical unit rows")
	assert.Equal(t, lines[1], lines[2])
	assert.Contains(t, lines[1], `"1"`, "quantity column stays 1")
}

func TestEmitMixedSizeRejectedBeforeAnyFile(t *testing.T) {
	root := t.TempDir()
	s := memory.New()
	e := newEmitter(t, s)

	_, err := e.Emit(context.Background(), testResolution(vinOne, vinTwo), testConfig(root), Options{
		Items: []ItemSpec{
			{VIN: vinOne, Size: "Small"},
			{VIN: vinTwo, Size: "Medium (STD)"},
		},
	})
	require.ErrorIs(t, err, core.ErrMixedSizeRejected)

	entries, readErr := os.ReadDir(root)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "no files before the pre-flight passes")
	assert.Equal(t, 0, s.VINLogLen("Acme Honda"))
}

func TestEmitDryRunLeavesStoreUntouched(t *testing.T) {
	root := t.TempDir()
	s := memory.New()
	e := newEmitter(t, s)

	run, err := e.Emit(context.Background(), testResolution(vinOne), testConfig(root), Options{SkipVINLogging: true})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDryRun, run.Status)
	assert.Contains(t, run.QRDir, string(filepath.Separator)+"dry"+string(filepath.Separator))

	_, err = os.Stat(run.CSVPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(run.QRDir, vinOne+".png"))
	require.NoError(t, err)

	assert.Equal(t, 0, s.VINLogLen("Acme Honda"))
	runs, err := s.ListOrderRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// failingLogStore emits files fine but refuses the VIN log append.
type failingLogStore struct {
	*memory.Store
}

func (f *failingLogStore) AppendVINLogEntries(ctx context.Context, entries []model.VINLogEntry) error {
	return errors.New("connection reset")
}

func TestEmitPartialEmissionKeepsFiles(t *testing.T) {
	root := t.TempDir()
	s := &failingLogStore{Store: memory.New()}
	e := newEmitter(t, s)

	run, err := e.Emit(context.Background(), testResolution(vinOne), testConfig(root), Options{})
	require.ErrorIs(t, err, core.ErrPartialEmission)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFilesEmittedNoLog, run.Status)
	assert.NotEmpty(t, run.Remediation)

	// Files remain for operator recovery and the run record captures the
	// inconsistent state.
	_, statErr := os.Stat(run.CSVPath)
	assert.NoError(t, statErr)
	runs, listErr := s.ListOrderRuns(context.Background(), "Acme Honda", 0)
	require.NoError(t, listErr)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFilesEmittedNoLog, runs[0].Status)
}

// flakyLogStore fails the first VIN log append with a transient outage and
// accepts the retry.
type flakyLogStore struct {
	*memory.Store
	appendCalls int
}

func (f *flakyLogStore) AppendVINLogEntries(ctx context.Context, entries []model.VINLogEntry) error {
	f.appendCalls++
	if f.appendCalls == 1 {
		return fmt.Errorf("%w: connection refused", core.ErrStoreUnavailable)
	}
	return f.Store.AppendVINLogEntries(ctx, entries)
}

func TestEmitRetriesTransientOutageBeforeDeclaringPartial(t *testing.T) {
	root := t.TempDir()
	s := &flakyLogStore{Store: memory.New()}
	e := newEmitter(t, s)

	run, err := e.Emit(context.Background(), testResolution(vinOne), testConfig(root), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, s.appendCalls)
	assert.Equal(t, 1, s.VINLogLen("Acme Honda"))

	runs, err := s.ListOrderRuns(context.Background(), "Acme Honda", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
}

func TestEmitCancelledBeforeFilesLand(t *testing.T) {
	root := t.TempDir()
	s := memory.New()
	e := newEmitter(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Emit(ctx, testResolution(vinOne), testConfig(root), Options{})
	require.ErrorIs(t, err, core.ErrCancelled)

	entries, readErr := os.ReadDir(root)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
	assert.Equal(t, 0, s.VINLogLen("Acme Honda"))
}

func TestEmitUnknownTemplateRejected(t *testing.T) {
	e := newEmitter(t, memory.New())
	cfg := testConfig(t.TempDir())
	cfg.Output.TemplateType = "poster"

	_, err := e.Emit(context.Background(), testResolution(vinOne), cfg, Options{})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
