package adapt

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kb3bmv/dpdce/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRC struct {
	values map[string]string
	calls  []string
}

func newFakeRC() *fakeRC {
	return &fakeRC{values: map[string]string{
		"sdr.txgain":   "10",
		"sdr.rxgain":   "40",
		"gain.digital": "1",
	}}
}

func (f *fakeRC) Get(module, param string) (string, error) {
	return f.values[module+"."+param], nil
}

func (f *fakeRC) Set(module, param string, values ...string) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s.%s", module, param))
	if len(values) > 0 {
		f.values[module+"."+param] = values[0]
	}
	return "ok", nil
}

func TestPolyFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coef.txt")

	want := model.Poly{
		CoefsAM: []float32{1, 0.1, 0.02, 0, 0},
		CoefsPM: []float32{0, 0.05, 0, 0, 0},
	}
	require.NoError(t, WritePolyFile(path, want))

	got, err := ReadPolyFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.CoefsAM, got.CoefsAM)
	assert.Equal(t, want.CoefsPM, got.CoefsPM)
}

func TestReadPolyFileRejectsUnknownTag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coef.txt")
	require.NoError(t, writeRaw(path, "2\n16\n"))

	_, err := ReadPolyFile(path)
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestReadPolyFileRejectsWrongCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coef.txt")
	require.NoError(t, writeRaw(path, "1\n5\n1\n0\n"))

	_, err := ReadPolyFile(path)
	assert.ErrorIs(t, err, ErrWrongEntryCount)
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestSetTxGainValidatesRange(t *testing.T) {
	a := New(newFakeRC(), "")
	assert.ErrorIs(t, a.SetTxGain(-1), ErrGainOutOfRange)
	assert.ErrorIs(t, a.SetTxGain(90), ErrGainOutOfRange)
	assert.NoError(t, a.SetTxGain(42))
}

func TestGetGainReturnsMinusOneOnProtocolError(t *testing.T) {
	rcClient := newFakeRC()
	delete(rcClient.values, "sdr.txgain")
	a := New(rcClient, "")
	assert.Equal(t, -1.0, a.GetTxGain())
}

func TestDumpRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	coefPath := filepath.Join(dir, "coef.txt")
	snapPath := filepath.Join(dir, "snap.bin")

	rcClient := newFakeRC()
	a := New(rcClient, coefPath)
	require.NoError(t, a.SetPredistorter(model.Poly{
		CoefsAM: []float32{1, 0.2, 0, 0, 0},
		CoefsPM: []float32{0, 0, 0, 0, 0},
	}))

	require.NoError(t, a.Dump(snapPath))

	// Perturb.
	require.NoError(t, a.SetTxGain(20))
	require.NoError(t, a.SetPredistorter(model.Poly{
		CoefsAM: []float32{9, 9, 9, 9, 9},
		CoefsPM: []float32{9, 9, 9, 9, 9},
	}))

	rcClient.calls = nil
	require.NoError(t, a.Restore(snapPath))

	// tx gain must be set twice: once to 0, once to the restored value.
	txSets := 0
	for _, c := range rcClient.calls {
		if c == "sdr.txgain" {
			txSets++
		}
	}
	assert.Equal(t, 2, txSets)
	assert.Equal(t, "sdr.txgain", rcClient.calls[0])
	assert.Equal(t, "sdr.txgain", rcClient.calls[len(rcClient.calls)-1])

	got, err := a.GetPredistorter()
	require.NoError(t, err)
	poly, ok := got.(model.Poly)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0.2, 0, 0, 0}, poly.CoefsAM)
}

func TestLutFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coef.txt")

	want := model.Lut{Scale: 4}
	for i := range want.Table {
		want.Table[i] = complex(float32(i)*0.1, float32(-i)*0.01)
	}
	require.NoError(t, WriteLutFile(path, want))

	got, err := ReadLutFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSetGetPredistorterRoundTripsLut(t *testing.T) {
	dir := t.TempDir()
	coefPath := filepath.Join(dir, "coef.txt")
	a := New(newFakeRC(), coefPath)

	want := model.Lut{Scale: 2}
	want.Table[0] = complex(1, 0)
	require.NoError(t, a.SetPredistorter(want))

	got, err := a.GetPredistorter()
	require.NoError(t, err)
	lut, ok := got.(model.Lut)
	require.True(t, ok)
	assert.Equal(t, want, lut)
}
