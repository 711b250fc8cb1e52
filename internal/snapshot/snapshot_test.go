package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kb3bmv/dpdce/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")

	want := Snapshot{
		TxGain:      42.5,
		RxGain:      30,
		DigitalGain: 1.25,
		Dpd: model.Poly{
			CoefsAM: []float32{1, 0.1, 0.01, 0, 0},
			CoefsPM: []float32{0, 0.2, 0, 0, 0},
		},
	}
	require.NoError(t, Write(path, want))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWriteReadRoundTripLut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")

	lut := model.Lut{Scale: 8}
	lut.Table[0] = complex(1, -0.5)
	want := Snapshot{TxGain: 10, RxGain: 40, DigitalGain: 1, Dpd: lut}
	require.NoError(t, Write(path, want))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xFF}, 0o644))

	_, err := Read(path)
	assert.Error(t, err)
}

func TestEnumerateIncludesDefaultsAndSortsDumps(t *testing.T) {
	dir := t.TempDir()
	for _, ts := range []int64{200, 100, 300} {
		require.NoError(t, Write(PathFor(dir, ts), Snapshot{
			Dpd: model.Poly{CoefsAM: make([]float32, 5), CoefsPM: make([]float32, 5)},
		}))
	}

	ids, err := Enumerate(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultsID, "100", "200", "300"}, ids)
}

func TestEnumerateOnMissingDirReturnsDefaultsOnly(t *testing.T) {
	ids, err := Enumerate(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultsID}, ids)
}
