// Package adapt implements Adapter: predistorter file codec, modulator
// gain get/set, and the snapshot dump/restore sequence that drives the
// modulator's memlesspoly predistorter.
package adapt

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kb3bmv/dpdce/internal/model"
	"github.com/kb3bmv/dpdce/internal/rc"
	"github.com/kb3bmv/dpdce/internal/snapshot"
)

// File format tags, per the predistorter file's first line.
const (
	TagPoly = 1
	TagLUT  = 2
)

// Gain bounds for set_txgain / set_rxgain; digital gain is unitless and
// unbounded (linear scale).
const (
	GainMin = 0.0
	GainMax = 89.0
)

var (
	// ErrGainOutOfRange is returned by SetTxGain/SetRxGain for values
	// outside [GainMin, GainMax].
	ErrGainOutOfRange = errors.New("adapt: gain out of range")
	// ErrUnknownTag is returned when a predistorter file's tag is
	// neither TagPoly nor TagLUT.
	ErrUnknownTag = errors.New("adapt: unknown predistorter file tag")
	// ErrWrongEntryCount is returned when a predistorter file's value
	// count does not match its declared shape.
	ErrWrongEntryCount = errors.New("adapt: wrong entry count for predistorter file")
)

// RC is the subset of the remote-control client Adapter needs.
type RC interface {
	Get(module, param string) (string, error)
	Set(module, param string, values ...string) (string, error)
}

// Adapter drives the modulator's gains and predistorter file via an RC
// client, given a filesystem path for the coefficient file.
type Adapter struct {
	RC       RC
	CoefPath string
}

// New builds an Adapter.
func New(rcClient RC, coefPath string) *Adapter {
	return &Adapter{RC: rcClient, CoefPath: coefPath}
}

// SetTxGain validates and pushes the SDR TX gain in dB.
func (a *Adapter) SetTxGain(g float64) error {
	return a.setGain("sdr", "txgain", g)
}

// GetTxGain reads the SDR TX gain; returns -1 on a protocol error,
// matching the modulator RC's only non-fatal error channel.
func (a *Adapter) GetTxGain() float64 {
	return a.getGain("sdr", "txgain")
}

// SetRxGain validates and pushes the SDR RX gain in dB.
func (a *Adapter) SetRxGain(g float64) error {
	return a.setGain("sdr", "rxgain", g)
}

// GetRxGain reads the SDR RX gain; returns -1 on a protocol error.
func (a *Adapter) GetRxGain() float64 {
	return a.getGain("sdr", "rxgain")
}

// SetDigitalGain pushes the digital gain (linear scale, unbounded).
func (a *Adapter) SetDigitalGain(g float64) error {
	_, err := a.RC.Set("gain", "digital", strconv.FormatFloat(g, 'g', -1, 64))
	if err != nil {
		return fmt.Errorf("adapt: set digital gain: %w", err)
	}
	return nil
}

// GetDigitalGain reads the digital gain; returns -1 on protocol error.
func (a *Adapter) GetDigitalGain() float64 {
	return a.getGain("gain", "digital")
}

func (a *Adapter) setGain(module, param string, g float64) error {
	if g < GainMin || g > GainMax {
		return fmt.Errorf("%w: %g not in [%g, %g]", ErrGainOutOfRange, g, GainMin, GainMax)
	}
	_, err := a.RC.Set(module, param, strconv.FormatFloat(g, 'g', -1, 64))
	if err != nil {
		return fmt.Errorf("adapt: set %s %s: %w", module, param, err)
	}
	return nil
}

func (a *Adapter) getGain(module, param string) float64 {
	reply, err := a.RC.Get(module, param)
	if err != nil {
		return -1
	}
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return -1
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return -1
	}
	return v
}

// SetPredistorter writes data (either a model.Poly or a model.Lut) to
// CoefPath and instructs the modulator to load it.
func (a *Adapter) SetPredistorter(data model.DpdData) error {
	if err := WritePredistorterFile(a.CoefPath, data); err != nil {
		return fmt.Errorf("adapt: write predistorter file: %w", err)
	}
	if _, err := a.RC.Set("memlesspoly", "coeffile", a.CoefPath); err != nil {
		return fmt.Errorf("adapt: push coeffile: %w", err)
	}
	return nil
}

// GetPredistorter reads and parses the predistorter file at CoefPath,
// returning whichever DpdData variant its tag declares.
func (a *Adapter) GetPredistorter() (model.DpdData, error) {
	return ReadPredistorterFile(a.CoefPath)
}

// WritePredistorterFile writes data in its tagged file format, dispatching
// on the concrete DpdData variant.
func WritePredistorterFile(path string, data model.DpdData) error {
	switch d := data.(type) {
	case model.Poly:
		return WritePolyFile(path, d)
	case model.Lut:
		return WriteLutFile(path, d)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownTag, data)
	}
}

// ReadPredistorterFile parses a predistorter file's tag line and
// dispatches to the matching variant parser, erroring on any tag other
// than the two the format defines.
func ReadPredistorterFile(path string) (model.DpdData, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) < 1 {
		return nil, fmt.Errorf("%w: truncated file", ErrWrongEntryCount)
	}

	tag, err := strconv.Atoi(lines[0])
	if err != nil {
		return nil, fmt.Errorf("adapt: bad tag line: %w", err)
	}

	switch tag {
	case TagPoly:
		return parsePolyLines(lines)
	case TagLUT:
		return parseLutLines(lines)
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownTag, tag)
	}
}

// WritePolyFile writes the poly-tagged predistorter file format: tag,
// K, then 2K value lines (AM, then PM).
func WritePolyFile(path string, data model.Poly) error {
	if len(data.CoefsAM) != len(data.CoefsPM) {
		return ErrWrongEntryCount
	}
	k := len(data.CoefsAM)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, TagPoly)
	fmt.Fprintln(w, k)
	for _, v := range data.CoefsAM {
		fmt.Fprintln(w, strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	for _, v := range data.CoefsPM {
		fmt.Fprintln(w, strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return w.Flush()
}

// WriteLutFile writes the lut-tagged predistorter file format: tag,
// scale factor, then 32 entries as (real, imag) line pairs.
func WriteLutFile(path string, data model.Lut) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, TagLUT)
	fmt.Fprintln(w, data.Scale)
	for _, c := range data.Table {
		fmt.Fprintln(w, strconv.FormatFloat(float64(real(c)), 'g', -1, 32))
		fmt.Fprintln(w, strconv.FormatFloat(float64(imag(c)), 'g', -1, 32))
	}
	return w.Flush()
}

// ReadPolyFile parses a predistorter file, rejecting LUT-tagged files
// and files whose entry count doesn't match their declared K.
func ReadPolyFile(path string) (model.Poly, error) {
	lines, err := readLines(path)
	if err != nil {
		return model.Poly{}, err
	}
	return parsePolyLines(lines)
}

// ReadLutFile parses a predistorter file, rejecting non-LUT-tagged
// files and files whose entry count doesn't match the fixed table
// size.
func ReadLutFile(path string) (model.Lut, error) {
	lines, err := readLines(path)
	if err != nil {
		return model.Lut{}, err
	}
	return parseLutLines(lines)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := []string{}
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func parsePolyLines(lines []string) (model.Poly, error) {
	if len(lines) < 2 {
		return model.Poly{}, fmt.Errorf("%w: truncated file", ErrWrongEntryCount)
	}

	tag, err := strconv.Atoi(lines[0])
	if err != nil {
		return model.Poly{}, fmt.Errorf("adapt: bad tag line: %w", err)
	}
	if tag != TagPoly {
		return model.Poly{}, fmt.Errorf("%w: tag %d", ErrUnknownTag, tag)
	}

	k, err := strconv.Atoi(lines[1])
	if err != nil {
		return model.Poly{}, fmt.Errorf("adapt: bad K line: %w", err)
	}
	want := 2 + 2*k
	if len(lines) != want {
		return model.Poly{}, fmt.Errorf("%w: want %d lines, got %d", ErrWrongEntryCount, want, len(lines))
	}

	am := make([]float32, k)
	pm := make([]float32, k)
	for i := 0; i < k; i++ {
		v, err := strconv.ParseFloat(lines[2+i], 32)
		if err != nil {
			return model.Poly{}, fmt.Errorf("adapt: bad am[%d]: %w", i, err)
		}
		am[i] = float32(v)
	}
	for i := 0; i < k; i++ {
		v, err := strconv.ParseFloat(lines[2+k+i], 32)
		if err != nil {
			return model.Poly{}, fmt.Errorf("adapt: bad pm[%d]: %w", i, err)
		}
		pm[i] = float32(v)
	}
	return model.Poly{CoefsAM: am, CoefsPM: pm}, nil
}

func parseLutLines(lines []string) (model.Lut, error) {
	if len(lines) < 2 {
		return model.Lut{}, fmt.Errorf("%w: truncated file", ErrWrongEntryCount)
	}

	tag, err := strconv.Atoi(lines[0])
	if err != nil {
		return model.Lut{}, fmt.Errorf("adapt: bad tag line: %w", err)
	}
	if tag != TagLUT {
		return model.Lut{}, fmt.Errorf("%w: tag %d", ErrUnknownTag, tag)
	}

	scale, err := strconv.Atoi(lines[1])
	if err != nil {
		return model.Lut{}, fmt.Errorf("adapt: bad scale line: %w", err)
	}

	want := 2 + 2*model.LutEntries
	if len(lines) != want {
		return model.Lut{}, fmt.Errorf("%w: want %d lines, got %d", ErrWrongEntryCount, want, len(lines))
	}

	var lut model.Lut
	lut.Scale = scale
	for i := 0; i < model.LutEntries; i++ {
		re, err := strconv.ParseFloat(lines[2+2*i], 32)
		if err != nil {
			return model.Lut{}, fmt.Errorf("adapt: bad lut[%d] real: %w", i, err)
		}
		im, err := strconv.ParseFloat(lines[2+2*i+1], 32)
		if err != nil {
			return model.Lut{}, fmt.Errorf("adapt: bad lut[%d] imag: %w", i, err)
		}
		lut.Table[i] = complex(float32(re), float32(im))
	}
	return lut, nil
}

// Dump reads the current tx/rx/digital gain and predistorter and
// writes them as a snapshot at path.
func (a *Adapter) Dump(path string) error {
	dpd, err := a.GetPredistorter()
	if err != nil {
		return fmt.Errorf("adapt: dump: read predistorter: %w", err)
	}

	s := snapshot.Snapshot{
		TxGain:      a.GetTxGain(),
		RxGain:      a.GetRxGain(),
		DigitalGain: a.GetDigitalGain(),
		Dpd:         dpd,
	}
	if err := snapshot.Write(path, s); err != nil {
		return fmt.Errorf("adapt: dump: %w", err)
	}
	return nil
}

// Restore reads the snapshot at path and applies it. To avoid a
// transient overshoot on the amplifier, TX gain is first forced to 0,
// then digital gain, RX gain and the predistorter are restored, and
// finally TX gain is set to its dumped value last.
func (a *Adapter) Restore(path string) error {
	s, err := snapshot.Read(path)
	if err != nil {
		return fmt.Errorf("adapt: restore: %w", err)
	}
	return a.applySnapshot(s)
}

func (a *Adapter) applySnapshot(s snapshot.Snapshot) error {
	if err := a.SetTxGain(0); err != nil {
		return fmt.Errorf("adapt: restore: zero tx gain: %w", err)
	}
	if err := a.SetDigitalGain(s.DigitalGain); err != nil {
		return fmt.Errorf("adapt: restore: digital gain: %w", err)
	}
	if err := a.SetRxGain(s.RxGain); err != nil {
		return fmt.Errorf("adapt: restore: rx gain: %w", err)
	}
	if err := a.SetPredistorter(s.Dpd); err != nil {
		return fmt.Errorf("adapt: restore: predistorter: %w", err)
	}
	if err := a.SetTxGain(s.TxGain); err != nil {
		return fmt.Errorf("adapt: restore: tx gain: %w", err)
	}
	return nil
}

// RestoreDefaults applies the identity predistorter, the synthetic
// "defaults" dump, leaving the current tx/rx/digital gain untouched.
func (a *Adapter) RestoreDefaults() error {
	return a.applySnapshot(snapshot.Snapshot{
		TxGain:      a.GetTxGain(),
		RxGain:      a.GetRxGain(),
		DigitalGain: a.GetDigitalGain(),
		Dpd:         model.Poly{CoefsAM: identityAM(), CoefsPM: make([]float32, model.K)},
	})
}

func identityAM() []float32 {
	am := make([]float32, model.K)
	am[0] = 1
	return am
}

// Compile-time check for production wiring: a *rc.Client satisfies the
// RC interface directly.
var _ RC = (*rc.Client)(nil)
