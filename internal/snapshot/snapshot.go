// Package snapshot implements the DPD engine's persistent parameter
// snapshots: a small binary record of TX/RX/digital gain plus the
// current predistorter coefficients, dumped to and restored from disk
// so an operator can roll back a bad adaptation.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kb3bmv/dpdce/internal/model"
)

// FormatVersion is the mandatory leading byte of every serialised
// snapshot, bumped whenever the wire layout changes.
const FormatVersion = 2

// DefaultsID is the synthetic dump id always present, representing the
// identity predistorter with the gains left as they currently stand.
const DefaultsID = "defaults"

const filePrefix = "adapt_"
const fileSuffix = ".bin"

// Snapshot is the full restorable parameter set: the four gain/coef
// primitives the original engine could roll back.
type Snapshot struct {
	TxGain      float64
	RxGain      float64
	DigitalGain float64
	Dpd         model.DpdData
}

// Write serialises s to path in the engine's binary snapshot format:
// version byte, three float64 gains, then a dpd-tag byte and its
// variant-specific payload (poly: K then 2K float32 coefficients;
// lut: scale then 32 complex64 entries).
func Write(path string, s Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := w.WriteByte(FormatVersion); err != nil {
		return err
	}
	if err := writeFloat64(w, s.TxGain); err != nil {
		return err
	}
	if err := writeFloat64(w, s.RxGain); err != nil {
		return err
	}
	if err := writeFloat64(w, s.DigitalGain); err != nil {
		return err
	}

	switch d := s.Dpd.(type) {
	case model.Poly:
		if err := w.WriteByte(byte(d.Tag())); err != nil {
			return err
		}
		k := len(d.CoefsAM)
		if err := binary.Write(w, binary.LittleEndian, uint32(k)); err != nil {
			return err
		}
		for _, v := range d.CoefsAM {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		for _, v := range d.CoefsPM {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	case model.Lut:
		if err := w.WriteByte(byte(d.Tag())); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(d.Scale)); err != nil {
			return err
		}
		for _, c := range d.Table {
			if err := binary.Write(w, binary.LittleEndian, c); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("snapshot: unsupported dpd type %T", s.Dpd)
	}
	return w.Flush()
}

// Read parses a snapshot previously produced by Write.
func Read(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	version, err := r.ReadByte()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: read version: %w", err)
	}
	if version != FormatVersion {
		return Snapshot{}, fmt.Errorf("snapshot: unsupported version %d", version)
	}

	var s Snapshot
	if s.TxGain, err = readFloat64(r); err != nil {
		return Snapshot{}, err
	}
	if s.RxGain, err = readFloat64(r); err != nil {
		return Snapshot{}, err
	}
	if s.DigitalGain, err = readFloat64(r); err != nil {
		return Snapshot{}, err
	}

	tag, err := r.ReadByte()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: read dpd tag: %w", err)
	}

	switch tag {
	case 1:
		var k uint32
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: read K: %w", err)
		}
		poly := model.Poly{CoefsAM: make([]float32, k), CoefsPM: make([]float32, k)}
		for i := range poly.CoefsAM {
			if err := binary.Read(r, binary.LittleEndian, &poly.CoefsAM[i]); err != nil {
				return Snapshot{}, fmt.Errorf("snapshot: read am[%d]: %w", i, err)
			}
		}
		for i := range poly.CoefsPM {
			if err := binary.Read(r, binary.LittleEndian, &poly.CoefsPM[i]); err != nil {
				return Snapshot{}, fmt.Errorf("snapshot: read pm[%d]: %w", i, err)
			}
		}
		s.Dpd = poly
	case 2:
		var scale int32
		if err := binary.Read(r, binary.LittleEndian, &scale); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: read scale: %w", err)
		}
		lut := model.Lut{Scale: int(scale)}
		for i := range lut.Table {
			if err := binary.Read(r, binary.LittleEndian, &lut.Table[i]); err != nil {
				return Snapshot{}, fmt.Errorf("snapshot: read lut[%d]: %w", i, err)
			}
		}
		s.Dpd = lut
	default:
		return Snapshot{}, fmt.Errorf("snapshot: unknown dpd tag %d", tag)
	}
	return s, nil
}

func writeFloat64(w *bufio.Writer, v float64) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readFloat64(r *bufio.Reader) (float64, error) {
	var v float64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

// PathFor builds the canonical snapshot filename for a unix timestamp,
// under dir: adapt_<unix_timestamp>.bin.
func PathFor(dir string, unixTimestamp int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", filePrefix, unixTimestamp, fileSuffix))
}

// Enumerate lists the dump ids found in dir (the unix timestamp portion
// of each adapt_<ts>.bin file), sorted ascending, plus the synthetic
// "defaults" id at the front.
func Enumerate(dir string) ([]string, error) {
	ids := []string{DefaultsID}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return ids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read dir %s: %w", dir, err)
	}

	found := []string{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
			continue
		}
		found = append(found, ts)
	}
	sort.Strings(found)
	return append(ids, found...), nil
}
