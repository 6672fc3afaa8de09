// Package trainlog reads the per-restraint log the MD engine writes during training.
//
// Only the last data line matters: it carries the sample count reached, the target and
// the alpha of the final training window. Column positions are configuration because
// plugin revisions disagree on them.
package trainlog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Columns holds zero-based field positions within a log line.
type Columns struct {
	SampleCount int `koanf:"sample_column" validate:"gte=0"`
	Target      int `koanf:"target_column" validate:"gte=0"`
	Alpha       int `koanf:"alpha_column" validate:"gte=0"`
}

// DefaultColumns matches the training plugin's tab-separated output.
func DefaultColumns() Columns {
	return Columns{SampleCount: 2, Target: 3, Alpha: 5}
}

// Record is the parsed last line of a training log.
type Record struct {
	SampleCount float64
	Target      float64
	Alpha       float64
}

// ReadLast parses the last data line of the log at path. A missing file is reported with
// an error satisfying errors.Is(err, fs.ErrNotExist) so callers can skip the restraint.
func ReadLast(path string, cols Columns) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "@") {
			continue
		}
		last = line
	}
	if err := sc.Err(); err != nil {
		return Record{}, fmt.Errorf("scan %s: %w", path, err)
	}
	if last == "" {
		return Record{}, fmt.Errorf("%s: no data lines", path)
	}
	return ParseLine(last, cols)
}

// ParseLine splits a log line on whitespace or commas and extracts the configured columns.
func ParseLine(line string, cols Columns) (Record, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	get := func(name string, idx int) (float64, error) {
		if idx >= len(fields) {
			return 0, fmt.Errorf("%s column %d out of range (%d fields)", name, idx, len(fields))
		}
		v, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil {
			return 0, fmt.Errorf("%s column %d: %w", name, idx, err)
		}
		return v, nil
	}

	var rec Record
	var err error
	if rec.SampleCount, err = get("sample count", cols.SampleCount); err != nil {
		return Record{}, err
	}
	if rec.Target, err = get("target", cols.Target); err != nil {
		return Record{}, err
	}
	if rec.Alpha, err = get("alpha", cols.Alpha); err != nil {
		return Record{}, err
	}
	return rec, nil
}
