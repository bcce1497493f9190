package market

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadJSON decodes a JSON array of samples.
func ReadJSON(r io.Reader) ([]TickSample, error) {
	var samples []TickSample
	dec := json.NewDecoder(r)
	if err := dec.Decode(&samples); err != nil {
		return nil, fmt.Errorf("%w: decode samples: %v", ErrInvalidInput, err)
	}
	return samples, nil
}

// LoadJSON reads a JSON sample file from path.
func LoadJSON(path string) ([]TickSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, err := ReadJSON(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// WriteJSON encodes samples as an indented JSON array.
func WriteJSON(w io.Writer, samples []TickSample) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(samples)
}

// ReadCSV reads a single column of integer ticks after a header line.
// The row index stands in for the timestamp.
func ReadCSV(r io.Reader) ([]TickSample, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: csv has no header", ErrInvalidInput)
	}
	var samples []TickSample
	for line := 2; sc.Scan(); line++ {
		field := strings.TrimSpace(sc.Text())
		if field == "" {
			continue
		}
		tick, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %q is not an integer tick", ErrInvalidInput, line, field)
		}
		samples = append(samples, TickSample{Timestamp: int64(len(samples)), Tick: &tick})
	}
	return samples, sc.Err()
}
