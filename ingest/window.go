package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"volatility-prover/market"
)

// ErrNoNewBlocks is returned when no file ends after the last processed block.
var ErrNoNewBlocks = errors.New("no new blocks")

var blockFileRe = regexp.MustCompile(`(\d+)-(\d+)\.jsonl$`)

// BlockFile is a substream export covering [Start, End].
type BlockFile struct {
	Path  string
	Start uint64
	End   uint64
}

// ParseFilename extracts the block range from "<start>-<end>.jsonl".
func ParseFilename(name string) (start, end uint64, err error) {
	m := blockFileRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, 0, fmt.Errorf("%q does not match <start>-<end>.jsonl", name)
	}
	if start, err = strconv.ParseUint(m[1], 10, 64); err != nil {
		return 0, 0, err
	}
	if end, err = strconv.ParseUint(m[2], 10, 64); err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, fmt.Errorf("%q: start block after end block", name)
	}
	return start, end, nil
}

// ListBlockFiles returns the matching files of dir, newest end block first.
// Other files are ignored.
func ListBlockFiles(dir string) ([]BlockFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []BlockFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		start, end, err := ParseFilename(e.Name())
		if err != nil {
			continue
		}
		files = append(files, BlockFile{Path: filepath.Join(dir, e.Name()), Start: start, End: end})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].End != files[j].End {
			return files[i].End > files[j].End
		}
		return files[i].Start > files[j].Start
	})
	return files, nil
}

// Window is the most recent run of samples across block files.
type Window struct {
	Samples  []market.TickSample
	EndBlock uint64
	Files    []string
}

// LatestWindow reads files newest first until sampleCount samples are
// collected and keeps the most recent sampleCount of them in timestamp
// order. The newest file must end after lastBlock. Fewer samples than
// requested are returned as-is and left for the builder to reject.
func LatestWindow(dir string, lastBlock uint64, sampleCount int) (Window, error) {
	files, err := ListBlockFiles(dir)
	if err != nil {
		return Window{}, err
	}
	if len(files) == 0 || files[0].End <= lastBlock {
		return Window{}, ErrNoNewBlocks
	}

	var chunks [][]market.TickSample
	var used []string
	total := 0
	for _, f := range files {
		samples, err := LoadFile(f.Path)
		if err != nil {
			return Window{}, err
		}
		chunks = append(chunks, samples)
		used = append(used, f.Path)
		total += len(samples)
		if total >= sampleCount {
			break
		}
	}

	// oldest file first, then a stable sort keeps in-file order for equal timestamps
	all := make([]market.TickSample, 0, total)
	for i := len(chunks) - 1; i >= 0; i-- {
		all = append(all, chunks[i]...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	if len(all) > sampleCount {
		all = all[len(all)-sampleCount:]
	}
	return Window{Samples: all, EndBlock: files[0].End, Files: used}, nil
}
