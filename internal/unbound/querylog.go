package unbound

import (
	"errors"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Matches resolver query log lines like:
// [1708012345] unbound[1:0] info: 192.168.1.1 example.com. A IN
var queryLine = regexp.MustCompile(`\[(\d+)\]\s+unbound\[\d+:\d+\]\s+info:\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)`)

// The QueryLogEntry type is one parsed query from the resolver's log.
type QueryLogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Client    string `json:"client"`
	Domain    string `json:"domain"`
	Type      string `json:"type"`
	Class     string `json:"class"`
}

// ParseQueryLog extracts query entries from resolver log text. Lines that are
// not query records (startup banners, errors, replies) are skipped.
func ParseQueryLog(text string) []QueryLogEntry {
	var entries []QueryLogEntry
	for _, line := range strings.Split(text, "\n") {
		m := queryLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		ts, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}

		entries = append(entries, QueryLogEntry{
			Timestamp: ts,
			Client:    m[2],
			Domain:    strings.TrimSuffix(m[3], "."),
			Type:      m[4],
			Class:     m[5],
		})
	}

	return entries
}

// TailQueryLog reads up to max bytes from the end of the query log. When the
// read starts mid-file the partial first line is dropped. A missing log yields
// empty text, the resolver simply has not logged any queries yet.
func TailQueryLog(path string, max int64) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	offset := info.Size() - max
	if offset < 0 {
		offset = 0
	}

	if _, err = f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}

	text := string(data)
	if offset > 0 {
		if _, rest, found := strings.Cut(text, "\n"); found {
			text = rest
		}
	}

	return text, nil
}
