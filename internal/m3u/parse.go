// Package m3u reads and writes extended M3U playlists, the interchange format
// for importing channels into the lineup and exporting the committed lineup.
package m3u

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	reTvgName = regexp.MustCompile(`tvg-name="([^"]*)"`)
	reTvgID   = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgChno = regexp.MustCompile(`tvg-chno="([^"]*)"`)
	reTvgLogo = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reGroup   = regexp.MustCompile(`group-title="([^"]*)"`)
)

// Entry is one playlist item: an EXTINF line plus the URL that follows it.
type Entry struct {
	Name   string
	TvgID  string
	Number *int // tvg-chno; nil when absent or not a positive integer
	Group  string
	Logo   *string
	URL    string
}

var errNoName = errors.New("no name in EXTINF")

// Parse reads an M3U playlist from r. EXTINF lines without a usable name or
// without a following URL are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	// Some playlists carry very long EXTINF lines.
	const maxSize = 1024 * 1024
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxSize)

	var extinf string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "#EXTINF"):
			// A previous EXTINF without URL is dropped.
			extinf = line
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		default:
			if extinf == "" {
				continue
			}
			e, err := parseEXTINF(extinf)
			extinf = ""
			if err != nil {
				continue
			}
			e.URL = line
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseEXTINF(line string) (Entry, error) {
	e := Entry{
		TvgID: matchFirst(reTvgID, line),
		Group: matchFirst(reGroup, line),
	}
	e.Name = matchFirst(reTvgName, line)
	if e.Name == "" {
		e.Name = displayName(line)
	}
	if e.Name == "" {
		e.Name = e.TvgID
	}
	if e.Name == "" {
		return Entry{}, errNoName
	}
	if logo := matchFirst(reTvgLogo, line); logo != "" {
		e.Logo = &logo
	}
	if s := matchFirst(reTvgChno, line); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			e.Number = &n
		}
	}
	return e, nil
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// displayName returns the text after the first comma outside quoted attribute
// values.
func displayName(line string) string {
	quoted := false
	for i, r := range line {
		switch r {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				return strings.TrimSpace(line[i+1:])
			}
		}
	}
	return ""
}
