package minnow

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/minnow-im/minnow/dcp"
)

// motdLineOverhead is the per-line framing cost inside a motd frame: the
// key, its separators and a little slack.
const motdLineOverhead = 6

// maxMOTDLine caps a single MOTD line. Longer lines are truncated, not
// rejected.
const maxMOTDLine = 200

// LoadMOTD reads a MOTD text file and packs its lines into blocks, each of
// which fits one motd frame alongside the frame header for serverName.
// Trailing whitespace is trimmed; an empty line becomes a single space so
// it survives the wire. A missing file is not an error: the server simply
// has no MOTD.
func LoadMOTD(path, serverName string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// A pessimistic guess at the fixed frame cost: maximum target length,
	// the server name, command and separators.
	baselen := len(serverName) + 128

	var blocks [][]string
	var cur []string
	curlen := baselen

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" {
			line = " "
		}
		if len(line) > maxMOTDLine {
			line = line[:maxMOTDLine]
		}

		llen := len(line) + motdLineOverhead
		if curlen+llen > dcp.MaxFrame {
			blocks = append(blocks, cur)
			cur = nil
			curlen = baselen
		}
		curlen += llen
		cur = append(cur, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks, nil
}

// sendMOTD delivers the MOTD to one user, one frame per block. With no
// MOTD configured a single empty motd frame goes out so the client knows
// the command completed.
func (s *Server) sendMOTD(u *User) {
	if len(s.motd) == 0 {
		u.Send(s, u, "motd", dcp.Kval{})
		return
	}

	total := strconv.Itoa(len(s.motd))
	for i, block := range s.motd {
		u.Send(s, u, "motd", dcp.Kval{
			"text":      block,
			"multipart": {"*"},
			"part":      {strconv.Itoa(i + 1)},
			"total":     {total},
		})
	}
}
