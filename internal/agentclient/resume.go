package agentclient

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/csells/vide-cli-sub001/internal/decoder"
	"github.com/csells/vide-cli-sub001/internal/response"
	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// errCorruptSessionFile is ConversationLoadError (spec §7): the session
// file could not be reconstructed even after dropping its final line.
// The caller starts fresh and surfaces a warning.
var errCorruptSessionFile = errors.New("session file could not be reconstructed")

// loadSessionFile reconstructs a Conversation by replaying every frame
// in the CLI's own session file through the Decoder and Response
// Processor (spec §4.F: "loads prior conversation from the CLI's own
// session file if it exists").
//
// If opening the file reports that it does not exist, this is not an
// error: the agent simply has no prior history. Any other read error is
// returned as is. If the lines do not all parse, one repair pass (drop
// the last line, which is the only one a crash mid-write could have
// truncated) is attempted before giving up with a ConversationLoadError,
// at which point the caller starts fresh.
func loadSessionFile(path string) (vide.Conversation, bool, error) {
	if path == "" {
		return vide.Conversation{}, false, nil
	}
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vide.Conversation{}, false, nil
		}
		return vide.Conversation{}, false, err
	}
	if len(lines) == 0 {
		return vide.Conversation{}, false, nil
	}

	if linesParseCleanly(lines) {
		return replay(lines), true, nil
	}

	repaired := repairSessionLines(lines)
	if len(repaired) == 0 || !linesParseCleanly(repaired) {
		return vide.Conversation{}, false, errCorruptSessionFile
	}
	return replay(repaired), true, nil
}

// linesParseCleanly reports whether every line decodes without a
// decoder-reported PARSE error.
func linesParseCleanly(lines []string) bool {
	for _, line := range lines {
		for _, r := range decoder.DecodeLine(line) {
			if r.Type == vide.ResponseError && r.Error != nil && r.Error.Code == "PARSE" {
				return false
			}
		}
	}
	return true
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func replay(lines []string) vide.Conversation {
	conv := vide.Conversation{State: vide.StateIdle}
	for _, line := range lines {
		for _, r := range decoder.DecodeLine(line) {
			if r.Type == vide.ResponseUnknown {
				continue
			}
			conv = response.Process(r, conv).Conversation
		}
	}
	conv.State = vide.StateIdle
	return conv
}

// repairSessionLines drops a truncated tail line, mirroring the
// teacher's transcript_repair.go approach of discarding a dangling
// reference rather than failing the whole load: a session file can only
// be corrupted by a crash mid-write, which always truncates the final
// line.
func repairSessionLines(lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	return lines[:len(lines)-1]
}
