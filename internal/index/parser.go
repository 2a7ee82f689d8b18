package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/Norio691/claude-relay/internal/model"
)

const (
	headerReadBytes = 128 * 1024
	headerMaxLines  = 20
	tailReadBytes   = 4 * 1024
	previewMaxRunes = 200
)

// record is one line of a session log file. Only the fields the index
// cares about are modeled; everything else is ignored.
type record struct {
	Cwd       string          `json:"cwd"`
	Version   string          `json:"version"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Message   *messageContent `json:"message"`
}

type messageContent struct {
	Content json.RawMessage `json:"content"`
}

// contentBlock is one element of a heterogeneous message.content array.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parsedFile is everything parseFile recovers from one log file.
type parsedFile struct {
	ProjectPath        string
	CLIVersion         string
	LastMessageRole    model.Role
	LastMessagePreview string
}

// parseFile runs the header and tail passes over path and merges them,
// per the parsing contract below.
func parseFile(path string) (*parsedFile, error) {
	pf := &parsedFile{LastMessageRole: model.RoleUnknown}

	if err := parseHeader(path, pf); err != nil {
		return nil, err
	}
	if err := parseTail(path, pf); err != nil {
		return nil, err
	}
	return pf, nil
}

// parseHeader reads up to headerReadBytes from the start of the file,
// considers the first headerMaxLines non-blank lines, and fills
// ProjectPath/CLIVersion from the first record that supplies each.
func parseHeader(path string, pf *parsedFile) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, headerReadBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	buf = buf[:n]

	lines := strings.Split(string(buf), "\n")
	considered := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		considered++
		if considered > headerMaxLines {
			break
		}

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if pf.ProjectPath == "" && rec.Cwd != "" {
			pf.ProjectPath = rec.Cwd
		}
		if pf.CLIVersion == "" && rec.Version != "" {
			pf.CLIVersion = rec.Version
		}
		if pf.ProjectPath != "" && pf.CLIVersion != "" {
			break
		}
	}
	return nil
}

// parseTail reads up to tailReadBytes from the end of the file. If the
// read starts mid-file the first (partial) line is discarded. Lines are
// walked from last to first; the first user/assistant record supplies
// LastMessageRole and LastMessagePreview, and refreshes CLIVersion.
func parseTail(path string, pf *parsedFile) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	start := int64(0)
	midFile := false
	if size > tailReadBytes {
		start = size - tailReadBytes
		midFile = true
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}

	data, err := io.ReadAll(bufio.NewReader(f))
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	if midFile && len(lines) > 0 {
		lines = lines[1:] // discard partial first record
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Version != "" {
			pf.CLIVersion = rec.Version
		}
		if rec.Type != string(model.RoleUser) && rec.Type != string(model.RoleAssistant) {
			continue
		}

		pf.LastMessageRole = model.Role(rec.Type)
		pf.LastMessagePreview = extractPreview(rec.Message)
		return nil
	}
	return nil
}

// extractPreview recovers the preview text from a message's content union:
// either a plain string, or a list of typed blocks, the first "text" block
// of which supplies the preview. The result is truncated to 200 code
// points with a "..." suffix when truncated.
func extractPreview(msg *messageContent) string {
	if msg == nil || len(msg.Content) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(msg.Content, &asString); err == nil {
		return truncatePreview(asString)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				return truncatePreview(b.Text)
			}
		}
	}
	return ""
}

// truncatePreview truncates s to at most previewMaxRunes code points,
// appending "..." when truncation occurred.
func truncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= previewMaxRunes {
		return s
	}

	var b bytes.Buffer
	count := 0
	for _, r := range s {
		if count >= previewMaxRunes {
			break
		}
		b.WriteRune(r)
		count++
	}
	b.WriteString("...")
	return b.String()
}

// synthesizeProjectPath derives a project path from the project hash when
// the log never supplied one.
func synthesizeProjectPath(projectHash string) string {
	if projectHash == "" {
		return ""
	}
	h := strings.TrimPrefix(projectHash, "-")
	return "/" + strings.ReplaceAll(h, "-", "/")
}
