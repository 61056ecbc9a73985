package kbstore

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

var (
	headRe   = regexp.MustCompile("^- `([^`]*)` \\| `([^`]*)` \\| `([^`]*)` \\| (.*)$")
	linkRe   = regexp.MustCompile(`^\[([^\]]*)\]\(([^)]*)\)$`)
	mediaRe  = regexp.MustCompile(`^!\[[^\]]*\]\(([^)]*)\)$`)
	attachRe = regexp.MustCompile(`^\[Attachment\]\(([^)]*)\)$`)
	groupRe  = regexp.MustCompile(`^group:\s*(.*?)(?:\s*\(([^)]*)\))?$`)
)

// ParseFile parses the full kb.md content into entries, in file order.
// Lines that do not fit the block format are skipped; parsing never fails.
func ParseFile(content string) []*Entry {
	var entries []*Entry
	var cur *Entry
	inNotes := false

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()

		if m := headRe.FindStringSubmatch(line); m != nil {
			cur = &Entry{Type: m[1], Source: m[2], Timestamp: m[3]}
			if lm := linkRe.FindStringSubmatch(m[4]); lm != nil {
				cur.Title, cur.URL = lm[1], lm[2]
			} else {
				cur.Title = m[4]
			}
			entries = append(entries, cur)
			inNotes = false
			continue
		}
		if cur == nil {
			continue
		}

		// Notes continuation: 4-space indent, not a new sub-item.
		if inNotes && strings.HasPrefix(line, "    ") && !strings.HasPrefix(line, "  - ") {
			cur.Notes += "\n" + line[4:]
			continue
		}
		inNotes = false

		rest, ok := strings.CutPrefix(line, "  - ")
		if !ok {
			continue
		}
		parseSubItem(cur, rest, &inNotes)
	}
	return entries
}

func parseSubItem(e *Entry, rest string, inNotes *bool) {
	switch {
	case strings.HasPrefix(rest, "`group:") || strings.HasPrefix(rest, "`group "):
		inner := strings.Trim(rest, "`")
		if m := groupRe.FindStringSubmatch(inner); m != nil {
			e.Group = strings.TrimSpace(m[1])
			e.GroupColor = strings.TrimSpace(m[2])
		}
	case strings.HasPrefix(rest, "> "):
		e.SelectedText = rest[2:]
	case strings.HasPrefix(rest, "!["):
		if m := mediaRe.FindStringSubmatch(rest); m != nil {
			e.Screenshot = m[1]
		}
	case strings.HasPrefix(rest, "[Attachment]"):
		if m := attachRe.FindStringSubmatch(rest); m != nil {
			e.File = m[1]
		}
	case strings.HasPrefix(rest, "Notes: "):
		e.Notes = rest[len("Notes: "):]
		*inNotes = true
	case strings.HasPrefix(rest, "Description: "):
		e.Description = rest[len("Description: "):]
	case strings.HasPrefix(rest, "Image: "):
		e.Image = rest[len("Image: "):]
	case strings.HasPrefix(rest, "Author: "):
		e.Author = rest[len("Author: "):]
	case strings.HasPrefix(rest, "Published: "):
		e.Published = rest[len("Published: "):]
	case strings.HasPrefix(rest, "ReadTime: "):
		v := strings.TrimSuffix(rest[len("ReadTime: "):], " min")
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			e.ReadTime = n
		}
	case strings.HasPrefix(rest, "AI Summary: "):
		e.Summary = rest[len("AI Summary: "):]
	case strings.HasPrefix(rest, "Entity: "):
		e.Entity = rest[len("Entity: "):]
	case strings.HasPrefix(rest, "Status: "):
		e.TaskStatus = rest[len("Status: "):]
	case strings.HasPrefix(rest, "Topics: "):
		e.Topics = splitList(rest[len("Topics: "):])
	case strings.HasPrefix(rest, "People: "):
		e.People = splitList(rest[len("People: "):])
	case strings.HasPrefix(rest, "Category: "):
		e.Category = rest[len("Category: "):]
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Render serializes entries back into file content, blocks separated by a
// blank line, trailing newline included.
func Render(entries []*Entry) string {
	if len(entries) == 0 {
		return ""
	}
	blocks := make([]string, len(entries))
	for i, e := range entries {
		blocks[i] = e.Block()
	}
	return strings.Join(blocks, "\n\n") + "\n"
}
