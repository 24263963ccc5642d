package report

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidUTF8 marks a file that cannot be treated as Markdown text.
var ErrInvalidUTF8 = errors.New("report: content is not valid UTF-8")

var (
	ordinalHashRE = regexp.MustCompile(`#\s*(\d+)`)
	totalRE       = regexp.MustCompile(`(?i)(?:\bof\b|/)\s*(\d+)`)
	fractionRE    = regexp.MustCompile(`(\d+)\s*(?:/|\bof\b)\s*(\d+)`)
	firstIntRE    = regexp.MustCompile(`(\d+)`)
	headingRE     = regexp.MustCompile(`^#{1,6}\s+(.*?)\s*#*\s*$`)
	bulletRE      = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.*)$`)
)

type field int

const (
	fieldNone field = iota
	fieldAgent
	fieldPosition
	fieldPrevious
	fieldNext
	fieldStatus
	fieldDomain
	fieldMemoryKeys
)

// labels maps canonical label text (lowercase, "(s)" and plurals folded) to
// the field it populates.
var labels = map[string]field{
	"agent":               fieldAgent,
	"agent id":            fieldAgent,
	"agent name":          fieldAgent,
	"workflow position":   fieldPosition,
	"pipeline position":   fieldPosition,
	"position":            fieldPosition,
	"previous agent":      fieldPrevious,
	"next agent":          fieldNext,
	"status":              fieldStatus,
	"domain":              fieldDomain,
	"memory keys created": fieldMemoryKeys,
	"memory key created":  fieldMemoryKeys,
	"memory keys":         fieldMemoryKeys,
	"memory key":          fieldMemoryKeys,
}

// ParserOption customizes a Parser during construction.
type ParserOption func(*Parser)

// WithMaxPosition overrides the largest accepted workflow position.
func WithMaxPosition(max int) ParserOption {
	return func(p *Parser) {
		if max > 0 {
			p.maxPosition = max
		}
	}
}

// Parser recovers AgentReports from Markdown. It is stateless and safe for
// concurrent use.
type Parser struct {
	maxPosition int
}

// NewParser builds a parser with the provided options.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{maxPosition: DefaultMaxPosition}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts an AgentReport from raw Markdown. Missing or malformed fields
// are recorded as warnings on the report; only content that is not UTF-8 text
// returns an error.
func (p *Parser) Parse(path string, content []byte) (*AgentReport, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidUTF8)
	}
	normalized := bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r\n"), []byte("\n"))

	r := &AgentReport{
		Path:           path,
		PreviousAgents: []string{},
		NextAgents:     []string{},
		MemoryKeys:     []MemoryKey{},
	}
	found := map[field]bool{}

	meta, body, bodyLine, fmErr := splitFrontMatter(normalized)
	switch {
	case fmErr == nil:
		fm, err := parseFrontMatter(meta)
		if err != nil {
			r.Warn(WarnMalformedFrontMatter, 1, err.Error())
			body, bodyLine = normalized, 1
		} else {
			p.applyFrontMatter(r, fm, found)
			// A leading thematic break that happens to be valid YAML declares
			// nothing; the lines between the rules are still header text.
			if len(found) == 0 {
				body, bodyLine = normalized, 1
			}
		}
	case errors.Is(fmErr, ErrMalformedFrontMatter):
		r.Warn(WarnMalformedFrontMatter, 1, "frontmatter fence is never closed")
	}
	r.Body = body

	sc := &scanState{parser: p, report: r, found: found}
	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		sc.line(bodyLine+i, line)
	}
	if sc.keySection > 0 && len(r.MemoryKeys) == 0 {
		r.Warn(WarnMissingMemoryKeys, sc.keySection, "memory key section lists no keys")
	}
	p.finish(r, found)
	return r, nil
}

func (p *Parser) applyFrontMatter(r *AgentReport, fm frontMatter, found map[field]bool) {
	id := strings.TrimSpace(fm.AgentID)
	if id == "" {
		id = strings.TrimSpace(fm.Agent)
	}
	if ref := NormalizeRef(id); ref != "" {
		r.AgentID = ref
		r.IDSource = IDSourceFrontMatter
		found[fieldAgent] = true
	}
	if fm.Position.Set {
		p.setPosition(r, fm.Position.Raw, 1)
		found[fieldPosition] = true
	}
	if fm.Total > 0 {
		r.DeclaredTotal = fm.Total
	}
	if fm.PreviousAgents.Set {
		r.PreviousAgents = appendRefs(r.PreviousAgents, fm.PreviousAgents.Values)
		found[fieldPrevious] = true
	}
	if fm.NextAgents.Set {
		r.NextAgents = appendRefs(r.NextAgents, fm.NextAgents.Values)
		found[fieldNext] = true
	}
	if strings.TrimSpace(fm.Status) != "" {
		r.Status = normalizeStatus(fm.Status)
		found[fieldStatus] = true
	}
	if d := strings.TrimSpace(fm.Domain); d != "" {
		r.Domain = d
		found[fieldDomain] = true
	}
	if fm.MemoryKeys.Set {
		for _, mk := range fm.MemoryKeys.Keys {
			addMemoryKey(r, mk)
		}
		found[fieldMemoryKeys] = true
	}
}

func (p *Parser) setPosition(r *AgentReport, raw string, line int) {
	position, total := parsePosition(raw)
	if total > 0 && r.DeclaredTotal == 0 {
		r.DeclaredTotal = total
	}
	if position < 1 || position > p.maxPosition {
		r.Warn(WarnInvalidPosition, line, fmt.Sprintf("workflow position %q is outside 1..%d", strings.TrimSpace(raw), p.maxPosition))
		return
	}
	r.Position = position
}

func (p *Parser) finish(r *AgentReport, found map[field]bool) {
	if r.AgentID == "" {
		r.AgentID = NormalizeRef(fileStem(r.Path))
		r.IDSource = IDSourceFilename
		r.Warn(WarnMissingAgentID, 0, fmt.Sprintf("no agent id declared; using file name %q", r.AgentID))
	}
	r.Slug = StripOrdinal(r.AgentID)
	if !found[fieldPosition] {
		r.Warn(WarnMissingPosition, 0, "no workflow position declared")
	}
	if !found[fieldPrevious] {
		r.Warn(WarnMissingPrevious, 0, "no previous agent declared")
	}
	if !found[fieldNext] {
		r.Warn(WarnMissingNext, 0, "no next agent declared")
	}
	if !found[fieldStatus] {
		r.Warn(WarnMissingStatus, 0, "no status declared")
	} else if r.Status != StatusComplete {
		r.Warn(WarnUnknownStatus, 0, fmt.Sprintf("status %q is not %q", r.Status, StatusComplete))
	}
	if !found[fieldMemoryKeys] {
		r.Warn(WarnMissingMemoryKeys, 0, "no memory keys declared")
	}
}

// scanState walks the body line by line. A list-valued label with no inline
// value (or a "Memory Keys" heading) opens a pending list that absorbs the
// bullet lines that follow it. Bullets indented deeper than the list's first
// bullet continue the previous memory key's description.
type scanState struct {
	parser     *Parser
	report     *AgentReport
	found      map[field]bool
	pending    field
	inFence    bool
	fenceKeys  bool
	items      int
	listIndent int
	// keySection is the line of the first memory key section, 0 when none.
	keySection int
}

func (s *scanState) line(lineNo int, raw string) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
		s.inFence = !s.inFence
		s.fenceKeys = s.inFence && s.pending == fieldMemoryKeys && s.items == 0
		if !s.fenceKeys {
			s.pending = fieldNone
		}
		return
	}
	if s.inFence {
		if s.fenceKeys && trimmed != "" {
			if m := bulletRE.FindStringSubmatch(trimmed); m != nil {
				trimmed = m[1]
			}
			s.item(trimmed, lineNo)
		}
		return
	}
	if m := headingRE.FindStringSubmatch(trimmed); m != nil {
		s.pending = fieldNone
		if strings.Contains(strings.ToLower(m[1]), "memory key") {
			s.openList(fieldMemoryKeys, lineNo)
		}
		return
	}
	if trimmed == "" {
		return
	}
	if f, value, bold, ok := matchLabel(trimmed); ok && !s.isMemoryKeyBullet(raw, f) {
		s.pending = fieldNone
		s.assign(f, value, bold, lineNo)
		return
	}
	if s.pending == fieldNone {
		return
	}
	if m := bulletRE.FindStringSubmatch(raw); m != nil {
		indent := leadingSpaces(raw)
		if s.listIndent < 0 {
			s.listIndent = indent
		}
		if s.pending == fieldMemoryKeys && indent > s.listIndent {
			s.continueKey(m[1])
			return
		}
		s.item(m[1], lineNo)
		return
	}
	if s.pending == fieldMemoryKeys && leadingSpaces(raw) >= 2 {
		s.continueKey(trimmed)
		return
	}
	s.pending = fieldNone
}

// continueKey appends text to the description of the last memory key. Text
// with no key to attach to is dropped.
func (s *scanState) continueKey(text string) {
	keys := s.report.MemoryKeys
	if s.items == 0 || len(keys) == 0 {
		return
	}
	last := &keys[len(keys)-1]
	last.Description = strings.TrimSpace(last.Description + " " + strings.TrimSpace(text))
}

// isMemoryKeyBullet keeps "- status: ..." style bullets inside a memory key
// list from being mistaken for header labels.
func (s *scanState) isMemoryKeyBullet(raw string, f field) bool {
	return s.pending == fieldMemoryKeys && f != fieldMemoryKeys && bulletRE.MatchString(raw)
}

func (s *scanState) openList(f field, lineNo int) {
	s.pending = f
	s.items = 0
	s.listIndent = -1
	s.found[f] = true
	if f == fieldMemoryKeys && s.keySection == 0 {
		s.keySection = lineNo
	}
}

// assign stores a labelled value. Plain `Label:` lines are also how prose
// reads, so once a field is set only the bold form may add to it.
func (s *scanState) assign(f field, value string, bold bool, lineNo int) {
	r := s.report
	value = strings.TrimSpace(value)
	if s.found[f] && !bold {
		return
	}
	switch f {
	case fieldAgent:
		if s.found[fieldAgent] {
			return
		}
		if ref := NormalizeRef(value); ref != "" {
			r.AgentID = ref
			r.IDSource = IDSourceHeader
			s.found[fieldAgent] = true
		}
	case fieldPosition:
		if s.found[fieldPosition] {
			return
		}
		s.found[fieldPosition] = true
		s.parser.setPosition(r, value, lineNo)
	case fieldPrevious, fieldNext:
		if value == "" {
			s.openList(f, lineNo)
			return
		}
		s.found[f] = true
		if f == fieldPrevious {
			r.PreviousAgents = appendRefs(r.PreviousAgents, SplitRefs(value))
		} else {
			r.NextAgents = appendRefs(r.NextAgents, SplitRefs(value))
		}
	case fieldStatus:
		if s.found[fieldStatus] || value == "" {
			return
		}
		s.found[fieldStatus] = true
		r.Status = normalizeStatus(value)
	case fieldDomain:
		if s.found[fieldDomain] || value == "" {
			return
		}
		s.found[fieldDomain] = true
		r.Domain = stripMarkup(value)
	case fieldMemoryKeys:
		s.openList(fieldMemoryKeys, lineNo)
		if value != "" {
			for _, part := range strings.Split(value, ",") {
				if strings.TrimSpace(part) == "" {
					continue
				}
				s.item(part, lineNo)
			}
		}
	}
}

func (s *scanState) item(text string, lineNo int) {
	switch s.pending {
	case fieldPrevious:
		s.report.PreviousAgents = appendRefs(s.report.PreviousAgents, SplitRefs(text))
	case fieldNext:
		s.report.NextAgents = appendRefs(s.report.NextAgents, SplitRefs(text))
	case fieldMemoryKeys:
		mk, ok := parseMemoryKeyItem(text)
		if !ok {
			return
		}
		mk.Line = lineNo
		addMemoryKey(s.report, mk)
	}
	s.items++
}

// matchLabel recognizes `**Label**: value`, `**Label:** value` and
// `Label: value`, optionally prefixed by a list marker. bold reports whether
// the label was emphasized.
func matchLabel(line string) (f field, value string, bold bool, ok bool) {
	text := line
	if m := bulletRE.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	var label, rest string
	switch {
	case strings.HasPrefix(text, "**") || strings.HasPrefix(text, "__"):
		marker := text[:2]
		end := strings.Index(text[2:], marker)
		if end < 0 {
			return fieldNone, "", false, false
		}
		label = text[2 : 2+end]
		rest = text[2+end+2:]
		if strings.HasSuffix(strings.TrimSpace(label), ":") {
			label = strings.TrimSuffix(strings.TrimSpace(label), ":")
		} else {
			rest = strings.TrimSpace(rest)
			if !strings.HasPrefix(rest, ":") {
				return fieldNone, "", false, false
			}
			rest = rest[1:]
		}
		bold = true
	default:
		idx := strings.Index(text, ":")
		if idx <= 0 {
			return fieldNone, "", false, false
		}
		label, rest = text[:idx], text[idx+1:]
	}
	f, ok = labels[canonicalLabel(label)]
	if !ok {
		return fieldNone, "", false, false
	}
	return f, strings.TrimSpace(rest), bold, true
}

func canonicalLabel(label string) string {
	value := strings.ToLower(strings.TrimSpace(label))
	value = strings.ReplaceAll(value, "(s)", "")
	value = strings.Join(strings.Fields(value), " ")
	if strings.HasSuffix(value, " agents") {
		value = strings.TrimSuffix(value, "s")
	}
	return value
}

// parseMemoryKeyItem splits "`research/meta/principles`: Core principles"
// (or the unquoted `key: description` / `key - description` forms).
func parseMemoryKeyItem(text string) (MemoryKey, bool) {
	text = strings.TrimSpace(strings.NewReplacer("**", "", "__", "").Replace(text))
	if text == "" {
		return MemoryKey{}, false
	}
	var key, rest string
	if strings.HasPrefix(text, "`") {
		end := strings.Index(text[1:], "`")
		if end < 0 {
			key = strings.Trim(text, "`")
		} else {
			key = text[1 : 1+end]
			rest = text[1+end+1:]
		}
	} else if idx := strings.Index(text, ":"); idx > 0 {
		key, rest = text[:idx], text[idx+1:]
	} else if idx := strings.Index(text, " - "); idx > 0 {
		key, rest = text[:idx], text[idx+3:]
	} else if idx := strings.Index(text, " — "); idx > 0 {
		key, rest = text[:idx], text[idx+len(" — "):]
	} else {
		key = text
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return MemoryKey{}, false
	}
	rest = strings.TrimLeftFunc(rest, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(":-–—=→>", r)
	})
	return MemoryKey{Key: key, Description: strings.TrimSpace(rest)}, true
}

func addMemoryKey(r *AgentReport, mk MemoryKey) {
	if mk.Key == "" {
		return
	}
	for _, existing := range r.MemoryKeys {
		if existing.Key == mk.Key {
			r.Warn(WarnDuplicateMemoryKey, mk.Line, fmt.Sprintf("memory key %q declared more than once", mk.Key))
			return
		}
	}
	r.MemoryKeys = append(r.MemoryKeys, mk)
}

func appendRefs(existing, refs []string) []string {
	for _, ref := range refs {
		dup := false
		for _, have := range existing {
			if have == ref {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, ref)
		}
	}
	return existing
}

// normalizeStatus folds "✅ COMPLETE", "Completed." and friends onto
// StatusComplete; anything else is returned trimmed so it can be reported.
func normalizeStatus(raw string) string {
	value := strings.TrimFunc(stripMarkup(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return strings.TrimSpace(raw)
	}
	first := strings.ToLower(strings.TrimFunc(fields[0], func(r rune) bool { return !unicode.IsLetter(r) }))
	if first == "complete" || first == "completed" {
		return StatusComplete
	}
	return value
}

func leadingSpaces(s string) int {
	count := 0
	for _, r := range s {
		switch r {
		case ' ':
			count++
		case '\t':
			count += 4
		default:
			return count
		}
	}
	return count
}
