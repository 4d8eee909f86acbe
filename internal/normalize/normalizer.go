package normalize

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/valyala/fastjson"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ErrEmptyInput signals a blank raw line, the only input the normalizer rejects.
var ErrEmptyInput = errors.New("empty input")

// ParseError reports why a raw line could not be normalized.
type ParseError struct {
	SourceID string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("normalize %s: %s", e.SourceID, e.Reason)
	}
	return fmt.Sprintf("normalize %s: %s: %v", e.SourceID, e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}

var timestampKeys = []string{"timestamp", "time", "ts", "@timestamp", "datetime"}

var levelKeys = []string{"level", "severity", "lvl", "loglevel"}

var messageKeys = []string{"message", "msg", "log", "text"}

// Normalizer turns raw log lines into structured LogEvents. Parsing is total
// over non-empty input: lines that defeat every parser still yield an event
// with LevelUnknown and an ingestion-time timestamp.
type Normalizer struct {
	parsers fastjson.ParserPool
	now     func() time.Time
}

// NewNormalizer constructs a Normalizer. The now function may be nil.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Normalizer{now: now}
}

// Normalize parses a raw line for the given source into a LogEvent.
func (n *Normalizer) Normalize(raw []byte, sourceID string) (models.LogEvent, error) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return models.LogEvent{}, &ParseError{SourceID: sourceID, Reason: "blank line", Err: ErrEmptyInput}
	}

	event := models.LogEvent{
		SourceID:  sourceID,
		Timestamp: n.now(),
		Level:     models.LevelUnknown,
		Message:   line,
		Fields:    make(map[string]string),
	}

	if strings.HasPrefix(line, "{") {
		n.parseJSON(line, &event)
	} else {
		n.parsePlain(line, &event)
	}

	event.ID = eventID(event)
	return event, nil
}

func (n *Normalizer) parseJSON(line string, event *models.LogEvent) {
	parser := n.parsers.Get()
	defer n.parsers.Put(parser)

	value, err := parser.Parse(line)
	if err != nil || value.Type() != fastjson.TypeObject {
		// Not actually JSON; treat as free text.
		n.parsePlain(line, event)
		return
	}

	obj, err := value.Object()
	if err != nil {
		n.parsePlain(line, event)
		return
	}

	obj.Visit(func(key []byte, v *fastjson.Value) {
		k := strings.ToLower(string(key))
		switch {
		case containsKey(timestampKeys, k):
			if ts, ok := parseTimestampValue(v); ok {
				event.Timestamp = ts
			}
		case containsKey(levelKeys, k):
			event.Level = models.ParseLevel(jsonScalar(v))
		case containsKey(messageKeys, k):
			event.Message = jsonScalar(v)
		default:
			event.Fields[string(key)] = jsonScalar(v)
		}
	})
}

// parsePlain handles "<timestamp> <LEVEL> <message>" lines with best-effort
// key=value extraction from the remainder.
func (n *Normalizer) parsePlain(line string, event *models.LogEvent) {
	rest := line
	if ts, remainder, ok := leadingTimestamp(rest); ok {
		event.Timestamp = ts
		rest = remainder
	}

	tokens := strings.Fields(rest)
	messageTokens := make([]string, 0, len(tokens))
	for i, token := range tokens {
		trimmed := strings.Trim(token, "[]<>:")
		if i < 2 && event.Level == models.LevelUnknown {
			if lvl := models.ParseLevel(trimmed); lvl != models.LevelUnknown {
				event.Level = lvl
				continue
			}
		}
		if key, val, ok := splitKeyValue(token); ok {
			event.Fields[key] = val
			continue
		}
		messageTokens = append(messageTokens, token)
	}

	if len(messageTokens) > 0 {
		event.Message = strings.Join(messageTokens, " ")
	} else {
		event.Message = rest
	}
}

func leadingTimestamp(line string) (time.Time, string, bool) {
	parts := strings.SplitN(line, " ", 3)
	candidates := []string{parts[0]}
	if len(parts) > 1 {
		// Layouts with a space between date and time span two tokens.
		candidates = append(candidates, parts[0]+" "+parts[1])
	}
	for _, candidate := range candidates {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, candidate); err == nil {
				return ts.UTC(), strings.TrimSpace(line[len(candidate):]), true
			}
		}
	}
	return time.Time{}, line, false
}

func parseTimestampValue(v *fastjson.Value) (time.Time, bool) {
	switch v.Type() {
	case fastjson.TypeString:
		raw := string(v.GetStringBytes())
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC(), true
			}
		}
	case fastjson.TypeNumber:
		f := v.GetFloat64()
		switch {
		case f > 1e12: // epoch millis
			return time.UnixMilli(int64(f)).UTC(), true
		case f > 1e9/2: // epoch seconds
			return time.Unix(int64(f), 0).UTC(), true
		}
	}
	return time.Time{}, false
}

func jsonScalar(v *fastjson.Value) string {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return strconv.FormatFloat(v.GetFloat64(), 'f', -1, 64)
	case fastjson.TypeTrue:
		return "true"
	case fastjson.TypeFalse:
		return "false"
	case fastjson.TypeNull:
		return ""
	default:
		return v.String()
	}
}

func splitKeyValue(token string) (string, string, bool) {
	idx := strings.IndexByte(token, '=')
	if idx <= 0 || idx == len(token)-1 {
		return "", "", false
	}
	key := token[:idx]
	for _, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '-' {
			return "", "", false
		}
	}
	return key, strings.Trim(token[idx+1:], `"'`), true
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

// eventID derives a stable identifier from event content so that redelivered
// events map onto the same insight.
func eventID(event models.LogEvent) string {
	h := fnv.New64a()
	h.Write([]byte(event.SourceID))
	h.Write([]byte{0})
	h.Write([]byte(event.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(event.Message))
	return strconv.FormatUint(h.Sum64(), 16)
}
