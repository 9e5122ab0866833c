package trydan

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The firmware has known defects in the JSON it emits. Each defect gets a
// named, pure string-to-string repair pass; the passes run in a fixed order
// and only as a fallback after a direct parse attempt fails.
type repairPass struct {
	name  string
	apply func(string) string
}

var repairPasses = []repairPass{
	{"quote_version_literals", quoteVersionLiterals},
	{"separator_before_ready_state", insertReadyStateSeparator},
	{"drop_duplicate_firmware_version", func(s string) string {
		return dropDuplicateKey(s, FieldFirmwareVersion)
	}},
}

// Bare x.y.z tokens in value position. A valid JSON number never contains
// two dots, so this cannot clobber a legitimate value.
var versionLiteralRe = regexp.MustCompile(`:(\s*)(\d+(?:\.\d+){2,})(\s*[,}])`)

func quoteVersionLiterals(s string) string {
	return versionLiteralRe.ReplaceAllString(s, `:${1}"${2}"${3}`)
}

// Some firmware builds omit the comma between the previous value and the
// ReadyState key.
var readyStateSepRe = regexp.MustCompile(`([^,{\s])\s*("` + FieldReadyState + `")`)

func insertReadyStateSeparator(s string) string {
	return readyStateSepRe.ReplaceAllString(s, `$1,$2`)
}

// dropDuplicateKey removes all but the last occurrence of a key/value pair.
// Firmware has been seen reporting FirmwareVersion twice in one object.
func dropDuplicateKey(s, key string) string {
	pairRe := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*(?:"[^"]*"|[^,}{\s][^,}]*)\s*,?\s*`)
	matches := pairRe.FindAllStringIndex(s, -1)
	if len(matches) < 2 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := 0
	for _, m := range matches[:len(matches)-1] {
		b.WriteString(s[prev:m[0]])
		prev = m[1]
	}
	b.WriteString(s[prev:])
	return b.String()
}

// Normalize parses raw /RealTimeData body text into a Snapshot. The declared
// content type is deliberately ignored: the device labels its JSON as
// text/html. If the direct parse fails, the repair passes run in order and
// the result is parsed once more; a body that still does not parse fails
// with MalformedResponseError carrying the original text.
//
// Normalize is pure: same input text always yields the same snapshot or the
// same failure.
func Normalize(body string) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err == nil {
		return snap, nil
	}

	repaired := body
	for _, pass := range repairPasses {
		repaired = pass.apply(repaired)
	}

	if err := json.Unmarshal([]byte(repaired), &snap); err != nil {
		return nil, &MalformedResponseError{Body: body, Err: err}
	}
	return snap, nil
}
