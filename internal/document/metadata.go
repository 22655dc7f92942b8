// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package document

import (
	"regexp"
	"strings"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// Metadata keys detected from document text.
const (
	MetaNCTID      = "nct_id"
	MetaPhase      = "phase"
	MetaEnrollment = "enrollment_count"
)

var (
	nctPattern        = regexp.MustCompile(`\bNCT\d{8}\b`)
	phasePattern      = regexp.MustCompile(`(?i)\bphase\s+(1/2|2/3|I/II|II/III|IV|III|II|I|[1-4])\b`)
	enrollmentPattern = regexp.MustCompile(`(?i)\b(?:enroll(?:ed|ment of)?|a total of|approximately)\s+(\d{1,3}(?:,\d{3})*|\d+)\s+(?:patients|participants|subjects)\b`)
)

// phaseNames normalizes arabic and roman phase numbers to roman form.
var phaseNames = map[string]string{
	"1": "I", "2": "II", "3": "III", "4": "IV",
	"1/2": "I/II", "2/3": "II/III",
}

// DetectMetadata extracts study attributes that can be recognized without
// model extraction: the first NCT number, the first trial phase, and the
// planned or actual enrollment count. Keys that are not found are omitted.
func DetectMetadata(doc types.Document) map[string]string {
	meta := map[string]string{}
	if m := nctPattern.FindString(doc.Text); m != "" {
		meta[MetaNCTID] = m
	}
	if m := phasePattern.FindStringSubmatch(doc.Text); m != nil {
		p := strings.ToUpper(m[1])
		if roman, ok := phaseNames[p]; ok {
			p = roman
		}
		meta[MetaPhase] = "Phase " + p
	}
	if m := enrollmentPattern.FindStringSubmatch(doc.Text); m != nil {
		meta[MetaEnrollment] = strings.ReplaceAll(m[1], ",", "")
	}
	return meta
}
