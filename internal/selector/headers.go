// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package selector

import (
	"regexp"
	"strings"
)

// maxHeaderLen bounds the length of a line that may be treated as a header.
const maxHeaderLen = 80

// namedHeaders are the section titles common to trial protocols and reports.
var namedHeaders = regexp.MustCompile(`(?i)^(abstract|summary|synopsis|introduction|background|rationale|objectives?|aims?|methods?|methodology|study design|trial design|participants|patients|population|eligibility|inclusion criteria|exclusion criteria|interventions?|treatments?|outcomes?|endpoints?|enrollment|randomi[sz]ation|statistical analysis|results|safety|adverse events|discussion|conclusions?|references|acknowledg(e)?ments|funding|sponsor|study sites|locations)\s*:?$`)

// numberedHeader matches "1. Introduction", "2.3 Study Design".
var numberedHeader = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+[A-Z][A-Za-z\s,/&()-]+$`)

// romanHeader matches "IV. Results".
var romanHeader = regexp.MustCompile(`^[IVXLC]+\.\s+[A-Z][A-Za-z\s,/&()-]+$`)

// capsHeader matches short ALL CAPS lines such as "STUDY DESIGN".
var capsHeader = regexp.MustCompile(`^[A-Z][A-Z\s]{2,20}$`)

// headerPrefix strips numbering from a header title.
var headerPrefix = regexp.MustCompile(`^(\d+(\.\d+)*\.?|[IVXLC]+\.)\s+`)

// IsHeader reports whether a trimmed line looks like a section header.
func IsHeader(line string) bool {
	if line == "" || len(line) > maxHeaderLen {
		return false
	}
	return namedHeaders.MatchString(line) ||
		numberedHeader.MatchString(line) ||
		romanHeader.MatchString(line) ||
		capsHeader.MatchString(line)
}

// HeaderTitle returns the header text without numbering or a trailing colon.
func HeaderTitle(line string) string {
	t := headerPrefix.ReplaceAllString(strings.TrimSpace(line), "")
	return strings.TrimSpace(strings.TrimSuffix(t, ":"))
}
