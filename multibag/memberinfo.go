package multibag

import (
	"regexp"
	"strings"
)

// MemberInfo is one row of the member-bags.tsv file (or, for profile
// versions before 0.3, the group-members.txt file): a member bag's name
// plus its optional URI, extra informational fields, and comment.
type MemberInfo struct {
	Name    string
	URI     string
	Comment string
	Info    []string
}

// Format renders the member as a member-bags.tsv line, including the
// trailing newline. It is the inverse of ParseMemberLine.
func (m MemberInfo) Format() string {
	out := m.Name
	if m.URI != "" {
		out += "\t" + m.URI
	}
	if len(m.Info) > 0 {
		out += "\t" + strings.Join(m.Info, "\t")
	}
	if m.Comment != "" {
		out += "\t# " + m.Comment
	}
	return out + "\n"
}

var spacesRe = regexp.MustCompile(` +`)

// ParseMemberLine parses one line of the member list for the given
// profile version: tab-delimited NAME[\tURI][\t...][\t# COMMENT] for
// 0.3 and later, space-delimited NAME [URI] before that.
func ParseMemberLine(line string, profver string) (MemberInfo, error) {
	if Less(profver, "0.3") {
		return parseMemberLine02(line)
	}
	return parseMemberLine03(line)
}

func parseMemberLine03(line string) (MemberInfo, error) {
	fields := strings.Split(strings.TrimSpace(line), "\t")
	if len(fields) < 1 || fields[0] == "" {
		return MemberInfo{}, NewMultibagError(
			"syntax error in member-bags.tsv: missing fields: %s",
			strings.TrimSpace(line))
	}
	m := MemberInfo{Name: fields[0]}
	fields = fields[1:]
	if len(fields) > 0 && strings.HasPrefix(fields[len(fields)-1], "#") {
		m.Comment = strings.TrimSpace(strings.TrimLeft(fields[len(fields)-1], "#"))
		fields = fields[:len(fields)-1]
	}
	if len(fields) > 0 {
		m.URI = fields[0]
		fields = fields[1:]
	}
	if len(fields) > 0 {
		m.Info = fields
	}
	return m, nil
}

func parseMemberLine02(line string) (MemberInfo, error) {
	fields := spacesRe.Split(strings.TrimSpace(line), -1)
	if len(fields) < 1 || fields[0] == "" {
		return MemberInfo{}, NewMultibagError(
			"syntax error in group-members.txt: missing fields: %s",
			strings.TrimSpace(line))
	}
	m := MemberInfo{Name: fields[0]}
	if len(fields) > 1 {
		m.URI = fields[1]
	}
	return m, nil
}

// parseFileLookupLine parses one PATH\tBAGNAME line of file-lookup.tsv
// (or the space-delimited group-directory.txt for pre-0.3 profiles).
func parseFileLookupLine(line string, profver string) (path, bagname string, err error) {
	var fields []string
	trimmed := strings.TrimSpace(line)
	if Less(profver, "0.3") {
		fields = spacesRe.Split(trimmed, -1)
	} else {
		fields = strings.Split(trimmed, "\t")
	}
	if len(fields) < 2 {
		return "", "", NewMultibagError(
			"syntax error in file lookup: missing bagname field: %s", trimmed)
	}
	return fields[0], fields[1], nil
}
