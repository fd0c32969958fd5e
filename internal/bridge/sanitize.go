package bridge

import "regexp"

var (
	controlChars = regexp.MustCompile(`[^\w\s@.\-]`)
	roomPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	crlf         = regexp.MustCompile(`[\r\n]+`)
)

// sanitizeFromAgent strips anything outside word characters, whitespace,
// '@', '.', and '-' from an untrusted agent name before it is woven into a
// session key or framing header.
func sanitizeFromAgent(name string) string {
	return controlChars.ReplaceAllString(name, "")
}

// sanitizeSubject strips line breaks from a message subject.
func sanitizeSubject(subject string) string {
	return crlf.ReplaceAllString(subject, " ")
}

// sanitizeRoom returns room unchanged if it matches the conservative room
// naming pattern, or "" if it doesn't (the caller falls back to per-thread
// routing rather than trusting an unvetted room name).
func sanitizeRoom(room string) string {
	if roomPattern.MatchString(room) {
		return room
	}
	return ""
}
