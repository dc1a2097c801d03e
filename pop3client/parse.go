package pop3client

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	// Status line of every response. Text after the status is optional.
	statusRegexp = regexp.MustCompile(`^(\+OK|-ERR)(?: ([^\r\n]*)|\r?\n?$)`)

	// APOP timestamp at the end of the greeting.
	timestampRegexp = regexp.MustCompile(`(<.*>)\r\n$`)

	// Two numbers, for STAT responses and scan listings, e.g. "2 320".
	statRegexp = regexp.MustCompile(`(\d+) (\d+)`)

	// First line of multi-line LIST response, e.g. "+OK 2 messages (320 octets)".
	listSummaryRegexp = regexp.MustCompile(`(\+OK|-ERR) (\d+) [a-z ]+ \((\d+) [a-z]+\)`)
)

// MailboxStat is the result of a STAT command, or the summary of a LIST command.
type MailboxStat struct {
	Count uint32 // Number of messages in the mailbox.
	Size  uint64 // Total size of all messages in bytes.
}

// MessageMetadata is an entry in a scan listing.
type MessageMetadata struct {
	ID   uint32 // Message number.
	Size uint64 // In bytes.
}

// MailboxListing is the result of a LIST command.
type MailboxListing struct {
	// Only set for multi-line responses, i.e. LIST without message number.
	Summary *MailboxStat
	// In the order returned by the server.
	Messages []MessageMetadata
}

func parseError(line string, format string, args ...any) error {
	return Error{Kind: ErrProtocol, Line: trimEOL(line), Err: fmt.Errorf(format, args...)}
}

func parseNumbers(line string, re *regexp.Regexp, what string) (uint32, uint64, error) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, parseError(line, "malformed %s line", what)
	}
	a, b := m[len(m)-2], m[len(m)-1]
	n, err := strconv.ParseUint(a, 10, 32)
	if err != nil {
		return 0, 0, parseError(line, "parsing number in %s line: %w", what, err)
	}
	size, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return 0, 0, parseError(line, "parsing size in %s line: %w", what, err)
	}
	return uint32(n), size, nil
}

// ParseMailboxStat parses a STAT response line, e.g. "+OK 2 320".
func ParseMailboxStat(line string) (MailboxStat, error) {
	n, size, err := parseNumbers(line, statRegexp, "stat")
	if err != nil {
		return MailboxStat{}, err
	}
	return MailboxStat{n, size}, nil
}

// parseListSummary parses the first line of a multi-line LIST response.
func parseListSummary(line string) (MailboxStat, error) {
	n, size, err := parseNumbers(line, listSummaryRegexp, "listing summary")
	if err != nil {
		return MailboxStat{}, err
	}
	return MailboxStat{n, size}, nil
}

// ParseMailboxListing parses the lines of a LIST response.
//
// With multiple lines, the first line is the summary of a multi-line response,
// e.g. "+OK 2 messages (320 octets)", followed by one line per message. With a
// single line, it is the response to LIST with a message number, e.g.
// "+OK 1 120", and no summary is returned.
//
// Lines that cannot be parsed result in an error, they are never skipped.
func ParseMailboxListing(lines []string) (MailboxListing, error) {
	var l MailboxListing
	if len(lines) == 0 {
		return l, parseError("", "empty listing")
	}
	if len(lines) > 1 {
		summary, err := parseListSummary(lines[0])
		if err != nil {
			return MailboxListing{}, err
		}
		l.Summary = &summary
		lines = lines[1:]
	}
	l.Messages = make([]MessageMetadata, 0, len(lines))
	for _, line := range lines {
		id, size, err := parseNumbers(line, statRegexp, "listing")
		if err != nil {
			return MailboxListing{}, err
		}
		l.Messages = append(l.Messages, MessageMetadata{id, size})
	}
	return l, nil
}

// parseStatus parses a status line, returning whether the status is +OK, and the
// text following the status.
func parseStatus(line string) (ok bool, text string, rerr error) {
	m := statusRegexp.FindStringSubmatch(line)
	if m == nil {
		return false, "", parseError(line, "malformed status line")
	}
	return m[1] == "+OK", m[2], nil
}

// parseTimestamp returns the APOP timestamp from a greeting line, including
// angle brackets, or an empty string if absent.
func parseTimestamp(greeting string) string {
	m := timestampRegexp.FindStringSubmatch(greeting)
	if m == nil {
		return ""
	}
	return m[1]
}
