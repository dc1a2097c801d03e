package pop3client

import (
	"log/slog"
	"strconv"
)

// Login authenticates the session. It first attempts USER and PASS. If USER
// fails for any reason, authentication is attempted with APOP, using the
// timestamp from the greeting. A failure of PASS is not followed by APOP.
//
// Login must be called in state AUTHORIZATION, otherwise an error of kind
// ErrInvalidState is returned without any i/o. On success the state is
// TRANSACTION, on failure it is unchanged.
func (c *Conn) Login() (rerr error) {
	defer c.recover(&rerr)

	c.cmd = "login"
	c.xcheckState(eventLogin)

	mechanism, err := c.login()
	result := "ok"
	if err != nil {
		result = "error"
	}
	MetricLogin.IncLabels(mechanism, result)
	if err != nil {
		return err
	}

	c.state = c.xtransition(eventLogin)
	c.mechanism = mechanism
	c.log.Debug("logged in", slog.String("mechanism", mechanism))
	return nil
}

func (c *Conn) login() (mechanism string, rerr error) {
	mechanism = "USER"
	defer c.recover(&rerr)

	_, err := c.SendCommand("USER", c.account.Username)
	if err == nil {
		c.xcommandAuth("PASS", c.account.Password)
		return
	}

	// Any failure of USER, also i/o errors, results in an APOP attempt. On a
	// botched connection, the APOP attempt returns the earlier error.
	c.log.Debugx("user command failed, trying apop", err)
	mechanism = "APOP"
	digest := APOPDigest(c.timestamp, c.account.Password)
	c.xcommandAuth("APOP", c.account.Username+" "+digest)
	return
}

// Stat returns the number of messages and total size of the mailbox. Stat must
// be called in state TRANSACTION.
func (c *Conn) Stat() (stat MailboxStat, rerr error) {
	defer c.recover(&rerr)

	c.cmd = "STAT"
	c.xcheckState(eventCommand)
	lines := c.xcommand("STAT", "")
	stat, err := ParseMailboxStat(lines[0])
	if err != nil {
		return MailboxStat{}, withCommand(err, "STAT")
	}
	return stat, nil
}

// List returns a listing of all messages with their sizes, with a summary from
// the first response line. List must be called in state TRANSACTION.
func (c *Conn) List() (listing MailboxListing, rerr error) {
	defer c.recover(&rerr)

	c.cmd = "LIST"
	c.xcheckState(eventCommand)
	lines := c.xcommand("LIST", "")
	if len(lines) == 1 {
		// Empty mailbox, only the summary.
		summary, err := parseListSummary(lines[0])
		if err != nil {
			return MailboxListing{}, withCommand(err, "LIST")
		}
		return MailboxListing{Summary: &summary, Messages: []MessageMetadata{}}, nil
	}
	listing, err := ParseMailboxListing(lines)
	if err != nil {
		return MailboxListing{}, withCommand(err, "LIST")
	}
	return listing, nil
}

// ListMessage returns the size of a single message. The returned listing has no
// summary. ListMessage must be called in state TRANSACTION.
func (c *Conn) ListMessage(id uint32) (listing MailboxListing, rerr error) {
	defer c.recover(&rerr)

	c.cmd = "LIST"
	c.xcheckState(eventCommand)
	lines := c.xcommand("LIST", strconv.FormatUint(uint64(id), 10))
	listing, err := ParseMailboxListing(lines)
	if err != nil {
		return MailboxListing{}, withCommand(err, "LIST")
	}
	return listing, nil
}

func withCommand(err error, cmd string) error {
	if e, ok := err.(Error); ok {
		e.Command = cmd
		return e
	}
	return err
}
