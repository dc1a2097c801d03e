/*
Command popbox checks POP3 mailboxes.

popbox connects to the POP3 servers of the accounts in its configuration file,
logs in with USER/PASS or APOP, and reports the mailbox statistics (STAT) and
message listings (LIST). Each check is stored in a snapshot database, so the
number of new messages since the previous check can be reported. The watch
command checks all accounts periodically and exports the results as Prometheus
metrics.

popbox does not retrieve or delete messages.

# Commands

	popbox [-config popbox.conf] [-loglevel level] ...
	popbox login account
	popbox stat account
	popbox list account [msgnum]
	popbox check [account ...]
	popbox watch
	popbox snapshots [-limit n] account
	popbox config test
	popbox config describe >popbox.conf
	popbox apop timestamp
	popbox help [command ...]
	popbox version

# Configuration

Run "popbox config describe" for an annotated configuration file. A minimal
configuration:

	DataDir: data
	LogLevel: info
	Accounts:
		work:
			Host: pop.example.com
			Username: mjl
			Password: secret
			Auth: SSL

Set LogLevel to "trace" to log the POP3 protocol transcript, or to "traceauth"
to also include the lines with credentials.
*/
package main
