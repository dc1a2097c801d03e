package pop3client

import (
	"crypto/md5"
	"encoding/hex"
)

// APOPDigest returns the digest for the APOP command: the lower case hex MD5
// hash of the timestamp from the greeting (including angle brackets) followed
// by the password. See RFC 1939 section 7.
func APOPDigest(timestamp, password string) string {
	h := md5.Sum([]byte(timestamp + password))
	return hex.EncodeToString(h[:])
}
