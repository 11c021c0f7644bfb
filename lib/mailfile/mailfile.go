package mailfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// synthetic headers written by us, not by the transport.
// headers set here are authoritative hints; anything else in the
// message came over the wire and must be verified before use.
const (
	HdrRecipient        = "X-Recipient-Address"
	HdrSender           = "X-Sender-Address"
	HdrQuarantineReason = "X-Quarantine-Reason"
	HdrBadReason        = "X-Bad-Reason"
	HdrNotSpam          = "X-NotSpam"
)

// file extension for message files
const Ext = ".eml"

// generate a new message filename, sortable by creation time
func Name() (fname string) {
	hostname, err := os.Hostname()
	if err == nil {
		fname = fmt.Sprintf("%d.%d.%s%s", time.Now().UnixNano(), os.Getpid(), hostname, Ext)
	} else {
		log.Fatal("hostname() call failed ", err)
	}
	return
}

// get the timestamp token of a message file, the filename without
// directory or extension. used as the NotSpam bypass token so that a
// stale header stops matching once the file is regenerated.
func Stem(fpath string) string {
	return strings.TrimSuffix(filepath.Base(fpath), Ext)
}

// insert a synthetic header as the last line of the header block.
// if no blank line terminates the headers the injection is skipped
// and logged, never corrupting the file.
func Inject(fpath, name, value string) (err error) {
	var content []byte
	content, err = os.ReadFile(fpath)
	if err != nil {
		return
	}
	injected, ok := InjectBytes(content, name, value)
	if !ok {
		log.Warnf("no header end found in file: %s", fpath)
		return
	}
	err = os.WriteFile(fpath, injected, 0640)
	return
}

// insert a header line before the blank line ending the header block.
// the injected line ends with the message's own terminator so the
// blank line stays intact and a later injection still finds it.
func InjectBytes(content []byte, name, value string) (out []byte, ok bool) {
	eol := "\n"
	idx := bytes.Index(content, []byte("\r\n\r\n"))
	if idx != -1 {
		idx += 2
		eol = "\r\n"
	} else {
		idx = bytes.Index(content, []byte("\n\n"))
		if idx != -1 {
			idx++
		}
	}
	if idx == -1 {
		out = content
		return
	}
	header := []byte(name + ": " + value + eol)
	out = make([]byte, 0, len(content)+len(header))
	out = append(out, content[:idx]...)
	out = append(out, header...)
	out = append(out, content[idx:]...)
	ok = true
	return
}
