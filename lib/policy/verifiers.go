package policy

import (
	"io"
	"net"

	"blitiri.com.ar/go/spf"
	"github.com/emersion/go-msgauth/dkim"
)

// black box SPF verifier: does the domain's policy authorize this
// relay address to send for this sender
type SPFVerifier interface {
	Check(ip net.IP, domain, sender string) (pass bool, err error)
}

// black box DKIM verifier over the raw message bytes. reasons name
// the signatures that failed.
type DKIMVerifier interface {
	Verify(r io.Reader) (valid bool, reasons []string, err error)
}

type libSPF struct{}

func (libSPF) Check(ip net.IP, domain, sender string) (pass bool, err error) {
	var res spf.Result
	res, err = spf.CheckHostWithSender(ip, domain, sender)
	pass = res == spf.Pass
	return
}

type libDKIM struct{}

func (libDKIM) Verify(r io.Reader) (valid bool, reasons []string, err error) {
	var verifs []*dkim.Verification
	verifs, err = dkim.Verify(r)
	if err != nil {
		return
	}
	for _, v := range verifs {
		if v.Err != nil {
			reasons = append(reasons, v.Err.Error())
		}
	}
	valid = len(reasons) == 0
	return
}
