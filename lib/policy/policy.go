package policy

import (
	"bytes"
	"strings"

	"github.com/emailpipe/mailpipe/lib/config"
	"github.com/emailpipe/mailpipe/lib/message"
	"github.com/emailpipe/mailpipe/lib/model"
	log "github.com/sirupsen/logrus"
)

// outcome of a policy decision. a denial carries the reason that ends
// up in the injected quarantine header.
type Verdict struct {
	Allow  bool
	Reason string
}

func Allowed() Verdict {
	return Verdict{Allow: true}
}

func Denied(reason string) Verdict {
	return Verdict{Reason: reason}
}

// strategy deciding whether a sender may reach a destination.
// dest is nil for the global check and set when re-checking per
// matched destination. deflt is returned when no rule matches, so
// wrappers can substitute their own default.
type SenderChecker interface {
	CheckSender(from string, dest *model.Destination, deflt bool) (ok bool, reason string)
}

// default sender check: black list membership of the address or its
// domain denies, white list allows, white overrides black.
type ListChecker struct {
	White []string
	Black []string
}

func (c *ListChecker) CheckSender(from string, dest *model.Destination, deflt bool) (ok bool, reason string) {
	from = strings.ToLower(from)
	domain := domainOf(from)
	if contains(c.White, from) || contains(c.White, domain) {
		ok = true
		return
	}
	if contains(c.Black, from) || contains(c.Black, domain) {
		reason = "blacklisted sender"
		return
	}
	ok = deflt
	if !ok {
		reason = "invalid sender"
	}
	return
}

// sender policy evaluation for one run: list based sender checks plus
// the SPF and DKIM authenticity sub-checks
type Evaluator struct {
	// hookable extension point, external code may substitute or wrap
	Checker SenderChecker
	// result when neither list matches
	Default bool

	SPF  SPFVerifier
	DKIM DKIMVerifier

	cfg *config.Policy
}

func NewEvaluator(cfg *config.Policy) *Evaluator {
	return &Evaluator{
		Checker: &ListChecker{
			White: cfg.Whitelisted(),
			Black: cfg.Blacklisted(),
		},
		Default: true,
		SPF:     libSPF{},
		DKIM:    libDKIM{},
		cfg:     cfg,
	}
}

// run the sender check, optionally in the context of one destination
func (e *Evaluator) CheckSender(from string, dest *model.Destination) (v Verdict) {
	ok, reason := e.Checker.CheckSender(from, dest, e.Default)
	if ok {
		v = Allowed()
	} else {
		if reason == "" {
			reason = "invalid sender"
		}
		v = Denied(reason)
	}
	return
}

// run the SPF and DKIM checks. messages that never traversed a relay
// (at most one Received header) are exempt: there is nothing for the
// checks to verify on a direct same-host injection.
func (e *Evaluator) Authenticate(msg *message.Parsed, raw []byte, from string) (v Verdict) {
	v = Allowed()
	received := msg.Values("Received")
	if len(received) <= 1 {
		return
	}
	if e.cfg.SPFCheck && !e.checkSPF(msg, received, from) {
		v = Denied("SPF check failed")
		return
	}
	if e.cfg.DKIMCheck {
		valid, reasons, err := e.DKIM.Verify(bytes.NewReader(raw))
		if err != nil {
			v = Denied("DKIM exception: " + err.Error())
			return
		}
		if !valid {
			v = Denied("DKIM check failed: " + strings.Join(distinct(reasons), ", "))
			return
		}
	}
	return
}

// accept an upstream Received-SPF pass verbatim, otherwise evaluate
// the sender domain's policy against each purported relay address in
// order and accept the first definitive pass. only the header's
// leading result token counts, comments may contain the word "pass".
func (e *Evaluator) checkSPF(msg *message.Parsed, received []string, from string) (ok bool) {
	if toks := strings.Fields(strings.ToLower(msg.Get("Received-SPF"))); len(toks) > 0 && toks[0] == "pass" {
		ok = true
		return
	}
	domain := domainOf(strings.ToLower(from))
	for _, hdr := range received {
		ip := message.RelayIP(hdr)
		if ip == nil {
			continue
		}
		pass, err := e.SPF.Check(ip, domain, from)
		if err != nil {
			log.Debugf("spf lookup for %s via %s: %s", from, ip, err.Error())
			continue
		}
		if pass {
			ok = true
			return
		}
	}
	return
}

func domainOf(addr string) (domain string) {
	idx := strings.Index(addr, "@")
	if idx != -1 {
		domain = addr[idx+1:]
	}
	return
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}

func distinct(in []string) (out []string) {
	seen := make(map[string]bool)
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return
}
