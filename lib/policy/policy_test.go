package policy

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/emailpipe/mailpipe/lib/config"
	"github.com/emailpipe/mailpipe/lib/message"
)

type stubSPF struct {
	pass map[string]bool
	err  error
}

func (s stubSPF) Check(ip net.IP, domain, sender string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.pass[ip.String()], nil
}

type stubDKIM struct {
	valid   bool
	reasons []string
	err     error
}

func (s stubDKIM) Verify(r io.Reader) (bool, []string, error) {
	return s.valid, s.reasons, s.err
}

func parseMail(t *testing.T, raw string) *message.Parsed {
	p, err := message.Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

const relayedMail = "Received: from a (a [192.0.2.1]) by b id A1; Mon, 01 Jan 2024 10:00:00 +0000\r\n" +
	"Received: from c (c [192.0.2.2]) by a id B2; Mon, 01 Jan 2024 09:00:00 +0000\r\n" +
	"From: a@good.com\r\nTo: x@dest.org\r\n\r\nhi\r\n"

const directMail = "Received: from localhost (localhost [127.0.0.1]) by b id A1; Mon, 01 Jan 2024 10:00:00 +0000\r\n" +
	"From: a@good.com\r\nTo: x@dest.org\r\n\r\nhi\r\n"

func TestListCheckerBlack(t *testing.T) {
	c := &ListChecker{Black: []string{"bad@evil.com", "evil.org"}}
	ok, reason := c.CheckSender("Bad@Evil.com", nil, true)
	if ok || reason == "" {
		t.Error("blacklisted address must be denied")
	}
	ok, _ = c.CheckSender("anyone@evil.org", nil, true)
	if ok {
		t.Error("blacklisted domain must be denied")
	}
	ok, _ = c.CheckSender("a@good.com", nil, true)
	if !ok {
		t.Error("unlisted sender gets the default")
	}
}

func TestWhiteOverridesBlack(t *testing.T) {
	c := &ListChecker{
		Black: []string{"a@both.com"},
		White: []string{"a@both.com"},
	}
	ok, _ := c.CheckSender("a@both.com", nil, false)
	if !ok {
		t.Error("white list wins when both lists match")
	}
}

func TestListCheckerDefault(t *testing.T) {
	c := &ListChecker{}
	ok, reason := c.CheckSender("a@good.com", nil, false)
	if ok {
		t.Fail()
	}
	if reason != "invalid sender" {
		t.Errorf("reason %q", reason)
	}
}

func TestAuthenticateDirectExempt(t *testing.T) {
	cfg := &config.Policy{SPFCheck: true, DKIMCheck: true}
	e := NewEvaluator(cfg)
	e.SPF = stubSPF{}
	e.DKIM = stubDKIM{}
	msg := parseMail(t, directMail)
	v := e.Authenticate(msg, []byte(directMail), "a@good.com")
	if !v.Allow {
		t.Error("one Received header means no relay traversal, checks are skipped")
	}
}

func TestAuthenticateSPFPassViaHeader(t *testing.T) {
	raw := "Received-SPF: Pass (mailfrom) identity=mailfrom\r\n" + relayedMail
	cfg := &config.Policy{SPFCheck: true}
	e := NewEvaluator(cfg)
	e.SPF = stubSPF{} // would fail every lookup
	msg := parseMail(t, raw)
	v := e.Authenticate(msg, []byte(raw), "a@good.com")
	if !v.Allow {
		t.Error("an existing pass result is accepted without lookups")
	}
}

func TestAuthenticateSPFSoftfailHeaderNotAccepted(t *testing.T) {
	raw := "Received-SPF: softfail (domain does not pass with this ip)\r\n" + relayedMail
	cfg := &config.Policy{SPFCheck: true}
	e := NewEvaluator(cfg)
	e.SPF = stubSPF{}
	msg := parseMail(t, raw)
	v := e.Authenticate(msg, []byte(raw), "a@good.com")
	if v.Allow {
		t.Error("pass inside a comment is not a pass result")
	}
}

func TestAuthenticateSPFPassViaRelay(t *testing.T) {
	cfg := &config.Policy{SPFCheck: true}
	e := NewEvaluator(cfg)
	e.SPF = stubSPF{pass: map[string]bool{"192.0.2.2": true}}
	msg := parseMail(t, relayedMail)
	v := e.Authenticate(msg, []byte(relayedMail), "a@good.com")
	if !v.Allow {
		t.Error("first definitive pass accepts")
	}
}

func TestAuthenticateSPFFail(t *testing.T) {
	cfg := &config.Policy{SPFCheck: true}
	e := NewEvaluator(cfg)
	e.SPF = stubSPF{}
	msg := parseMail(t, relayedMail)
	v := e.Authenticate(msg, []byte(relayedMail), "a@good.com")
	if v.Allow {
		t.Fatal("no relay passed")
	}
	if v.Reason != "SPF check failed" {
		t.Errorf("reason %q", v.Reason)
	}
}

func TestAuthenticateDKIMFail(t *testing.T) {
	cfg := &config.Policy{DKIMCheck: true}
	e := NewEvaluator(cfg)
	e.DKIM = stubDKIM{reasons: []string{"bad signature", "bad signature", "expired key"}}
	msg := parseMail(t, relayedMail)
	v := e.Authenticate(msg, []byte(relayedMail), "a@good.com")
	if v.Allow {
		t.Fatal()
	}
	if v.Reason != "DKIM check failed: bad signature, expired key" {
		t.Errorf("reason %q", v.Reason)
	}
}

func TestAuthenticateDKIMException(t *testing.T) {
	cfg := &config.Policy{DKIMCheck: true}
	e := NewEvaluator(cfg)
	e.DKIM = stubDKIM{err: errors.New("truncated message")}
	msg := parseMail(t, relayedMail)
	v := e.Authenticate(msg, []byte(relayedMail), "a@good.com")
	if v.Allow {
		t.Fatal()
	}
	if v.Reason != "DKIM exception: truncated message" {
		t.Errorf("reason %q", v.Reason)
	}
}

func TestChecksDisabled(t *testing.T) {
	cfg := &config.Policy{}
	e := NewEvaluator(cfg)
	e.SPF = stubSPF{}
	e.DKIM = stubDKIM{}
	msg := parseMail(t, relayedMail)
	v := e.Authenticate(msg, []byte(relayedMail), "a@good.com")
	if !v.Allow {
		t.Error("disabled checks never deny")
	}
}

func TestCheckSenderUsesConfigLists(t *testing.T) {
	cfg := &config.Policy{
		BlackList: "bad@evil.com\nevil.org",
		WhiteList: "a@good.com",
	}
	e := NewEvaluator(cfg)
	if v := e.CheckSender("bad@evil.com", nil); v.Allow {
		t.Fail()
	}
	if v := e.CheckSender("a@good.com", nil); !v.Allow {
		t.Fail()
	}
}
