package message

import (
	"strings"
	"testing"
)

const plainMail = "Received: from mail.example.com (mail.example.com [192.0.2.1]) by mx.local with ESMTP id ABC123; Mon, 01 Jan 2024 10:00:00 +0000\r\n" +
	"Received: from origin.example.com (origin.example.com [192.0.2.2]) by mail.example.com id XYZ789; Mon, 01 Jan 2024 09:59:00 +0000\r\n" +
	"From: Alice <a@good.com>\r\n" +
	"To: X <x@dest.org>, Y <y@dest.org>\r\n" +
	"Cc: Z <z@dest.org>\r\n" +
	"Subject: hello\r\n" +
	"Date: Mon, 01 Jan 2024 09:58:00 +0000\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"body text\r\n"

func TestParsePlain(t *testing.T) {
	p, err := Parse(strings.NewReader(plainMail))
	if err != nil {
		t.Fatal(err)
	}
	if p.From() != "a@good.com" {
		t.Errorf("from %q", p.From())
	}
	if p.Subject() != "hello" {
		t.Errorf("subject %q", p.Subject())
	}
	if len(p.To()) != 2 || p.To()[0] != "x@dest.org" {
		t.Errorf("to %v", p.To())
	}
	if len(p.Cc()) != 1 || p.Cc()[0] != "z@dest.org" {
		t.Errorf("cc %v", p.Cc())
	}
	if !strings.Contains(p.Text, "body text") {
		t.Errorf("text %q", p.Text)
	}
	if len(p.Values("Received")) != 2 {
		t.Errorf("received %v", p.Values("Received"))
	}
}

func TestTransportID(t *testing.T) {
	p, err := Parse(strings.NewReader(plainMail))
	if err != nil {
		t.Fatal(err)
	}
	// the topmost Received header wins
	if p.TransportID() != "ABC123" {
		t.Errorf("id %q", p.TransportID())
	}
}

func TestAddressSummary(t *testing.T) {
	p, _ := Parse(strings.NewReader(plainMail))
	s := p.AddressSummary()
	if !strings.HasPrefix(s, "To: x@dest.org, y@dest.org") {
		t.Errorf("summary %q", s)
	}
	if !strings.Contains(s, "cc: z@dest.org") {
		t.Errorf("summary %q", s)
	}
}

func TestParseMultipart(t *testing.T) {
	raw := "From: a@good.com\r\n" +
		"To: x@dest.org\r\n" +
		"Subject: att\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=BOUND\r\n" +
		"\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>hi</p>\r\n" +
		"--BOUND\r\n" +
		"Content-Type: image/png\r\n" +
		"Content-Disposition: attachment; filename=\"photo.png\"\r\n" +
		"\r\n" +
		"PNGDATA\r\n" +
		"--BOUND--\r\n"
	p, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.HTML, "<p>hi</p>") {
		t.Errorf("html %q", p.HTML)
	}
	if len(p.Attachments) != 1 {
		t.Fatalf("attachments %v", p.Attachments)
	}
	att := p.Attachments[0]
	if att.Filename != "photo.png" {
		t.Errorf("filename %q", att.Filename)
	}
	if string(att.Data) != "PNGDATA" {
		t.Errorf("data %q", att.Data)
	}
}

func TestReceivedID(t *testing.T) {
	if receivedID("from a by b with ESMTP id QWE456; Mon, 01 Jan 2024 10:00:00 +0000") != "QWE456" {
		t.Fail()
	}
	if receivedID("from a by b") != "" {
		t.Fail()
	}
}

func TestRelayIP(t *testing.T) {
	ip := RelayIP("from mail.example.com (mail.example.com [192.0.2.1]) by mx.local")
	if ip == nil || ip.String() != "192.0.2.1" {
		t.Errorf("ip %v", ip)
	}
	ip = RelayIP("from mail.example.com (unknown [not-an-ip]) by 198.51.100.7 whatever")
	if ip == nil || ip.String() != "198.51.100.7" {
		t.Errorf("ip %v", ip)
	}
	if RelayIP("from a by b") != nil {
		t.Fail()
	}
}
