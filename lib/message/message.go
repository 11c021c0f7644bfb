package message

import (
	"io"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// one decoded attachment part, in the order it appeared in the message
type Part struct {
	Filename    string
	ContentType string
	Data        []byte
}

// a message decoded from its wire form. lives for one pipeline
// invocation, never persisted apart from its source file.
type Parsed struct {
	// header name (canonical) -> values, in order of appearance
	Header map[string][]string

	Text        string
	HTML        string
	Attachments []Part

	to  []string
	cc  []string
	bcc []string

	subject string
	from    string
}

// decode a raw message. the MIME wire format itself is handled by the
// parsing library, we only keep the model the pipeline needs.
func Parse(r io.Reader) (p *Parsed, err error) {
	var mr *mail.Reader
	mr, err = mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return
	}
	err = nil
	p = &Parsed{
		Header: make(map[string][]string),
	}
	fields := mr.Header.Fields()
	for fields.Next() {
		k := textproto.CanonicalMIMEHeaderKey(fields.Key())
		p.Header[k] = append(p.Header[k], fields.Value())
	}
	p.subject, _ = mr.Header.Subject()
	p.from = firstAddress(mr.Header, "From")
	p.to = addresses(mr.Header, "To")
	p.cc = addresses(mr.Header, "Cc")
	p.bcc = addresses(mr.Header, "Bcc")

	for {
		var part *mail.Part
		part, err = mr.NextPart()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				err = nil
				continue
			}
			return
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			t, _, _ := h.ContentType()
			body, _ := io.ReadAll(part.Body)
			if t == "text/html" {
				p.HTML += string(body)
			} else {
				p.Text += string(body)
			}
		case *mail.AttachmentHeader:
			fname, _ := h.Filename()
			t, _, _ := h.ContentType()
			data, _ := io.ReadAll(part.Body)
			p.Attachments = append(p.Attachments, Part{
				Filename:    fname,
				ContentType: t,
				Data:        data,
			})
		}
	}
	return
}

// get the first value of a header, empty string if unset
func (p *Parsed) Get(name string) (val string) {
	vals := p.Header[textproto.CanonicalMIMEHeaderKey(name)]
	if len(vals) > 0 {
		val = vals[0]
	}
	return
}

// get all values of a header
func (p *Parsed) Values(name string) []string {
	return p.Header[textproto.CanonicalMIMEHeaderKey(name)]
}

func (p *Parsed) Subject() string {
	return p.subject
}

// address of the From header, possibly spoofed, verify before trusting
func (p *Parsed) From() string {
	return p.from
}

func (p *Parsed) To() []string {
	return p.to
}

func (p *Parsed) Cc() []string {
	return p.cc
}

func (p *Parsed) Bcc() []string {
	return p.bcc
}

// summary string of all addressees, annotated per header
func (p *Parsed) AddressSummary() (s string) {
	s = "To: " + strings.Join(p.to, ", ")
	if len(p.cc) > 0 {
		s += "; cc: " + strings.Join(p.cc, ", ")
	}
	if len(p.bcc) > 0 {
		s += "; bcc: " + strings.Join(p.bcc, ", ")
	}
	return
}

// identifier correlating retried deliveries of one underlying message,
// the id token of the topmost Received header
func (p *Parsed) TransportID() (id string) {
	received := p.Values("Received")
	if len(received) > 0 {
		id = receivedID(received[0])
	}
	return
}

// extract the id token from a Received header value
func receivedID(val string) (id string) {
	toks := strings.Fields(val)
	for i, tok := range toks {
		if strings.EqualFold(tok, "id") && i+1 < len(toks) {
			id = strings.Trim(toks[i+1], ";")
			return
		}
	}
	return
}

func firstAddress(h mail.Header, key string) (addr string) {
	list, err := h.AddressList(key)
	if err == nil && len(list) > 0 {
		addr = list[0].Address
	}
	return
}

func addresses(h mail.Header, key string) (addrs []string) {
	list, _ := h.AddressList(key)
	for _, a := range list {
		addrs = append(addrs, a.Address)
	}
	return
}
