package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emailpipe/mailpipe/lib/message"
	"github.com/emailpipe/mailpipe/lib/model"
	"github.com/emailpipe/mailpipe/lib/resolver"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// attachment extensions routed to the images binding, everything else
// goes to the files binding
var imageExts = map[string]bool{
	"gif":  true,
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"peg":  true,
}

// create one received mail record per matched destination, mapping
// message parts onto the configured field bindings
func (p *Pipeline) persist(msg *message.Parsed, res resolver.Resolution, from string) (recs []*model.Received, err error) {
	body, html := p.body(msg)
	summary := msg.AddressSummary()
	for _, dest := range res.Destinations {
		rec := &model.Received{
			DestinationId: dest.Id,
			HTML:          html,
		}
		if p.Cfg.FromField != "" {
			rec.Sender = from
		}
		if p.Cfg.AddresseesField != "" {
			rec.Addressees = summary
		}
		if p.Cfg.SubjectField != "" {
			rec.Subject = msg.Subject()
		}
		if p.Cfg.BodyField != "" {
			rec.Body = body
		}
		err = p.Store.CreateReceived(rec)
		if err != nil {
			return
		}
		err = p.saveAttachments(msg, rec)
		if err != nil {
			return
		}
		recs = append(recs, rec)
	}
	return
}

// pick the stored body: sanitized html when the body binding is html
// typed and the message actually carries html, plain text otherwise
func (p *Pipeline) body(msg *message.Parsed) (body string, html bool) {
	plain := strings.HasPrefix(msg.Get("Content-Type"), "text/plain")
	if p.Cfg.BodyHTML && msg.HTML != "" && !plain {
		body = p.Clean.Clean(msg.HTML)
		html = true
		return
	}
	body = msg.Text
	return
}

// extract attachments into the record's file directory. a part whose
// needed binding is not configured is dropped with a warning, it does
// not fail the message.
func (p *Pipeline) saveAttachments(msg *message.Parsed, rec *model.Received) (err error) {
	if len(msg.Attachments) == 0 {
		return
	}
	dir := filepath.Join(p.FilesDir, fmt.Sprintf("%d", rec.Id))
	changed := false
	for i, part := range msg.Attachments {
		name := cleanFilename(part.Filename)
		if name == "" {
			name = "unknown-" + uuid.NewString()
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		image := imageExts[ext]
		if image && p.Cfg.ImagesField == "" {
			log.Warnf("no field selected for image attachments, unable to save part %d", i)
			continue
		}
		if !image && p.Cfg.FilesField == "" {
			log.Warnf("no field selected for file attachments, unable to save part %d", i)
			continue
		}
		err = os.MkdirAll(dir, 0750)
		if err != nil {
			return
		}
		fpath := filepath.Join(dir, name)
		err = writeStream(fpath, bytes.NewReader(part.Data))
		if err != nil {
			return
		}
		if image {
			rec.AddImage(fpath)
		} else {
			rec.AddFile(fpath)
		}
		changed = true
	}
	if changed {
		err = p.Store.UpdateAttachments(rec)
	}
	return
}

// copy a part to disk, the destination stream is closed on every path
func writeStream(fpath string, r io.Reader) (err error) {
	var f *os.File
	f, err = os.Create(fpath)
	if err == nil {
		_, err = io.Copy(f, r)
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
	}
	return
}

// keep attachment names shell and filesystem safe
func cleanFilename(name string) string {
	name = strings.ToLower(filepath.Base(name))
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
