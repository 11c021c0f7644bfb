package pipeline

import (
	"os"

	"github.com/emailpipe/mailpipe/lib/mailfile"
	"github.com/emailpipe/mailpipe/lib/message"
	"github.com/emailpipe/mailpipe/lib/queuedir"
	log "github.com/sirupsen/logrus"
)

// reprocess trigger boundary: configuration or a destination record
// changed, so every parked failure gets another chance. files are
// re-queued from quarantine, unknown and bad and redriven.
func (p *Pipeline) Reprocess() (err error) {
	for _, st := range queuedir.FailStates {
		var files []string
		files, err = p.Queue.List(st)
		if err != nil {
			return
		}
		for _, fpath := range files {
			if _, merr := p.Queue.MoveTo(fpath, queuedir.Queue); merr != nil {
				log.Warnf("could not requeue %s: %s", fpath, merr.Error())
			}
		}
	}
	err = p.Drain()
	return
}

// operator action: move one failed or orphaned file back to the queue
// and run it through the pipeline again
func (p *Pipeline) Redrive(fpath string) (d Disposition, err error) {
	var queued string
	queued, err = p.Queue.MoveTo(fpath, queuedir.Queue)
	if err == nil && queued != "" {
		d = p.ProcessFile(queued)
	}
	return
}

// operator action: re-admit a quarantined message without it failing
// the same check again. the bypass token is the file's own timestamp
// stem, which survives the rename back into the queue.
func (p *Pipeline) Unspam(fpath string) (d Disposition, err error) {
	err = mailfile.Inject(fpath, mailfile.HdrNotSpam, mailfile.Stem(fpath))
	if err == nil {
		d, err = p.Redrive(fpath)
	}
	return
}

// operator action: remove a message file and any record linked to it
func (p *Pipeline) Delete(fpath string) (err error) {
	var n int64
	n, err = p.Store.DeleteReceivedByFile(fpath)
	if err != nil {
		return
	}
	if n > 0 {
		log.Infof("deleted %d records linked to %s", n, fpath)
	}
	err = p.Queue.Remove(fpath)
	return
}

// one reporting row per message file in a state directory
type Summary struct {
	File    string
	To      string
	From    string
	Subject string
	Date    string
	Reason  string
}

// summarize a state directory for the operator report. quarantined
// and bad files carry their routing reason in the injected header.
func (p *Pipeline) Summarize(st queuedir.State) (rows []Summary, err error) {
	var files []string
	files, err = p.Queue.List(st)
	if err != nil {
		return
	}
	for _, fpath := range files {
		f, oerr := os.Open(fpath)
		if oerr != nil {
			continue
		}
		msg, perr := message.Parse(f)
		f.Close()
		if perr != nil {
			rows = append(rows, Summary{File: fpath, Reason: perr.Error()})
			continue
		}
		row := Summary{
			File:    fpath,
			To:      msg.AddressSummary(),
			From:    msg.From(),
			Subject: msg.Subject(),
			Date:    msg.Get("Date"),
		}
		switch st {
		case queuedir.Quarantine:
			row.Reason = lastValue(msg, mailfile.HdrQuarantineReason)
		case queuedir.Bad:
			row.Reason = lastValue(msg, mailfile.HdrBadReason)
		}
		rows = append(rows, row)
	}
	return
}

func lastValue(msg *message.Parsed, name string) (val string) {
	vals := msg.Values(name)
	if len(vals) > 0 {
		val = vals[len(vals)-1]
	}
	return
}
