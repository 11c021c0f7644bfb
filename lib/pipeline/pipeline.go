package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emailpipe/mailpipe/lib/config"
	"github.com/emailpipe/mailpipe/lib/dedup"
	"github.com/emailpipe/mailpipe/lib/mailfile"
	"github.com/emailpipe/mailpipe/lib/message"
	"github.com/emailpipe/mailpipe/lib/policy"
	"github.com/emailpipe/mailpipe/lib/queuedir"
	"github.com/emailpipe/mailpipe/lib/resolver"
	"github.com/emailpipe/mailpipe/lib/sanitize"
	"github.com/emailpipe/mailpipe/lib/store"
	log "github.com/sirupsen/logrus"
)

// where a message file ended up after one pass through the pipeline.
// exactly one of State or Deleted is meaningful. both zero with no
// reason means another run already handled the file; a reason without
// a state means the relocation failed and the file stayed where it
// was, to be retried on the next drain.
type Disposition struct {
	State   queuedir.State
	Deleted bool
	Reason  string
}

// drives each message file through parse, policy, resolve, persist
// and relocate. one file is handled fully before the next is opened.
type Pipeline struct {
	Queue    queuedir.Root
	Store    store.Store
	Cache    *dedup.Cache
	Cfg      *config.Policy
	Eval     *policy.Evaluator
	Resolver *resolver.Resolver
	Clean    sanitize.Cleaner
	// directory receiving extracted attachments, one subdir per record
	FilesDir string
}

func New(q queuedir.Root, st store.Store, cache *dedup.Cache, cfg *config.Policy, filesDir string) *Pipeline {
	return &Pipeline{
		Queue:    q,
		Store:    st,
		Cache:    cache,
		Cfg:      cfg,
		Eval:     policy.NewEvaluator(cfg),
		Resolver: &resolver.Resolver{Store: st, Cache: cache},
		Clean:    sanitize.New(),
		FilesDir: filesDir,
	}
}

// process every file currently in the queue. each file present at
// scan time is attempted exactly once; files that vanish mid-run were
// taken by someone else and are skipped without error.
func (p *Pipeline) Drain() (err error) {
	var files []string
	files, err = p.Queue.List(queuedir.Queue)
	if err != nil {
		return
	}
	for _, fpath := range files {
		p.ProcessFile(fpath)
	}
	return
}

// run one message file through the pipeline to a terminal state.
// every exit relocates or deletes the file; a file that cannot be
// classified at all still lands in bad rather than staying queued.
func (p *Pipeline) ProcessFile(fpath string) (d Disposition) {
	log.Infof("processing file: %s", fpath)
	defer func() {
		if r := recover(); r != nil {
			d = p.bad(fpath, "", fmt.Sprintf("%v: could not process file", r))
		}
	}()

	raw, err := os.ReadFile(fpath)
	if err != nil {
		if os.IsNotExist(err) {
			// already handled by a concurrent run
			return
		}
		d = p.bad(fpath, "", err.Error())
		return
	}
	msg, err := message.Parse(bytes.NewReader(raw))
	if err != nil {
		d = p.bad(fpath, "", err.Error())
		return
	}

	// envelope values injected at the ingestion boundary outrank the
	// spoofable From/To headers
	recipient := strings.TrimSpace(msg.Get(mailfile.HdrRecipient))
	from := strings.TrimSpace(msg.Get(mailfile.HdrSender))
	if from == "" {
		from = msg.From()
	}
	if from == "" {
		d = p.bad(fpath, "", "no sender")
		return
	}

	// a bypass header only counts when its token equals the file's
	// own timestamp stem, a forged or stale one stops matching
	token := strings.TrimSpace(msg.Get(mailfile.HdrNotSpam))
	bypass := token != "" && token == mailfile.Stem(fpath)
	if bypass {
		log.Infof("notspam token matches for %s, skipping sender checks", fpath)
	}

	if !bypass {
		if v := p.Eval.CheckSender(from, nil); !v.Allow {
			d = p.quarantine(fpath, from, v.Reason)
			return
		}
		if v := p.Eval.Authenticate(msg, raw, from); !v.Allow {
			d = p.quarantine(fpath, from, v.Reason)
			return
		}
	}

	res, err := p.Resolver.Resolve(msg, recipient, p.Cfg)
	if err != nil {
		d = p.bad(fpath, from, err.Error())
		return
	}
	switch res.Kind {
	case resolver.Unroutable:
		d = p.unknown(fpath, res.Reason)
		return
	case resolver.Duplicate:
		d = p.duplicate(msg, fpath)
		return
	}

	// a sender allowed globally can still be denied for one specific
	// destination; any denial quarantines the whole message, nothing
	// is partially persisted
	if !bypass {
		for _, dest := range res.Destinations {
			if v := p.Eval.CheckSender(from, dest); !v.Allow {
				log.Infof("invalid sender: %s for destination %d", from, dest.Id)
				d = p.quarantine(fpath, from, v.Reason)
				return
			}
		}
	}

	recs, err := p.persist(msg, res, from)
	if err != nil {
		d = p.bad(fpath, from, err.Error()+": could not persist record")
		return
	}

	// the file moves once, shared provenance for every created record
	newpath, err := p.Queue.MoveTo(fpath, queuedir.Processed)
	if err != nil {
		d = p.bad(fpath, from, err.Error())
		return
	}
	if newpath != "" {
		for _, rec := range recs {
			if serr := p.Store.SetReceivedFile(rec.Id, newpath); serr != nil {
				log.Warnf("could not link record %d to %s: %s", rec.Id, newpath, serr.Error())
			}
		}
	}
	log.WithFields(log.Fields{
		"file":    filepath.Base(fpath),
		"from":    from,
		"to":      res.Recipient,
		"records": len(recs),
	}).Info("message processed")
	d = Disposition{State: queuedir.Processed}
	return
}

// a resolution signalled a duplicate delivery. delete the file only
// when a processed counterpart actually exists, by filename or by
// transport id (relays can delay one copy under a different name);
// otherwise fall back to unknown.
func (p *Pipeline) duplicate(msg *message.Parsed, fpath string) (d Disposition) {
	counterpart := p.Queue.PathIn(fpath, queuedir.Processed)
	if _, err := os.Stat(counterpart); err == nil {
		p.Queue.Remove(fpath)
		log.Infof("duplicate email: %s - deleted", fpath)
		d = Disposition{Deleted: true}
		return
	}
	id := msg.TransportID()
	if id != "" {
		files, _ := p.Queue.List(queuedir.Processed)
		// newest first, a match is most likely recent
		for i := len(files) - 1; i >= 0; i-- {
			if p.sameTransportID(files[i], id) {
				p.Queue.Remove(fpath)
				log.Infof("duplicate email - id: %s - deleted", id)
				d = Disposition{Deleted: true}
				return
			}
		}
	}
	d = p.unknown(fpath, "no matching destination")
	return
}

func (p *Pipeline) sameTransportID(fpath, id string) (same bool) {
	f, err := os.Open(fpath)
	if err != nil {
		return
	}
	defer f.Close()
	prev, err := message.Parse(f)
	if err == nil {
		same = prev.TransportID() == id
	}
	return
}

// ingestion boundary: write raw bytes as a new queue file. envelope
// recipient and sender, when the transport knows them, are recorded
// as synthetic headers ahead of the first blank line.
func (p *Pipeline) Ingest(r io.Reader, recipient, sender string) (fpath string, err error) {
	var raw []byte
	raw, err = io.ReadAll(r)
	if err != nil {
		return
	}
	if sender != "" {
		raw = injectOrKeep(raw, mailfile.HdrSender, sender)
	}
	if recipient != "" {
		raw = injectOrKeep(raw, mailfile.HdrRecipient, recipient)
	}
	fpath, err = p.Queue.Enqueue(bytes.NewReader(raw))
	if err == nil {
		log.Infof("queued message file: %s", fpath)
	}
	return
}

func injectOrKeep(raw []byte, name, value string) []byte {
	out, ok := mailfile.InjectBytes(raw, name, value)
	if !ok {
		log.Warnf("no header end found, not injecting %s", name)
		return raw
	}
	return out
}

// routing helpers. every routing decision relocates the file and is
// logged with filename, reason and sender where known.

func (p *Pipeline) quarantine(fpath, from, reason string) Disposition {
	log.WithFields(log.Fields{
		"file":   filepath.Base(fpath),
		"from":   from,
		"reason": reason,
	}).Info("quarantining message")
	if err := mailfile.Inject(fpath, mailfile.HdrQuarantineReason, reason); err != nil {
		log.Warnf("error recording quarantine reason: %s", err.Error())
	}
	if _, err := p.Queue.MoveTo(fpath, queuedir.Quarantine); err != nil {
		log.Errorf("could not move %s to quarantine: %s", fpath, err.Error())
		return Disposition{Reason: reason}
	}
	return Disposition{State: queuedir.Quarantine, Reason: reason}
}

func (p *Pipeline) unknown(fpath, reason string) Disposition {
	log.WithFields(log.Fields{
		"file":   filepath.Base(fpath),
		"reason": reason,
	}).Info("no recipient found, moving message to unknown")
	if _, err := p.Queue.MoveTo(fpath, queuedir.Unknown); err != nil {
		log.Errorf("could not move %s to unknown: %s", fpath, err.Error())
		return Disposition{Reason: reason}
	}
	return Disposition{State: queuedir.Unknown, Reason: reason}
}

func (p *Pipeline) bad(fpath, from, reason string) Disposition {
	if _, err := os.Stat(fpath); err != nil {
		// nothing left to relocate
		return Disposition{}
	}
	log.WithFields(log.Fields{
		"file":   filepath.Base(fpath),
		"from":   from,
		"reason": reason,
	}).Warn("bad message")
	if err := mailfile.Inject(fpath, mailfile.HdrBadReason, reason); err != nil {
		log.Warnf("error recording bad reason: %s", err.Error())
	}
	if _, err := p.Queue.MoveTo(fpath, queuedir.Bad); err != nil {
		log.Errorf("could not move %s to bad: %s", fpath, err.Error())
		return Disposition{Reason: reason}
	}
	return Disposition{State: queuedir.Bad, Reason: reason}
}
