package resolver

import (
	"github.com/emailpipe/mailpipe/lib/config"
	"github.com/emailpipe/mailpipe/lib/dedup"
	"github.com/emailpipe/mailpipe/lib/message"
	"github.com/emailpipe/mailpipe/lib/model"
	log "github.com/sirupsen/logrus"
)

type Kind int

const (
	// one or more destinations matched
	Matched = Kind(iota)
	// well formed message, nothing to route it to
	Unroutable
	// retried delivery whose recipients were all handled before
	Duplicate
)

// outcome of recipient resolution
type Resolution struct {
	Kind         Kind
	Reason       string
	Recipient    string
	Destinations []*model.Destination
}

// the slice of the record store the resolver needs
type DestinationFinder interface {
	FindDestinations(categories, fields []string, addr string) ([]*model.Destination, error)
}

// maps a message's addressing to destination records, consulting the
// duplicate cache so retried deliveries skip addresses already done
type Resolver struct {
	Store DestinationFinder
	Cache *dedup.Cache
}

// resolve a message to its destinations. hint is the transport
// supplied envelope recipient; when empty the To then Cc addresses of
// the message are tried instead.
func (r *Resolver) Resolve(msg *message.Parsed, hint string, cfg *config.Policy) (res Resolution, err error) {
	if len(cfg.CategoryTemplates) == 0 {
		res = unroutable("no parent templates selected")
		return
	}
	if len(cfg.EmailToFields) == 0 {
		res = unroutable("no valid email-to field")
		return
	}
	if hint != "" {
		return r.hinted(hint, cfg)
	}
	return r.inferred(msg, cfg)
}

// the envelope named the recipient, look it up directly
func (r *Resolver) hinted(hint string, cfg *config.Policy) (res Resolution, err error) {
	var ds []*model.Destination
	ds, err = r.Store.FindDestinations(cfg.CategoryTemplates, cfg.EmailToFields, hint)
	if err != nil {
		return
	}
	if len(ds) == 0 {
		res = unroutable("no matching destination")
		return
	}
	res = Resolution{Kind: Matched, Recipient: hint, Destinations: unique(ds)}
	return
}

// no envelope recipient: walk the To then Cc addresses. the first
// address with a match wins; a definite miss fails immediately rather
// than falling through, only addresses already resolved for this
// transport id are skipped.
func (r *Resolver) inferred(msg *message.Parsed, cfg *config.Policy) (res Resolution, err error) {
	id := msg.TransportID()
	isNew, addressed := r.Cache.CheckAndMark(id, msg.Subject())
	if isNew {
		log.Infof("new message: %s", id)
	} else {
		log.Infof("seen message before: %s", id)
	}

	addrs := append(append([]string{}, msg.To()...), msg.Cc()...)
	for _, addr := range addrs {
		if addressed[addr] {
			continue
		}
		r.Cache.MarkAddressed(id, addr)
		var ds []*model.Destination
		ds, err = r.Store.FindDestinations(cfg.CategoryTemplates, cfg.EmailToFields, addr)
		if err != nil {
			return
		}
		if len(ds) == 0 {
			res = unroutable("no matching destination")
			return
		}
		res = Resolution{Kind: Matched, Recipient: addr, Destinations: unique(ds)}
		return
	}

	// every address was handled on an earlier delivery of this id
	if !isNew && len(addrs) > 0 {
		res = Resolution{Kind: Duplicate}
		return
	}
	res = unroutable("no matching destination")
	return
}

func unroutable(reason string) Resolution {
	return Resolution{Kind: Unroutable, Reason: reason}
}

func unique(ds []*model.Destination) (out []*model.Destination) {
	seen := make(map[int64]bool)
	for _, d := range ds {
		if !seen[d.Id] {
			seen[d.Id] = true
			out = append(out, d)
		}
	}
	return
}
