package store

import (
	"sync"

	"github.com/emailpipe/mailpipe/lib/model"
	"github.com/go-xorm/xorm"
	_ "github.com/mattn/go-sqlite3"
)

// record store holding destinations and received mail records.
// the core treats destinations as opaque routing targets: identity,
// address field values and the trashed flag are all it reads.
type Store interface {
	// ensure all migrations are done
	Ensure() error

	// destinations in the given categories matching addr on any of the
	// named address fields, trashed ones excluded
	FindDestinations(categories, fields []string, addr string) ([]*model.Destination, error)
	GetDestination(id int64) (*model.Destination, error)
	AddDestination(d *model.Destination) error
	TrashDestination(id int64) error

	CreateReceived(r *model.Received) error
	// update the file back reference after the source file moved
	SetReceivedFile(id int64, fpath string) error
	// update a record's attachment path lists
	UpdateAttachments(r *model.Received) error
	// records linked to a message file
	ReceivedByFile(fpath string) ([]*model.Received, error)
	// remove records linked to a message file, returns how many
	DeleteReceivedByFile(fpath string) (int64, error)

	// message file paths still referenced by a record whose
	// destination exists and is not trashed. files outside this set
	// are orphans.
	LiveFiles(categories []string) (map[string]bool, error)

	Close() error
}

type xormStore struct {
	mu     sync.Mutex
	engine *xorm.Engine
}

// open the record store
func NewStore(dburl string) (st Store, err error) {
	var eng *xorm.Engine
	eng, err = xorm.NewEngine("sqlite3", dburl)
	if err == nil {
		st = &xormStore{engine: eng}
	}
	return
}

func (x *xormStore) Ensure() (err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	err = x.engine.Sync(new(model.Destination), new(model.Received))
	return
}

func (x *xormStore) FindDestinations(categories, fields []string, addr string) (ds []*model.Destination, err error) {
	if len(categories) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	var all []*model.Destination
	err = x.engine.Where("trashed = ?", false).In("category", toInterfaces(categories)...).Find(&all)
	if err == nil {
		for _, d := range all {
			if d.Matches(fields, addr) {
				ds = append(ds, d)
			}
		}
	}
	return
}

func (x *xormStore) GetDestination(id int64) (d *model.Destination, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var has bool
	dest := new(model.Destination)
	has, err = x.engine.ID(id).Get(dest)
	if has {
		d = dest
	}
	return
}

func (x *xormStore) AddDestination(d *model.Destination) (err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err = x.engine.InsertOne(d)
	return
}

func (x *xormStore) TrashDestination(id int64) (err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err = x.engine.ID(id).Cols("trashed").Update(&model.Destination{Trashed: true})
	return
}

func (x *xormStore) CreateReceived(r *model.Received) (err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err = x.engine.InsertOne(r)
	return
}

func (x *xormStore) SetReceivedFile(id int64, fpath string) (err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err = x.engine.ID(id).Cols("filename").Update(&model.Received{Filename: fpath})
	return
}

func (x *xormStore) UpdateAttachments(r *model.Received) (err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err = x.engine.ID(r.Id).Cols("images", "files").Update(r)
	return
}

func (x *xormStore) ReceivedByFile(fpath string) (rs []*model.Received, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	err = x.engine.Where("filename = ?", fpath).Find(&rs)
	return
}

func (x *xormStore) DeleteReceivedByFile(fpath string) (n int64, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n, err = x.engine.Where("filename = ?", fpath).Delete(new(model.Received))
	return
}

func (x *xormStore) LiveFiles(categories []string) (live map[string]bool, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	live = make(map[string]bool)
	cats := make(map[string]bool)
	for _, c := range categories {
		cats[c] = true
	}
	// both tables are read whole and joined in memory. a destination
	// lookup nested inside an open result set would need a second pool
	// connection, which a :memory: database does not share.
	var recs []*model.Received
	err = x.engine.Find(&recs)
	if err != nil {
		return
	}
	var dests []*model.Destination
	err = x.engine.Find(&dests)
	if err != nil {
		return
	}
	byId := make(map[int64]*model.Destination)
	for _, d := range dests {
		byId[d.Id] = d
	}
	for _, r := range recs {
		if r.Filename == "" {
			continue
		}
		d := byId[r.DestinationId]
		if d != nil && !d.Trashed && (len(cats) == 0 || cats[d.Category]) {
			live[r.Filename] = true
		}
	}
	return
}

func (x *xormStore) Close() error {
	return x.engine.Close()
}

func toInterfaces(in []string) (out []interface{}) {
	for _, s := range in {
		out = append(out, s)
	}
	return
}
