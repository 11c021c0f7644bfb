package store

import (
	"testing"

	"github.com/emailpipe/mailpipe/lib/model"
)

func testStore(t *testing.T) Store {
	st, err := NewStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err = st.Ensure(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func addDest(t *testing.T, st Store, category string, addrs string) *model.Destination {
	d := &model.Destination{
		Category: category,
		Fields:   map[string]string{"email_to": addrs},
	}
	if err := st.AddDestination(d); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestFindDestinations(t *testing.T) {
	st := testStore(t)
	d1 := addDest(t, st, "T", "x@dest.org\nother@dest.org")
	addDest(t, st, "T", "y@dest.org")
	addDest(t, st, "U", "x@dest.org")

	ds, err := st.FindDestinations([]string{"T"}, []string{"email_to"}, "x@dest.org")
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Id != d1.Id {
		t.Errorf("%+v", ds)
	}

	// category filter applies
	ds, _ = st.FindDestinations([]string{"T", "U"}, []string{"email_to"}, "x@dest.org")
	if len(ds) != 2 {
		t.Errorf("%+v", ds)
	}

	// unknown field name matches nothing
	ds, _ = st.FindDestinations([]string{"T"}, []string{"alt_email"}, "x@dest.org")
	if len(ds) != 0 {
		t.Errorf("%+v", ds)
	}

	// matching is case insensitive
	ds, _ = st.FindDestinations([]string{"T"}, []string{"email_to"}, "X@Dest.Org")
	if len(ds) != 1 {
		t.Errorf("%+v", ds)
	}
}

func TestTrashedDestinationExcluded(t *testing.T) {
	st := testStore(t)
	d := addDest(t, st, "T", "x@dest.org")
	if err := st.TrashDestination(d.Id); err != nil {
		t.Fatal(err)
	}
	ds, _ := st.FindDestinations([]string{"T"}, []string{"email_to"}, "x@dest.org")
	if len(ds) != 0 {
		t.Error("trashed destination must not match")
	}
}

func TestReceivedLifecycle(t *testing.T) {
	st := testStore(t)
	d := addDest(t, st, "T", "x@dest.org")
	rec := &model.Received{
		DestinationId: d.Id,
		Sender:        "a@good.com",
		Subject:       "hello",
	}
	if err := st.CreateReceived(rec); err != nil {
		t.Fatal(err)
	}
	if rec.Id == 0 {
		t.Fatal("expected generated id")
	}
	if err := st.SetReceivedFile(rec.Id, "/q/processed/1.eml"); err != nil {
		t.Fatal(err)
	}

	live, err := st.LiveFiles([]string{"T"})
	if err != nil {
		t.Fatal(err)
	}
	if !live["/q/processed/1.eml"] {
		t.Errorf("%v", live)
	}

	n, err := st.DeleteReceivedByFile("/q/processed/1.eml")
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	live, _ = st.LiveFiles([]string{"T"})
	if len(live) != 0 {
		t.Errorf("%v", live)
	}
}

func TestLiveFilesSkipsTrashed(t *testing.T) {
	st := testStore(t)
	d := addDest(t, st, "T", "x@dest.org")
	rec := &model.Received{DestinationId: d.Id}
	st.CreateReceived(rec)
	st.SetReceivedFile(rec.Id, "/q/processed/1.eml")
	st.TrashDestination(d.Id)

	live, _ := st.LiveFiles([]string{"T"})
	if len(live) != 0 {
		t.Error("records under a trashed destination do not keep files alive")
	}
}

func TestLiveFilesAcrossDestinations(t *testing.T) {
	st := testStore(t)
	d1 := addDest(t, st, "T", "x@dest.org")
	d2 := addDest(t, st, "U", "y@dest.org")
	r1 := &model.Received{DestinationId: d1.Id}
	st.CreateReceived(r1)
	st.SetReceivedFile(r1.Id, "/q/processed/1.eml")
	r2 := &model.Received{DestinationId: d2.Id}
	st.CreateReceived(r2)
	st.SetReceivedFile(r2.Id, "/q/processed/2.eml")
	// never linked to a file, must not appear
	st.CreateReceived(&model.Received{DestinationId: d1.Id})

	live, err := st.LiveFiles([]string{"T"})
	if err != nil {
		t.Fatal(err)
	}
	if !live["/q/processed/1.eml"] || live["/q/processed/2.eml"] {
		t.Errorf("%v", live)
	}

	// empty category set means every category counts
	live, err = st.LiveFiles(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Errorf("%v", live)
	}
}

func TestUpdateAttachments(t *testing.T) {
	st := testStore(t)
	d := addDest(t, st, "T", "x@dest.org")
	rec := &model.Received{DestinationId: d.Id}
	st.CreateReceived(rec)
	rec.AddImage("/files/1/a.png")
	rec.AddFile("/files/1/b.pdf")
	if err := st.UpdateAttachments(rec); err != nil {
		t.Fatal(err)
	}
}
