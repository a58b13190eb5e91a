package document

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"testing"
	"time"

	"github.com/trezcool/darasa/core"
)

type fakeDocRepo struct {
	table map[string]Document
	pk    int
}

func newFakeDocRepo() *fakeDocRepo { return &fakeDocRepo{table: make(map[string]Document)} }

func (r *fakeDocRepo) CreateDocument(_ context.Context, doc Document) (Document, error) {
	r.pk++
	doc.ID = fmt.Sprintf("doc%d", r.pk)
	r.table[doc.ID] = doc
	return doc, nil
}

func (r *fakeDocRepo) GetDocumentByID(_ context.Context, id string) (Document, error) {
	if doc, ok := r.table[id]; ok {
		return doc, nil
	}
	return Document{}, ErrNotFound
}

func (r *fakeDocRepo) QueryDocuments(_ context.Context, filter QueryFilter, _ ...core.DBOrdering) ([]Document, error) {
	docs := make([]Document, 0, len(r.table))
	for _, doc := range r.table {
		if filter.OwnerID != "" && doc.OwnerID != filter.OwnerID {
			continue
		}
		if filter.AssignmentID != "" && doc.AssignmentID != filter.AssignmentID {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *fakeDocRepo) UpdateDocument(_ context.Context, doc Document) (Document, error) {
	if _, ok := r.table[doc.ID]; !ok {
		return Document{}, ErrNotFound
	}
	r.table[doc.ID] = doc
	return doc, nil
}

type fakeHistoryRepo struct {
	entries []HistoryEntry
	pk      int
	inserts int
	updates int
}

func (r *fakeHistoryRepo) InsertEntry(_ context.Context, entry HistoryEntry) (HistoryEntry, error) {
	r.pk++
	r.inserts++
	entry.ID = fmt.Sprintf("h%d", r.pk)
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *fakeHistoryRepo) UpdateEntry(_ context.Context, entry HistoryEntry) (HistoryEntry, error) {
	r.updates++
	for i, e := range r.entries {
		if e.ID == entry.ID {
			r.entries[i] = entry
			return entry, nil
		}
	}
	return HistoryEntry{}, ErrNoHistory
}

func (r *fakeHistoryRepo) GetLatestEntry(_ context.Context, docID string) (HistoryEntry, error) {
	var latest *HistoryEntry
	for i := range r.entries {
		e := r.entries[i]
		if e.DocumentID != docID {
			continue
		}
		if latest == nil || !e.CreatedAt.Before(latest.CreatedAt) {
			latest = &r.entries[i]
		}
	}
	if latest == nil {
		return HistoryEntry{}, ErrNoHistory
	}
	return *latest, nil
}

func (r *fakeHistoryRepo) GetEntries(_ context.Context, docID string) ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.DocumentID == docID {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

type fakeEmailService struct {
	sent []*core.EmailMessage
}

func (svc *fakeEmailService) SendMessages(messages ...*core.EmailMessage) {
	svc.sent = append(svc.sent, messages...)
}

func newTestService() (*Service, *fakeHistoryRepo, *fakeEmailService) {
	histRepo := &fakeHistoryRepo{}
	mailSvc := &fakeEmailService{}
	conf := &core.Config{Document: core.DocumentConfig{CoalesceWindow: 30 * time.Second}}
	return NewService(newFakeDocRepo(), histRepo, mailSvc, conf), histRepo, mailSvc
}

// setNow pins NowFunc to a mutable clock; returns an advance func and a reset.
func setNow(start time.Time) (advance func(d time.Duration), reset func()) {
	now := start
	NowFunc = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }, func() { NowFunc = time.Now }
}

// essay returns a content tree big enough that single-paragraph edits diff
// into patch rows rather than tripping the snapshot size heuristic.
func essay(texts ...string) map[string]interface{} {
	paras := []string{"one two three", "four five six", "seven eight nine", "ten eleven twelve"}
	return doc(append(paras, texts...)...)
}

func TestServicePersistNoop(t *testing.T) {
	svc, histRepo, _ := newTestService()
	ctx := context.Background()

	entry, err := svc.Persist(ctx, "doc1", essay(), essay(), TriggerAutosave, time.Minute, TreeMetrics(0, 0))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if entry != nil {
		t.Errorf("Persist() = %v, want nil for unchanged content", entry)
	}
	if histRepo.inserts+histRepo.updates != 0 {
		t.Errorf("Persist() performed %d writes, want 0", histRepo.inserts+histRepo.updates)
	}
}

func TestServicePersistBaselineFallback(t *testing.T) {
	svc, histRepo, _ := newTestService()
	ctx := context.Background()

	entry, err := svc.Persist(ctx, "doc1", doc(), essay(), TriggerAutosave, time.Minute, TreeMetrics(0, 0))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if entry == nil || !entry.IsSnapshot() {
		t.Fatalf("Persist() first-ever save = %+v, want a snapshot entry", entry)
	}
	if entry.Patch != nil {
		t.Errorf("baseline entry carries a patch: %v", entry.Patch)
	}
	if histRepo.inserts != 1 {
		t.Errorf("inserts = %d, want 1", histRepo.inserts)
	}
}

func TestServicePersistCoalescing(t *testing.T) {
	svc, histRepo, _ := newTestService()
	ctx := context.Background()
	advance, reset := setNow(time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC))
	defer reset()

	v0, v1, v2 := essay(), essay("a"), essay("a b")
	if _, err := svc.InsertBaseline(ctx, "doc1", v0, TriggerBaseline, TreeMetrics(0, 0)); err != nil {
		t.Fatalf("InsertBaseline() error = %v", err)
	}

	// a save past the window opens a new row...
	advance(time.Minute)
	if _, err := svc.Persist(ctx, "doc1", v0, v1, TriggerAutosave, 30*time.Second, TreeMetrics(3, 10)); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	// ...and a rapid follow-up save folds into it
	advance(5 * time.Second)
	entry, err := svc.Persist(ctx, "doc1", v1, v2, TriggerAutosave, 30*time.Second, TreeMetrics(2, 7))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	entries, _ := histRepo.GetEntries(ctx, "doc1")
	if len(entries) != 2 { // baseline + one coalesced row
		t.Fatalf("history has %d rows, want 2", len(entries))
	}
	if histRepo.inserts != 2 || histRepo.updates != 1 {
		t.Errorf("inserts/updates = %d/%d, want 2/1", histRepo.inserts, histRepo.updates)
	}
	if !entry.IsSnapshot() || entry.Patch != nil {
		t.Errorf("coalesced row = %+v, want snapshot-only", entry)
	}
	if !deepEqual(entry.Snapshot, v2) {
		t.Errorf("coalesced snapshot = %#v, want latest content", entry.Snapshot)
	}
	if entry.PasteWordCount == nil || *entry.PasteWordCount != 5 {
		t.Errorf("PasteWordCount = %v, want accumulated 5", entry.PasteWordCount)
	}
	if entry.KeystrokeCount == nil || *entry.KeystrokeCount != 17 {
		t.Errorf("KeystrokeCount = %v, want accumulated 17", entry.KeystrokeCount)
	}
	if want := TreeMetrics(0, 0)(v2).WordCount; entry.WordCount != want {
		t.Errorf("WordCount = %d, want recomputed %d", entry.WordCount, want)
	}
}

func TestServicePersistNewRowPastWindow(t *testing.T) {
	svc, histRepo, _ := newTestService()
	ctx := context.Background()
	advance, reset := setNow(time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC))
	defer reset()

	v0, v1 := essay(), essay("a")
	if _, err := svc.InsertBaseline(ctx, "doc1", v0, TriggerBaseline, TreeMetrics(0, 0)); err != nil {
		t.Fatalf("InsertBaseline() error = %v", err)
	}

	advance(time.Minute)
	entry, err := svc.Persist(ctx, "doc1", v0, v1, TriggerAutosave, 30*time.Second, TreeMetrics(4, 9))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if histRepo.inserts != 2 || histRepo.updates != 0 {
		t.Fatalf("inserts/updates = %d/%d, want 2/0", histRepo.inserts, histRepo.updates)
	}
	if entry.IsSnapshot() {
		t.Errorf("small edit stored a snapshot, want a patch")
	}
	if entry.PasteWordCount == nil || *entry.PasteWordCount != 4 {
		t.Errorf("PasteWordCount = %v, want fresh 4 (not accumulated)", entry.PasteWordCount)
	}
}

func TestServicePersistSnapshotCadence(t *testing.T) {
	svc, histRepo, _ := newTestService()
	ctx := context.Background()
	advance, reset := setNow(time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC))
	defer reset()

	paras := make([]string, 20)
	for i := range paras {
		paras[i] = fmt.Sprintf("paragraph number %d with some filler words", i)
	}
	content := doc(paras...)
	if _, err := svc.InsertBaseline(ctx, "doc1", content, TriggerBaseline, TreeMetrics(0, 0)); err != nil {
		t.Fatalf("InsertBaseline() error = %v", err)
	}

	// long run of small edits, each outside the coalesce window
	for i := 0; i < 3*snapshotCadence; i++ {
		advance(time.Minute)
		paras[i%len(paras)] = fmt.Sprintf("paragraph number %d revised at pass %d", i%len(paras), i)
		next := doc(paras...)
		if _, err := svc.Persist(ctx, "doc1", content, next, TriggerAutosave, 30*time.Second, TreeMetrics(0, 2)); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		content = next
	}

	// replay chains must stay bounded: no patch run may exceed the cadence
	entries, _ := histRepo.GetEntries(ctx, "doc1")
	var run, snapshots int
	for _, e := range entries {
		if e.IsSnapshot() {
			snapshots++
			run = 0
			continue
		}
		run++
		if run > snapshotCadence {
			t.Fatalf("found %d consecutive patch rows, cadence is %d", run, snapshotCadence)
		}
	}
	if snapshots < 3 {
		t.Errorf("snapshots = %d, want periodic snapshots over %d saves", snapshots, 3*snapshotCadence)
	}
}

func TestReconstructChain(t *testing.T) {
	svc, histRepo, _ := newTestService()
	ctx := context.Background()
	advance, reset := setNow(time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC))
	defer reset()

	versions := []map[string]interface{}{
		essay(),
		essay("thirteen"),
		essay("thirteen fourteen"),
		essay("thirteen fourteen", "fifteen"),
		doc("a clean slate"), // heavy rewrite
		doc("a clean slate", "once more"),
	}

	ids := make([]string, 0, len(versions))
	baseline, err := svc.InsertBaseline(ctx, "doc1", versions[0], TriggerBaseline, TreeMetrics(0, 0))
	if err != nil {
		t.Fatalf("InsertBaseline() error = %v", err)
	}
	ids = append(ids, baseline.ID)

	for i := 1; i < len(versions); i++ {
		advance(time.Minute)
		entry, err := svc.Persist(ctx, "doc1", versions[i-1], versions[i], TriggerAutosave, 30*time.Second, TreeMetrics(0, 0))
		if err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		ids = append(ids, entry.ID)
	}

	entries, _ := histRepo.GetEntries(ctx, "doc1")
	for i, id := range ids {
		got := Reconstruct(entries, id)
		if !deepEqual(got, versions[i]) {
			t.Errorf("Reconstruct(entries, %q) = %#v, want version %d %#v", id, got, i, versions[i])
		}
	}
}

func TestReconstructNotFound(t *testing.T) {
	if got := Reconstruct(nil, "nope"); got != nil {
		t.Errorf("Reconstruct(nil, ...) = %v, want nil", got)
	}

	entries := []HistoryEntry{{ID: "h1", DocumentID: "doc1", Snapshot: doc("a"), CreatedAt: time.Now()}}
	if got := Reconstruct(entries, "nope"); got != nil {
		t.Errorf("Reconstruct() with unknown id = %v, want nil", got)
	}
}

func TestReconstructNoAnchor(t *testing.T) {
	// patch-only history: nothing to anchor the replay
	entries := []HistoryEntry{
		{ID: "h1", DocumentID: "doc1", Patch: Patch{{Op: OpReplace, Path: "/type", Value: "doc"}}, CreatedAt: time.Now()},
	}
	if got := Reconstruct(entries, "h1"); got != nil {
		t.Errorf("Reconstruct() without snapshot anchor = %v, want nil", got)
	}
}

func TestReconstructBrokenChainContainment(t *testing.T) {
	base := time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []HistoryEntry{
		{ID: "h1", DocumentID: "doc1", Snapshot: essay(), CreatedAt: base},
		{ID: "h2", DocumentID: "doc1", Patch: CreatePatch(essay(), essay("a")), CreatedAt: base.Add(time.Minute)},
		// corrupted: path points outside the tree
		{ID: "h3", DocumentID: "doc1", Patch: Patch{{Op: OpReplace, Path: "/content/9/text", Value: "zz"}}, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "h4", DocumentID: "doc1", Patch: CreatePatch(essay("a b"), essay("a b c")), CreatedAt: base.Add(3 * time.Minute)},
	}

	if got := Reconstruct(entries, "h2"); !deepEqual(got, essay("a")) {
		t.Errorf("Reconstruct() before the break = %#v, want %#v", got, essay("a"))
	}
	for _, id := range []string{"h3", "h4"} {
		if got := Reconstruct(entries, id); got != nil {
			t.Errorf("Reconstruct(entries, %q) = %v, want nil at/after the break", id, got)
		}
	}
}

func TestServiceSaveAndContentAt(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	advance, reset := setNow(time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC))
	defer reset()

	created, err := svc.Create(ctx, "student1", NewDocument{Title: "Essay", Content: essay()}, TreeMetrics(0, 0))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	advance(time.Minute)
	saved, entry, err := svc.Save(ctx, created, SaveDocument{Content: essay("a"), Trigger: TriggerAutosave})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if entry == nil {
		t.Fatal("Save() entry = nil, want a history row")
	}
	if !deepEqual(saved.Content, essay("a")) {
		t.Errorf("Save() content = %#v, want updated", saved.Content)
	}

	got, err := svc.ContentAt(ctx, created.ID, entry.ID)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if !deepEqual(got, essay("a")) {
		t.Errorf("ContentAt() = %#v, want %#v", got, essay("a"))
	}

	if _, err = svc.ContentAt(ctx, created.ID, "nope"); err != ErrBadHistory {
		t.Errorf("ContentAt() with unknown entry error = %v, want ErrBadHistory", err)
	}
}

func TestServiceRestore(t *testing.T) {
	svc, histRepo, _ := newTestService()
	ctx := context.Background()
	advance, reset := setNow(time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC))
	defer reset()

	created, err := svc.Create(ctx, "student1", NewDocument{Title: "Essay", Content: essay()}, TreeMetrics(0, 0))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	entries, _ := histRepo.GetEntries(ctx, created.ID)
	baselineID := entries[0].ID

	advance(time.Minute)
	saved, _, err := svc.Save(ctx, created, SaveDocument{Content: essay("a"), Trigger: TriggerAutosave})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	advance(time.Minute)
	restored, err := svc.Restore(ctx, saved, baselineID)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !deepEqual(restored.Content, essay()) {
		t.Errorf("Restore() content = %#v, want baseline content", restored.Content)
	}

	entries, _ = histRepo.GetEntries(ctx, created.ID)
	last := entries[len(entries)-1]
	if !last.IsSnapshot() || last.Trigger != TriggerRestore {
		t.Errorf("restore row = %+v, want a %q snapshot", last, TriggerRestore)
	}
}

func TestServiceSubmit(t *testing.T) {
	svc, histRepo, mailSvc := newTestService()
	ctx := context.Background()
	advance, reset := setNow(time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC))
	defer reset()

	created, err := svc.Create(ctx, "student1", NewDocument{Title: "Essay", Content: essay()}, TreeMetrics(0, 0))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	advance(time.Minute)
	recipient := mail.Address{Name: "Hero", Address: "hero@test.cd"}
	submitted, err := svc.Submit(ctx, created, SaveDocument{Content: essay("done")}, recipient)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if submitted.SubmittedAt.IsZero() {
		t.Error("Submit() did not stamp SubmittedAt")
	}

	entries, _ := histRepo.GetEntries(ctx, created.ID)
	last := entries[len(entries)-1]
	if last.Trigger != TriggerSubmit {
		t.Errorf("last history trigger = %q, want %q", last.Trigger, TriggerSubmit)
	}
	if len(mailSvc.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(mailSvc.sent))
	}
	if to := mailSvc.sent[0].To[0]; to != recipient {
		t.Errorf("receipt sent to %v, want %v", to, recipient)
	}

	if _, err = svc.Submit(ctx, submitted, SaveDocument{Content: essay("more")}, recipient); err != ErrIsSubmitted {
		t.Errorf("second Submit() error = %v, want ErrIsSubmitted", err)
	}
}
