package verification

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/felipebianchini2006/sistemacadastro-sub001/document"
	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
	"github.com/felipebianchini2006/sistemacadastro-sub001/proposal"
	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
)

type fakeDocs struct {
	files map[string]document.File
}

func (f *fakeDocs) Get(_ context.Context, id string) (document.File, error) {
	file, ok := f.files[id]
	if !ok {
		return document.File{}, document.ErrNotFound
	}
	return file, nil
}

func (f *fakeDocs) Create(_ context.Context, params document.CreateParams) (document.File, error) {
	panic("not used")
}

func (f *fakeDocs) ListByProposal(_ context.Context, _ string) ([]document.File, error) {
	panic("not used")
}

type fakeProposals struct {
	status      proposal.Status
	identity    proposal.Identity
	transitions []proposal.TransitionParams
}

func (f *fakeProposals) Get(_ context.Context, id string) (proposal.Proposal, error) {
	return proposal.Proposal{ID: id, Status: f.status}, nil
}

func (f *fakeProposals) GetIdentity(_ context.Context, id string) (proposal.Identity, error) {
	if f.identity.ProposalID == "" {
		return proposal.Identity{}, proposal.ErrIdentityNotFound
	}
	return f.identity, nil
}

func (f *fakeProposals) Transition(_ context.Context, params proposal.TransitionParams) error {
	f.transitions = append(f.transitions, params)
	f.status = params.To
	return nil
}

func (f *fakeProposals) History(_ context.Context, id string) ([]proposal.HistoryEntry, error) {
	return nil, nil
}

type fakeResults struct {
	created []Result
}

func (f *fakeResults) Create(_ context.Context, r Result) (Result, error) {
	f.created = append(f.created, r)
	return r, nil
}

func (f *fakeResults) ListByProposal(_ context.Context, _ string) ([]Result, error) {
	return f.created, nil
}

type fakeStore struct {
	objects map[string][]byte
}

func (f *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Download(_ context.Context, key string) ([]byte, error) {
	return f.objects[key], nil
}

type fakeExtractor struct {
	text  string
	calls int
}

func (f *fakeExtractor) ExtractText(_ context.Context, _ []byte) (Extraction, error) {
	f.calls++
	return Extraction{RawText: f.text, RawResponse: []byte(`{}`)}, nil
}

func testCodec(t *testing.T) *pii.Codec {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	codec, err := pii.NewCodec(key)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return codec
}

func testIdentity(t *testing.T, codec *pii.Codec, name, cpf string) proposal.Identity {
	t.Helper()
	nameEnc, err := codec.Encrypt(name)
	if err != nil {
		t.Fatalf("encrypt name: %v", err)
	}
	return proposal.Identity{
		ProposalID: "p-1",
		NameEnc:    nameEnc,
		CPFHash:    pii.HashDigits(cpf),
	}
}

func newTestPipeline(t *testing.T, docs *fakeDocs, props *fakeProposals, results *fakeResults, extractor *fakeExtractor) *Pipeline {
	t.Helper()
	store := &fakeStore{objects: map[string][]byte{"doc-key": []byte("raw bytes")}}
	return NewPipeline(docs, props, results, store, extractor, testCodec(t), zap.NewNop(), 0.85)
}

func identityDoc() document.File {
	return document.File{
		ID:          "d-1",
		ProposalID:  "p-1",
		Type:        document.TypeCNH,
		StorageKey:  "doc-key",
		ContentType: "application/octet-stream",
	}
}

func TestProcessSkipsNonIdentityDocument(t *testing.T) {
	docs := &fakeDocs{files: map[string]document.File{"d-1": {
		ID: "d-1", ProposalID: "p-1", Type: document.TypeProofOfResidence, StorageKey: "doc-key",
	}}}
	extractor := &fakeExtractor{}
	results := &fakeResults{}
	p := newTestPipeline(t, docs, &fakeProposals{status: proposal.StatusUnderReview}, results, extractor)

	if err := p.Process(context.Background(), ProcessJob{ProposalID: "p-1", DocumentID: "d-1"}); err != nil {
		t.Fatalf("expected skip to succeed, got %v", err)
	}
	if extractor.calls != 0 {
		t.Errorf("OCR must not run for non-identity documents")
	}
	if len(results.created) != 0 {
		t.Errorf("no result row for skipped documents")
	}
}

func TestProcessForeignDocumentIsFatal(t *testing.T) {
	docs := &fakeDocs{files: map[string]document.File{"d-1": {
		ID: "d-1", ProposalID: "p-other", Type: document.TypeCNH, StorageKey: "doc-key",
	}}}
	p := newTestPipeline(t, docs, &fakeProposals{status: proposal.StatusUnderReview}, &fakeResults{}, &fakeExtractor{})

	err := p.Process(context.Background(), ProcessJob{ProposalID: "p-1", DocumentID: "d-1"})
	if !queue.IsUnrecoverable(err) {
		t.Fatalf("ownership mismatch must be fatal, got %v", err)
	}
}

func TestProcessMissingDocumentIsFatal(t *testing.T) {
	p := newTestPipeline(t, &fakeDocs{files: map[string]document.File{}},
		&fakeProposals{status: proposal.StatusUnderReview}, &fakeResults{}, &fakeExtractor{})

	err := p.Process(context.Background(), ProcessJob{ProposalID: "p-1", DocumentID: "d-1"})
	if !queue.IsUnrecoverable(err) {
		t.Fatalf("missing document must be fatal, got %v", err)
	}
}

func TestProcessMatchingDocument(t *testing.T) {
	codec := testCodec(t)
	props := &fakeProposals{
		status:   proposal.StatusUnderReview,
		identity: testIdentity(t, codec, "JOÃO DA SILVA", "123.456.789-09"),
	}
	docs := &fakeDocs{files: map[string]document.File{"d-1": identityDoc()}}
	results := &fakeResults{}
	extractor := &fakeExtractor{text: cnhSample}
	store := &fakeStore{objects: map[string][]byte{"doc-key": []byte("raw")}}
	p := NewPipeline(docs, props, results, store, extractor, codec, zap.NewNop(), 0.85)

	if err := p.Process(context.Background(), ProcessJob{ProposalID: "p-1", DocumentID: "d-1"}); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(results.created) != 1 {
		t.Fatalf("expected one result row, got %d", len(results.created))
	}
	res := results.created[0]
	if res.Mismatch {
		t.Errorf("accent-only difference must not mismatch, reasons=%v", res.MismatchReasons)
	}
	if res.NameSimilarity <= 0.85 {
		t.Errorf("name similarity = %f", res.NameSimilarity)
	}
	if !res.CPFMatch {
		t.Errorf("expected CPF hash match")
	}
	if len(props.transitions) != 0 {
		t.Errorf("no transition on match")
	}
}

func TestProcessMismatchFlipsOnce(t *testing.T) {
	codec := testCodec(t)
	props := &fakeProposals{
		status:   proposal.StatusUnderReview,
		identity: testIdentity(t, codec, "MARIA PEREIRA", "111.222.333-44"),
	}
	docs := &fakeDocs{files: map[string]document.File{"d-1": identityDoc()}}
	results := &fakeResults{}
	extractor := &fakeExtractor{text: cnhSample}
	store := &fakeStore{objects: map[string][]byte{"doc-key": []byte("raw")}}
	p := NewPipeline(docs, props, results, store, extractor, codec, zap.NewNop(), 0.85)

	job := ProcessJob{ProposalID: "p-1", DocumentID: "d-1"}
	if err := p.Process(context.Background(), job); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := p.Process(context.Background(), job); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(results.created) != 2 {
		t.Fatalf("each run must persist its own result, got %d", len(results.created))
	}
	if len(props.transitions) != 1 {
		t.Fatalf("PENDING_DOCS transition must apply at most once, got %d", len(props.transitions))
	}
	tr := props.transitions[0]
	if tr.To != proposal.StatusPendingDocs {
		t.Errorf("transition target = %s", tr.To)
	}
	if tr.Reason == "" {
		t.Errorf("transition must cite mismatch reasons")
	}
	if !results.created[0].Mismatch {
		t.Errorf("expected mismatch verdict")
	}
}

func TestProcessPastReviewDoesNotIntervene(t *testing.T) {
	codec := testCodec(t)
	props := &fakeProposals{
		status:   proposal.StatusSigned,
		identity: testIdentity(t, codec, "MARIA PEREIRA", "111.222.333-44"),
	}
	docs := &fakeDocs{files: map[string]document.File{"d-1": identityDoc()}}
	results := &fakeResults{}
	store := &fakeStore{objects: map[string][]byte{"doc-key": []byte("raw")}}
	p := NewPipeline(docs, props, results, store, &fakeExtractor{text: cnhSample}, codec, zap.NewNop(), 0.85)

	if err := p.Process(context.Background(), ProcessJob{ProposalID: "p-1", DocumentID: "d-1"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(props.transitions) != 0 {
		t.Errorf("pipeline only intervenes pre-approval")
	}
	if len(results.created) != 1 {
		t.Errorf("result row is still recorded")
	}
}
