package signature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/felipebianchini2006/sistemacadastro-sub001/config"
	"github.com/felipebianchini2006/sistemacadastro-sub001/document"
	"github.com/felipebianchini2006/sistemacadastro-sub001/notification"
	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
	"github.com/felipebianchini2006/sistemacadastro-sub001/proposal"
	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
)

type fakeProposals struct {
	status   proposal.Status
	identity proposal.Identity
}

func (f *fakeProposals) Get(_ context.Context, id string) (proposal.Proposal, error) {
	if f.status == "" {
		return proposal.Proposal{}, proposal.ErrNotFound
	}
	return proposal.Proposal{ID: id, Status: f.status}, nil
}

func (f *fakeProposals) GetIdentity(_ context.Context, _ string) (proposal.Identity, error) {
	if f.identity.ProposalID == "" {
		return proposal.Identity{}, proposal.ErrIdentityNotFound
	}
	return f.identity, nil
}

func (f *fakeProposals) Transition(_ context.Context, params proposal.TransitionParams) error {
	f.status = params.To
	return nil
}

func (f *fakeProposals) History(_ context.Context, _ string) ([]proposal.HistoryEntry, error) {
	return nil, nil
}

type fakeDocs struct {
	files   map[string]document.File
	created []document.File
	nextID  int
}

func (f *fakeDocs) Get(_ context.Context, id string) (document.File, error) {
	file, ok := f.files[id]
	if !ok {
		return document.File{}, document.ErrNotFound
	}
	return file, nil
}

func (f *fakeDocs) Create(_ context.Context, params document.CreateParams) (document.File, error) {
	f.nextID++
	file := document.File{
		ID:          fmt.Sprintf("doc-%d", f.nextID),
		ProposalID:  params.ProposalID,
		Type:        params.Type,
		StorageKey:  params.StorageKey,
		ContentType: params.ContentType,
		SHA256:      params.SHA256,
	}
	if f.files == nil {
		f.files = map[string]document.File{}
	}
	f.files[file.ID] = file
	f.created = append(f.created, file)
	return file, nil
}

func (f *fakeDocs) ListByProposal(_ context.Context, _ string) ([]document.File, error) {
	panic("not used")
}

type fakeEnvelopes struct {
	envelopes map[string]Envelope
}

func (f *fakeEnvelopes) Create(_ context.Context, env Envelope) (Envelope, error) {
	env.ID = "row-1"
	if f.envelopes == nil {
		f.envelopes = map[string]Envelope{}
	}
	f.envelopes[env.ProposalID] = env
	return env, nil
}

func (f *fakeEnvelopes) GetByProposal(_ context.Context, proposalID string) (Envelope, error) {
	env, ok := f.envelopes[proposalID]
	if !ok {
		return Envelope{}, ErrEnvelopeNotFound
	}
	return env, nil
}

func (f *fakeEnvelopes) GetByEnvelopeID(_ context.Context, envelopeID string) (Envelope, error) {
	for _, env := range f.envelopes {
		if env.EnvelopeID == envelopeID {
			return env, nil
		}
	}
	return Envelope{}, ErrEnvelopeNotFound
}

func (f *fakeEnvelopes) MarkSigned(_ context.Context, envelopeID, signedSHA256, certSHA256 string) error {
	for key, env := range f.envelopes {
		if env.EnvelopeID == envelopeID {
			env.Status = EnvelopeSigned
			env.SignedSHA256 = signedSHA256
			env.CertSHA256 = certSHA256
			f.envelopes[key] = env
			return nil
		}
	}
	return ErrEnvelopeNotFound
}

type fakeStore struct {
	objects map[string][]byte
}

func (f *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Download(_ context.Context, key string) ([]byte, error) {
	return f.objects[key], nil
}

// providerCall records one provider invocation for order assertions.
type providerCall struct {
	op   string
	args any
}

type fakeProvider struct {
	calls        []providerCall
	emptySigner  bool
	requirements []RequirementParams
	signerCount  int
}

func (f *fakeProvider) CreateEnvelope(_ context.Context, params EnvelopeParams) (string, error) {
	f.calls = append(f.calls, providerCall{"CreateEnvelope", params})
	return "env_1", nil
}

func (f *fakeProvider) UploadDocument(_ context.Context, envelopeID, filename string, content []byte) (string, error) {
	f.calls = append(f.calls, providerCall{"UploadDocument", filename})
	return "doc_1", nil
}

func (f *fakeProvider) CreateSigner(_ context.Context, envelopeID string, params SignerParams) (string, error) {
	f.calls = append(f.calls, providerCall{"CreateSigner", params})
	if f.emptySigner {
		return "", nil
	}
	f.signerCount++
	if f.signerCount == 1 {
		return "sig_1", nil
	}
	return "sig_2", nil
}

func (f *fakeProvider) CreateRequirement(_ context.Context, envelopeID string, params RequirementParams) (string, error) {
	f.calls = append(f.calls, providerCall{"CreateRequirement", params})
	f.requirements = append(f.requirements, params)
	return "req_1", nil
}

func (f *fakeProvider) UpdateEnvelopeStatus(_ context.Context, envelopeID, status string) error {
	f.calls = append(f.calls, providerCall{"UpdateEnvelopeStatus", status})
	return nil
}

func (f *fakeProvider) NotifySigners(_ context.Context, envelopeID, message string) error {
	f.calls = append(f.calls, providerCall{"NotifySigners", message})
	return nil
}

func (f *fakeProvider) GetSigner(_ context.Context, envelopeID, signerID string) (Signer, error) {
	f.calls = append(f.calls, providerCall{"GetSigner", signerID})
	return Signer{ID: signerID, SignLink: "https://sign/abc"}, nil
}

type fakeNotifier struct {
	sent []notification.Request
}

func (f *fakeNotifier) Send(_ context.Context, req notification.Request) (notification.Notification, error) {
	f.sent = append(f.sent, req)
	return notification.Notification{ID: "n-1"}, nil
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

func testIdentity(t *testing.T, codec *pii.Codec, phone string) proposal.Identity {
	t.Helper()
	enc := func(value string) []byte {
		if value == "" {
			return nil
		}
		data, err := codec.Encrypt(value)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		return data
	}
	return proposal.Identity{
		ProposalID: "p-1",
		NameEnc:    enc("JOÃO DA SILVA"),
		CPFEnc:     enc("123.456.789-09"),
		CPFHash:    pii.HashDigits("123.456.789-09"),
		BirthEnc:   enc("02/03/1990"),
		EmailEnc:   enc("joao@example.com"),
		PhoneEnc:   enc(phone),
		Roles:      []string{"ASSOCIADO"},
	}
}

type workflowFixture struct {
	workflow  *Workflow
	proposals *fakeProposals
	docs      *fakeDocs
	envelopes *fakeEnvelopes
	store     *fakeStore
	provider  *fakeProvider
	notifier  *fakeNotifier
	broker    *queue.MemoryBroker
}

func newFixture(t *testing.T, phone string) *workflowFixture {
	t.Helper()
	codec := testCodec(t)
	f := &workflowFixture{
		proposals: &fakeProposals{status: proposal.StatusUnderReview, identity: testIdentity(t, codec, phone)},
		docs:      &fakeDocs{},
		envelopes: &fakeEnvelopes{},
		store:     &fakeStore{},
		provider:  &fakeProvider{},
		notifier:  &fakeNotifier{},
		broker:    queue.NewMemoryBroker(),
	}
	f.workflow = NewWorkflow(
		f.proposals, f.docs, f.envelopes, f.store, f.provider, NewRenderer(),
		f.notifier, f.broker, codec,
		config.SigningConfig{DeadlineDays: 7}, zap.NewNop())
	return f
}

func TestGenerateContractProducesDocumentAndNextJob(t *testing.T) {
	f := newFixture(t, "(11) 98765-4321")

	err := f.workflow.GenerateContract(context.Background(), GenerateJob{ProposalID: "p-1", CorrelationID: "c-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(f.docs.created) != 1 {
		t.Fatalf("expected one document row, got %d", len(f.docs.created))
	}
	file := f.docs.created[0]
	if file.Type != document.TypeContract {
		t.Errorf("document type = %s", file.Type)
	}
	if file.StorageKey != "proposals/p-1/contract.pdf" {
		t.Errorf("storage key = %s", file.StorageKey)
	}
	if file.SHA256 == "" {
		t.Errorf("content hash must be recorded")
	}
	if _, ok := f.store.objects[file.StorageKey]; !ok {
		t.Errorf("pdf must be uploaded before the row is written")
	}

	jobs := f.broker.Jobs(SignatureQueueName)
	if len(jobs) != 1 || jobs[0].Name != JobCreateEnvelope {
		t.Fatalf("expected one signature.create job, got %v", jobs)
	}
	var next CreateJob
	if err := json.Unmarshal(jobs[0].Payload, &next); err != nil {
		t.Fatalf("decode next job: %v", err)
	}
	if next.DocumentID != file.ID || next.CorrelationID != "c-1" {
		t.Errorf("next job = %+v", next)
	}
}

func TestCreateEnvelopeFullSequence(t *testing.T) {
	f := newFixture(t, "(11) 98765-4321")
	f.docs.files = map[string]document.File{"d-1": {
		ID: "d-1", ProposalID: "p-1", Type: document.TypeContract,
		StorageKey: "proposals/p-1/contract.pdf", SHA256: "orig-hash",
	}}
	f.store.objects = map[string][]byte{"proposals/p-1/contract.pdf": []byte("%PDF")}

	err := f.workflow.CreateEnvelope(context.Background(), CreateJob{
		ProposalID: "p-1", DocumentID: "d-1", EvidenceAuth: "whatsapp",
	})
	if err != nil {
		t.Fatalf("create envelope: %v", err)
	}

	env := f.envelopes.envelopes["p-1"]
	if env.EnvelopeID != "env_1" || env.Status != EnvelopeSent {
		t.Errorf("envelope = %+v", env)
	}
	if env.SignLink != "https://sign/abc" {
		t.Errorf("sign link = %q", env.SignLink)
	}
	if env.OriginalSHA256 != "orig-hash" {
		t.Errorf("original hash = %q", env.OriginalSHA256)
	}

	if len(f.provider.requirements) != 2 {
		t.Fatalf("expected agree + evidence requirements, got %d", len(f.provider.requirements))
	}
	if f.provider.requirements[0].Act != "agree" {
		t.Errorf("first requirement = %+v", f.provider.requirements[0])
	}
	if f.provider.requirements[1].Act != "provide_evidence" || f.provider.requirements[1].Auth != "whatsapp" {
		t.Errorf("evidence requirement = %+v", f.provider.requirements[1])
	}

	first := f.provider.calls[0]
	if first.op != "CreateEnvelope" {
		t.Errorf("first provider call = %s", first.op)
	}
	params := first.args.(EnvelopeParams)
	if params.IdempotencyKey != "proposal:p-1:envelope" {
		t.Errorf("idempotency key = %q", params.IdempotencyKey)
	}

	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected email plus whatsapp, got %d", len(f.notifier.sent))
	}
	email := f.notifier.sent[0]
	if email.Channel != notification.ChannelEmail || email.Template != "proposal_approved" {
		t.Errorf("email = %+v", email)
	}
	if email.Data["sign_link"] != "https://sign/abc" {
		t.Errorf("email data = %v", email.Data)
	}
	whatsapp := f.notifier.sent[1]
	if whatsapp.Channel != notification.ChannelWhatsApp || !whatsapp.OptIn {
		t.Errorf("whatsapp = %+v", whatsapp)
	}
}

func TestCreateEnvelopeNoPhoneSkipsWhatsApp(t *testing.T) {
	f := newFixture(t, "")
	f.docs.files = map[string]document.File{"d-1": {
		ID: "d-1", ProposalID: "p-1", StorageKey: "k", SHA256: "h",
	}}
	f.store.objects = map[string][]byte{"k": []byte("%PDF")}

	err := f.workflow.CreateEnvelope(context.Background(), CreateJob{
		ProposalID: "p-1", DocumentID: "d-1", EvidenceAuth: "sms",
	})
	if err != nil {
		t.Fatalf("create envelope: %v", err)
	}

	if len(f.notifier.sent) != 1 || f.notifier.sent[0].Channel != notification.ChannelEmail {
		t.Errorf("phoneless signer gets email only, got %+v", f.notifier.sent)
	}
	// sms evidence falls back to email when no phone is on file
	if f.provider.requirements[1].Auth != "email" {
		t.Errorf("evidence auth = %q", f.provider.requirements[1].Auth)
	}
}

func TestCreateEnvelopeIsIdempotent(t *testing.T) {
	f := newFixture(t, "")
	f.envelopes.envelopes = map[string]Envelope{"p-1": {
		ProposalID: "p-1", EnvelopeID: "env_1", Status: EnvelopeSent,
	}}

	err := f.workflow.CreateEnvelope(context.Background(), CreateJob{ProposalID: "p-1", DocumentID: "d-1"})
	if err != nil {
		t.Fatalf("replay must be a no-op, got %v", err)
	}
	if len(f.provider.calls) != 0 {
		t.Errorf("replay must not touch the provider, got %v", f.provider.calls)
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("replay must not re-notify")
	}
}

func TestCreateEnvelopeEmptyProviderIDFails(t *testing.T) {
	f := newFixture(t, "")
	f.provider.emptySigner = true
	f.docs.files = map[string]document.File{"d-1": {
		ID: "d-1", ProposalID: "p-1", StorageKey: "k", SHA256: "h",
	}}
	f.store.objects = map[string][]byte{"k": []byte("%PDF")}

	err := f.workflow.CreateEnvelope(context.Background(), CreateJob{ProposalID: "p-1", DocumentID: "d-1"})
	if !errors.Is(err, ErrMissingProviderID) {
		t.Fatalf("empty signer id must fail the stage, got %v", err)
	}
	if len(f.envelopes.envelopes) != 0 {
		t.Errorf("no envelope row on failure")
	}
}

func TestGenerateAuditStoresArtifact(t *testing.T) {
	f := newFixture(t, "")
	f.envelopes.envelopes = map[string]Envelope{"p-1": {
		ProposalID: "p-1", EnvelopeID: "env_1", Status: EnvelopeSigned,
		SignerName: "JOÃO DA SILVA", OriginalSHA256: "orig", SignedSHA256: "signed",
	}}

	err := f.workflow.GenerateAudit(context.Background(), AuditJob{
		ProposalID: "p-1", SignerMethod: "email", SignerIP: "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}

	if len(f.docs.created) != 1 || f.docs.created[0].Type != document.TypeSignatureAudit {
		t.Fatalf("expected one audit document, got %+v", f.docs.created)
	}
	key := f.docs.created[0].StorageKey
	if key != "proposals/p-1/audit-env_1.pdf" {
		t.Errorf("storage key = %s", key)
	}
	if len(f.store.objects[key]) == 0 {
		t.Errorf("audit pdf must be uploaded")
	}
}

func TestGenerateAuditMissingEnvelopeIsFatal(t *testing.T) {
	f := newFixture(t, "")

	err := f.workflow.GenerateAudit(context.Background(), AuditJob{ProposalID: "p-1"})
	if !queue.IsUnrecoverable(err) {
		t.Fatalf("audit without envelope must be fatal, got %v", err)
	}
}

func TestEvidenceAuth(t *testing.T) {
	cases := []struct {
		requested string
		phone     string
		want      string
	}{
		{"whatsapp", "+5511987654321", "whatsapp"},
		{"sms", "", "email"},
		{"", "+5511987654321", "email"},
		{"email", "", "email"},
	}
	for _, tc := range cases {
		if got := evidenceAuth(tc.requested, tc.phone); got != tc.want {
			t.Errorf("evidenceAuth(%q, %q) = %q, want %q", tc.requested, tc.phone, got, tc.want)
		}
	}
}
