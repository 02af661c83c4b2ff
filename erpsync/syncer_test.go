package erpsync

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/felipebianchini2006/sistemacadastro-sub001/document"
	"github.com/felipebianchini2006/sistemacadastro-sub001/notification"
	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
	"github.com/felipebianchini2006/sistemacadastro-sub001/proposal"
)

type fakeProposals struct {
	status      proposal.Status
	identity    proposal.Identity
	transitions []proposal.TransitionParams
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
	if !proposal.CanTransition(f.status, params.To) {
		return proposal.ErrInvalidTransition
	}
	f.transitions = append(f.transitions, params)
	f.status = params.To
	return nil
}

func (f *fakeProposals) History(_ context.Context, _ string) ([]proposal.HistoryEntry, error) {
	return nil, nil
}

type fakeDocs struct {
	files []document.File
}

func (f *fakeDocs) Get(_ context.Context, _ string) (document.File, error) {
	panic("not used")
}

func (f *fakeDocs) Create(_ context.Context, _ document.CreateParams) (document.File, error) {
	panic("not used")
}

func (f *fakeDocs) ListByProposal(_ context.Context, _ string) ([]document.File, error) {
	return f.files, nil
}

type fakeRecords struct {
	records map[string]Record
	upserts []Record
}

func (f *fakeRecords) Get(_ context.Context, proposalID string) (Record, error) {
	rec, ok := f.records[proposalID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (f *fakeRecords) Upsert(_ context.Context, record Record) error {
	f.upserts = append(f.upserts, record)
	if f.records == nil {
		f.records = map[string]Record{}
	}
	existing := f.records[record.ProposalID]
	if record.ExternalID == "" {
		record.ExternalID = existing.ExternalID
	}
	f.records[record.ProposalID] = record
	return nil
}

func (f *fakeRecords) lastStatus() RecordStatus {
	if len(f.upserts) == 0 {
		return ""
	}
	return f.upserts[len(f.upserts)-1].Status
}

type fakeClient struct {
	resp     Response
	err      error
	calls    int
	payloads []MemberPayload
}

func (f *fakeClient) CreateMember(_ context.Context, payload MemberPayload) (Response, error) {
	f.calls++
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return Response{}, f.err
	}
	return f.resp, nil
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

func testIdentity(t *testing.T, codec *pii.Codec) proposal.Identity {
	t.Helper()
	enc := func(value string) []byte {
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
		PhoneEnc:   enc("(11) 98765-4321"),
		Roles:      []string{"ASSOCIADO"},
	}
}

func newTestSyncer(t *testing.T, props *fakeProposals, records *fakeRecords, client *fakeClient, notifier *fakeNotifier) *Syncer {
	t.Helper()
	docs := &fakeDocs{files: []document.File{
		{ID: "d-1", ProposalID: "p-1", Type: document.TypeCNH, StorageKey: "proposals/p-1/cnh.jpg", SHA256: "aaa"},
		{ID: "d-2", ProposalID: "p-1", Type: document.TypeContract, StorageKey: "proposals/p-1/contract.pdf", SHA256: "bbb"},
	}}
	return NewSyncer(props, docs, records, client, notifier, testCodec(t), zap.NewNop())
}

func TestSyncCreatesMemberAndApproves(t *testing.T) {
	codec := testCodec(t)
	props := &fakeProposals{status: proposal.StatusSigned, identity: testIdentity(t, codec)}
	records := &fakeRecords{}
	client := &fakeClient{resp: Response{StatusCode: 201, Body: []byte(`{"id":"abc123"}`)}}
	notifier := &fakeNotifier{}
	s := newTestSyncer(t, props, records, client, notifier)

	if err := s.Sync(context.Background(), SyncJob{ProposalID: "p-1"}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if client.calls != 1 {
		t.Fatalf("expected one ERP call, got %d", client.calls)
	}
	payload := client.payloads[0]
	if payload.CPF != "12345678909" {
		t.Errorf("cpf must be digits only, got %q", payload.CPF)
	}
	if payload.BirthDate != "1990-03-02" {
		t.Errorf("birth date = %q", payload.BirthDate)
	}
	if payload.Phone != "+5511987654321" {
		t.Errorf("phone = %q", payload.Phone)
	}
	if _, ok := payload.Documents["CONTRACT"]; !ok {
		t.Errorf("documents must be keyed by type, got %v", payload.Documents)
	}

	rec := records.records["p-1"]
	if rec.Status != RecordSynced {
		t.Errorf("record status = %s", rec.Status)
	}
	if rec.ExternalID != "abc123" {
		t.Errorf("external id = %q", rec.ExternalID)
	}
	if props.status != proposal.StatusApproved {
		t.Errorf("proposal status = %s", props.status)
	}
	if len(props.transitions) != 1 {
		t.Errorf("expected one transition, got %d", len(props.transitions))
	}

	if len(notifier.sent) != 2 {
		t.Fatalf("expected email plus whatsapp, got %d", len(notifier.sent))
	}
	if notifier.sent[0].Channel != notification.ChannelEmail || notifier.sent[0].Template != "proposal_concluded" {
		t.Errorf("first notification = %+v", notifier.sent[0])
	}
	if notifier.sent[1].Channel != notification.ChannelWhatsApp || !notifier.sent[1].OptIn {
		t.Errorf("whatsapp notification = %+v", notifier.sent[1])
	}
}

func TestSyncConflictIsSuccess(t *testing.T) {
	codec := testCodec(t)
	props := &fakeProposals{status: proposal.StatusSigned, identity: testIdentity(t, codec)}
	records := &fakeRecords{}
	client := &fakeClient{resp: Response{StatusCode: 409, Body: []byte(`{"externalId":"ext-1"}`)}}
	s := newTestSyncer(t, props, records, client, &fakeNotifier{})

	if err := s.Sync(context.Background(), SyncJob{ProposalID: "p-1"}); err != nil {
		t.Fatalf("409 must be treated as success, got %v", err)
	}
	if records.records["p-1"].Status != RecordSynced {
		t.Errorf("record status = %s", records.records["p-1"].Status)
	}
	if records.records["p-1"].ExternalID != "ext-1" {
		t.Errorf("external id = %q", records.records["p-1"].ExternalID)
	}
	if props.status != proposal.StatusApproved {
		t.Errorf("proposal status = %s", props.status)
	}
}

func TestSyncAlreadySyncedShortCircuits(t *testing.T) {
	codec := testCodec(t)
	props := &fakeProposals{status: proposal.StatusApproved, identity: testIdentity(t, codec)}
	records := &fakeRecords{records: map[string]Record{
		"p-1": {ProposalID: "p-1", Status: RecordSynced, ExternalID: "abc123"},
	}}
	client := &fakeClient{}
	notifier := &fakeNotifier{}
	s := newTestSyncer(t, props, records, client, notifier)

	if err := s.Sync(context.Background(), SyncJob{ProposalID: "p-1"}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("replay must not hit the ERP")
	}
	if len(records.upserts) != 0 {
		t.Errorf("replay must not write, got %d upserts", len(records.upserts))
	}
	if len(notifier.sent) != 0 {
		t.Errorf("replay must not notify")
	}
}

func TestSyncIneligibleStatusIsNoop(t *testing.T) {
	codec := testCodec(t)
	props := &fakeProposals{status: proposal.StatusUnderReview, identity: testIdentity(t, codec)}
	client := &fakeClient{}
	records := &fakeRecords{}
	s := newTestSyncer(t, props, records, client, &fakeNotifier{})

	if err := s.Sync(context.Background(), SyncJob{ProposalID: "p-1"}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if client.calls != 0 || len(records.upserts) != 0 {
		t.Errorf("pre-signature proposals must not sync")
	}
}

func TestSyncServerErrorRecordsFailure(t *testing.T) {
	codec := testCodec(t)
	props := &fakeProposals{status: proposal.StatusSigned, identity: testIdentity(t, codec)}
	records := &fakeRecords{}
	client := &fakeClient{resp: Response{StatusCode: 500, Body: []byte(`upstream boom`)}}
	s := newTestSyncer(t, props, records, client, &fakeNotifier{})

	err := s.Sync(context.Background(), SyncJob{ProposalID: "p-1"})
	if err == nil {
		t.Fatal("5xx must surface an error so the queue retries")
	}
	if records.lastStatus() != RecordFailed {
		t.Errorf("record status = %s", records.lastStatus())
	}
	rec := records.records["p-1"]
	if rec.Diagnostics["status"] != "500" {
		t.Errorf("diagnostics = %v", rec.Diagnostics)
	}
	if props.status != proposal.StatusSigned {
		t.Errorf("failed sync must not advance the proposal, got %s", props.status)
	}
}

func TestSyncMissingIdentitySkips(t *testing.T) {
	props := &fakeProposals{status: proposal.StatusSigned}
	client := &fakeClient{}
	records := &fakeRecords{}
	s := newTestSyncer(t, props, records, client, &fakeNotifier{})

	if err := s.Sync(context.Background(), SyncJob{ProposalID: "p-1"}); err != nil {
		t.Fatalf("missing identity is an anomaly, not a retryable error: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("must not call the ERP without an identity")
	}
}
