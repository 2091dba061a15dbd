package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/socket"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")

// ---------- staging ----------

func TestStageMessage_Validation(t *testing.T) {
	h := newHarness(t, socket.Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		text string
		from string
		to   string
		want error
	}{
		{"empty", "   ", "a", "b", ErrInvalidMessage},
		{"too long", strings.Repeat("é", MaxMessageRunes+1), "a", "b", ErrInvalidMessage},
		{"self", "hi", "a", "a", ErrTargetIsSelf},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.tx.StageMessage(ctx, tc.from, tc.to, tc.text); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	m, err := h.tx.StageMessage(ctx, "a", "b", "  "+strings.Repeat("x", MaxMessageRunes)+"  ")
	if err != nil {
		t.Fatalf("max-length message rejected: %v", err)
	}
	if m.RequestID == "" || m.ID == "" || m.RequestID == m.ID {
		t.Fatalf("expected distinct ids, got %+v", m)
	}
}

func TestStageFile_NoPayload(t *testing.T) {
	h := newHarness(t, socket.Options{})
	if _, err := h.tx.StageFile(context.Background(), "a", "b", nil); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}
	if _, err := h.tx.StageFile(context.Background(), "a", "b", &UploadedFile{}); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload for empty upload, got %v", err)
	}
}

func TestUpload_SniffsAndCaps(t *testing.T) {
	h := newHarness(t, socket.Options{})
	ctx := context.Background()

	up, err := h.tx.Upload(ctx, "../../report.PDF", bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if up.MimeType != "application/pdf" || up.OriginalName != "report.PDF" || up.Size != int64(len(pdfBytes)) {
		t.Fatalf("unexpected upload: %+v", up)
	}
	if !strings.HasSuffix(up.Key, ".pdf") {
		t.Fatalf("key should keep the lower-cased extension, got %q", up.Key)
	}

	txt, err := h.tx.Upload(ctx, "notes.txt", strings.NewReader("hello there"))
	if err != nil || txt.MimeType != "text/plain" {
		t.Fatalf("text upload = %+v, %v", txt, err)
	}

	elf := append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, make([]byte, 64)...)
	if _, err := h.tx.Upload(ctx, "a.out", bytes.NewReader(elf)); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
	if _, err := h.tx.Upload(ctx, "empty.txt", bytes.NewReader(nil)); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}

	h.tx.MaxFileSize = 10
	if _, err := h.tx.Upload(ctx, "big.txt", strings.NewReader(strings.Repeat("a", 11))); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	entries, _ := os.ReadDir(h.files.Dir())
	if len(entries) != 2 {
		t.Fatalf("expected only the two accepted uploads on disk, found %d", len(entries))
	}
}

func TestUpload_OddNamesGetSafeKeys(t *testing.T) {
	h := newHarness(t, socket.Options{})
	ctx := context.Background()

	cases := []struct {
		name         string
		wantOriginal string
		wantExt      string
	}{
		{"notes.v1\\final", "final", ""},
		{`C:\Users\me\photo.JPG`, "photo.JPG", ".jpg"},
		{"notes." + strings.Repeat("x", 300), ("notes." + strings.Repeat("x", 300))[:255], ""},
		{"archive.tar.gz", "archive.tar.gz", ".gz"},
		{"weird.ext with space", "weird.ext with space", ""},
		{"..", "file", ""},
		{"", "file", ""},
	}
	for _, tc := range cases {
		up, err := h.tx.Upload(ctx, tc.name, strings.NewReader("plain text body"))
		if err != nil {
			t.Fatalf("Upload(%q): %v", tc.name, err)
		}
		if up.OriginalName != tc.wantOriginal {
			t.Fatalf("Upload(%q) original = %q; want %q", tc.name, up.OriginalName, tc.wantOriginal)
		}
		if ext := filepath.Ext(up.Key); ext != tc.wantExt {
			t.Fatalf("Upload(%q) key = %q; want extension %q", tc.name, up.Key, tc.wantExt)
		}
		if len(up.Key) > 128 || strings.ContainsAny(up.Key, `/\`) {
			t.Fatalf("Upload(%q) produced unsafe key %q", tc.name, up.Key)
		}
	}

	long := strings.Repeat("é", 200) + ".txt"
	up, err := h.tx.Upload(ctx, long, strings.NewReader("plain text body"))
	if err != nil {
		t.Fatalf("Upload(long): %v", err)
	}
	if len(up.OriginalName) > 255 || !utf8.ValidString(up.OriginalName) {
		t.Fatalf("original name not capped on a rune boundary: %d bytes", len(up.OriginalName))
	}
}

// ---------- negotiation ----------

func TestNegotiate_TimeoutRetractsAndDeletes(t *testing.T) {
	h := newHarness(t, socket.Options{RequestTimeout: 50 * time.Millisecond})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
	_, aConn := h.connect(t, a)
	_, bConn := h.connect(t, b)

	m, err := h.tx.StageMessage(context.Background(), a.ID, b.ID, "hello")
	if err != nil {
		t.Fatalf("StageMessage: %v", err)
	}
	ch, err := h.tx.Negotiate(context.Background(), a.ID, a.Name, b.ID, MessageRef(m))
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	o := awaitOutcome(t, ch)
	if o.Verdict != socket.TimedOut || !o.Deleted {
		t.Fatalf("outcome = %+v, want TimedOut and deleted", o)
	}
	if !bConn.has(socket.EventRequestRetracted) {
		t.Fatalf("target should receive request:retracted")
	}
	data, ok := aConn.find(socket.EventRequestTimeout)
	if !ok {
		t.Fatalf("requester should receive request:timeout")
	}
	var corr socket.CorrelationPayload
	_ = json.Unmarshal(data, &corr)
	if corr.CorrelationID != m.RequestID {
		t.Fatalf("timeout for %q, want %q", corr.CorrelationID, m.RequestID)
	}
	if n := countRows(t, h.db, &domain.MessageTransmission{}); n != 0 {
		t.Fatalf("staged message should be gone, %d rows left", n)
	}
}

func TestNegotiate_AcceptFileThenRetrieveOnce(t *testing.T) {
	h := newHarness(t, socket.Options{})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
	_, aConn := h.connect(t, a)
	bSess, bConn := h.connect(t, b)
	ctx := context.Background()

	up, err := h.tx.Upload(ctx, "doc.pdf", bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	f, err := h.tx.StageFile(ctx, a.ID, b.ID, up)
	if err != nil {
		t.Fatalf("StageFile: %v", err)
	}
	ch, err := h.tx.Negotiate(ctx, a.ID, a.Name, b.ID, FileRef(f))
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	req := requestOn(t, bConn)
	if req.Kind != socket.KindFile || req.FromName != a.Name || req.FileOriginalName != "doc.pdf" || req.FileSize != int64(len(pdfBytes)) {
		t.Fatalf("unexpected request payload: %+v", req)
	}
	answer(bSess, req.CorrelationID, true)

	o := awaitOutcome(t, ch)
	if o.Verdict != socket.Accepted || o.Deleted {
		t.Fatalf("outcome = %+v, want Accepted and kept", o)
	}
	data, ok := aConn.find(socket.EventResponse)
	if !ok {
		t.Fatalf("requester should receive response")
	}
	var resp socket.ResponsePayload
	_ = json.Unmarshal(data, &resp)
	if !resp.Accepted || resp.CorrelationID != f.RequestID {
		t.Fatalf("response = %+v", resp)
	}
	data, ok = bConn.find(socket.EventTransmissionFile)
	if !ok {
		t.Fatalf("target should receive transmission:file")
	}
	var fp FilePayload
	_ = json.Unmarshal(data, &fp)
	if fp.UUID != f.ID || fp.FileMimeType != "application/pdf" {
		t.Fatalf("file payload = %+v", fp)
	}
	if n := countRows(t, h.db, &domain.FileTransmission{}); n != 1 {
		t.Fatalf("acceptance must keep the staged row, got %d", n)
	}

	// Only the recipient may pull it.
	if _, err := h.tx.RetrieveFile(ctx, a.ID, f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sender retrieve: expected ErrNotFound, got %v", err)
	}

	r, err := h.tx.RetrieveFile(ctx, b.ID, f.ID)
	if err != nil {
		t.Fatalf("RetrieveFile: %v", err)
	}
	got, _ := io.ReadAll(r)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !bytes.Equal(got, pdfBytes) {
		t.Fatalf("retrieved bytes differ")
	}
	if n := countRows(t, h.db, &domain.FileTransmission{}); n != 0 {
		t.Fatalf("row should be deleted after retrieval, got %d", n)
	}
	if _, err := os.Stat(h.files.Dir() + "/" + f.FileKey); !os.IsNotExist(err) {
		t.Fatalf("file should be deleted after retrieval, stat err=%v", err)
	}
	if _, err := h.tx.RetrieveFile(ctx, b.ID, f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second retrieve: expected ErrNotFound, got %v", err)
	}
}

func TestNegotiate_FileExitPathsRemoveFileAndRow(t *testing.T) {
	cases := []struct {
		name    string
		timeout time.Duration
		settle  func(h *harness, bSess *socket.Session, correlationID, targetID string)
		want    socket.Verdict
	}{
		{
			name:    "declined",
			timeout: 5 * time.Second,
			settle: func(_ *harness, bSess *socket.Session, id, _ string) {
				answer(bSess, id, false)
			},
			want: socket.Declined,
		},
		{
			name:    "timed out",
			timeout: 50 * time.Millisecond,
			settle:  func(*harness, *socket.Session, string, string) {},
			want:    socket.TimedOut,
		},
		{
			// The Closed verdict's discard races the termination cleanup.
			name:    "target terminated while pending",
			timeout: 5 * time.Second,
			settle: func(h *harness, _ *socket.Session, _, targetID string) {
				h.reg.Terminate(context.Background(), targetID)
			},
			want: socket.Closed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, socket.Options{RequestTimeout: tc.timeout})
			a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
			b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
			h.connect(t, a)
			bSess, bConn := h.connect(t, b)
			ctx := context.Background()

			up, err := h.tx.Upload(ctx, "doc.pdf", bytes.NewReader(pdfBytes))
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			f, err := h.tx.StageFile(ctx, a.ID, b.ID, up)
			if err != nil {
				t.Fatalf("StageFile: %v", err)
			}
			ch, err := h.tx.Negotiate(ctx, a.ID, a.Name, b.ID, FileRef(f))
			if err != nil {
				t.Fatalf("Negotiate: %v", err)
			}

			tc.settle(h, bSess, requestOn(t, bConn).CorrelationID, b.ID)

			o := awaitOutcome(t, ch)
			if o.Verdict != tc.want {
				t.Fatalf("verdict = %v, want %v", o.Verdict, tc.want)
			}
			if bConn.has(socket.EventTransmissionFile) {
				t.Fatalf("file must not be offered after a %v verdict", o.Verdict)
			}
			if n := countRows(t, h.db, &domain.FileTransmission{}); n != 0 {
				t.Fatalf("staged row left behind: %d", n)
			}
			if entries, _ := os.ReadDir(h.files.Dir()); len(entries) != 0 {
				t.Fatalf("staged file left on disk: %d entries", len(entries))
			}
		})
	}
}

func TestNegotiate_DeclineMessageDeletes(t *testing.T) {
	h := newHarness(t, socket.Options{})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
	_, aConn := h.connect(t, a)
	bSess, bConn := h.connect(t, b)

	m, _ := h.tx.StageMessage(context.Background(), a.ID, b.ID, "hello")
	ch, err := h.tx.Negotiate(context.Background(), a.ID, a.Name, b.ID, MessageRef(m))
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	answer(bSess, requestOn(t, bConn).CorrelationID, false)

	o := awaitOutcome(t, ch)
	if o.Verdict != socket.Declined || !o.Deleted {
		t.Fatalf("outcome = %+v, want Declined and deleted", o)
	}
	if bConn.has(socket.EventTransmissionMessage) {
		t.Fatalf("declined message must never be delivered")
	}
	data, _ := aConn.find(socket.EventResponse)
	var resp socket.ResponsePayload
	_ = json.Unmarshal(data, &resp)
	if resp.Accepted {
		t.Fatalf("requester should see accepted=false")
	}
	if n := countRows(t, h.db, &domain.MessageTransmission{}); n != 0 {
		t.Fatalf("declined message should be deleted, got %d rows", n)
	}
}

func TestNegotiate_AcceptMessageThenRetrieve(t *testing.T) {
	h := newHarness(t, socket.Options{})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
	h.connect(t, a)
	bSess, bConn := h.connect(t, b)

	m, _ := h.tx.StageMessage(context.Background(), a.ID, b.ID, "see you at noon")
	ch, _ := h.tx.Negotiate(context.Background(), a.ID, a.Name, b.ID, MessageRef(m))
	answer(bSess, requestOn(t, bConn).CorrelationID, true)
	awaitOutcome(t, ch)

	data, ok := bConn.find(socket.EventTransmissionMessage)
	if !ok {
		t.Fatalf("target should receive transmission:message")
	}
	var mp MessagePayload
	_ = json.Unmarshal(data, &mp)
	if mp.UUID != m.ID || mp.FromName != a.Name || mp.Message != "see you at noon" {
		t.Fatalf("message payload = %+v", mp)
	}

	got, err := h.tx.RetrieveMessage(context.Background(), b.ID, m.ID)
	if err != nil || got.Message != "see you at noon" {
		t.Fatalf("RetrieveMessage = %+v, %v", got, err)
	}
	if _, err := h.tx.RetrieveMessage(context.Background(), b.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second retrieve: expected ErrNotFound, got %v", err)
	}
}

func TestNegotiate_SynchronousFailuresDeletePayload(t *testing.T) {
	h := newHarness(t, socket.Options{})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
	ctx := context.Background()

	// Not connected.
	m, _ := h.tx.StageMessage(ctx, a.ID, b.ID, "hi")
	if _, err := h.tx.Negotiate(ctx, a.ID, a.Name, b.ID, MessageRef(m)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if n := countRows(t, h.db, &domain.MessageTransmission{}); n != 0 {
		t.Fatalf("staged message should be deleted, got %d", n)
	}

	// Connected but the write fails.
	_, bConn := h.connect(t, b)
	bConn.mu.Lock()
	bConn.failSend = true
	bConn.mu.Unlock()

	up, _ := h.tx.Upload(ctx, "doc.pdf", bytes.NewReader(pdfBytes))
	f, _ := h.tx.StageFile(ctx, a.ID, b.ID, up)
	if _, err := h.tx.Negotiate(ctx, a.ID, a.Name, b.ID, FileRef(f)); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if n := countRows(t, h.db, &domain.FileTransmission{}); n != 0 {
		t.Fatalf("staged file row should be deleted, got %d", n)
	}
	if entries, _ := os.ReadDir(h.files.Dir()); len(entries) != 0 {
		t.Fatalf("staged file should be deleted, found %d entries", len(entries))
	}
}

func TestNegotiate_ResponseAfterReconnect(t *testing.T) {
	h := newHarness(t, socket.Options{})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
	h.connect(t, a)
	bOld, bOldConn := h.connect(t, b)

	m, _ := h.tx.StageMessage(context.Background(), a.ID, b.ID, "hello")
	ch, err := h.tx.Negotiate(context.Background(), a.ID, a.Name, b.ID, MessageRef(m))
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	corr := requestOn(t, bOldConn).CorrelationID

	bOld.Disconnected(context.Background())
	bNew, bNewConn := h.connect(t, b)
	answer(bNew, corr, true)

	if o := awaitOutcome(t, ch); o.Verdict != socket.Accepted {
		t.Fatalf("verdict = %v, want Accepted", o.Verdict)
	}
	if !bNewConn.has(socket.EventTransmissionMessage) {
		t.Fatalf("payload event should reach the reconnected session")
	}
}

// ---------- send helpers ----------

func TestSendMessage_ResolvesTarget(t *testing.T) {
	h := newHarness(t, socket.Options{})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
	ctx := context.Background()

	if _, err := h.tx.SendMessage(ctx, a, "Nobody Here", "hi"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	if _, err := h.tx.SendMessage(ctx, a, a.Name, "hi"); !errors.Is(err, ErrTargetIsSelf) {
		t.Fatalf("expected ErrTargetIsSelf, got %v", err)
	}
	if _, err := h.tx.SendMessage(ctx, a, b.Name, "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	_, bConn := h.connect(t, b)
	reqID, err := h.tx.SendMessage(ctx, a, b.Name, "hi")
	if err != nil || reqID == "" {
		t.Fatalf("SendMessage = %q, %v", reqID, err)
	}
	if requestOn(t, bConn).CorrelationID != reqID {
		t.Fatalf("request id mismatch")
	}
}

func TestSendFile_DiscardsUploadOnFailure(t *testing.T) {
	h := newHarness(t, socket.Options{})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	ctx := context.Background()

	up, err := h.tx.Upload(ctx, "doc.pdf", bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := h.tx.SendFile(ctx, a, "Nobody Here", up); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	if entries, _ := os.ReadDir(h.files.Dir()); len(entries) != 0 {
		t.Fatalf("upload should be removed, found %d entries", len(entries))
	}
	if _, err := h.tx.SendFile(ctx, a, "x", nil); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}
}

// ---------- retrieval and cleanup ----------

func TestRetrieveFile_ConcurrentRetrievalRefused(t *testing.T) {
	h := newHarness(t, socket.Options{})
	ctx := context.Background()
	up, _ := h.tx.Upload(ctx, "doc.pdf", bytes.NewReader(pdfBytes))
	f, _ := h.tx.StageFile(ctx, "a", "b", up)

	first, err := h.tx.RetrieveFile(ctx, "b", f.ID)
	if err != nil {
		t.Fatalf("RetrieveFile: %v", err)
	}
	if _, err := h.tx.RetrieveFile(ctx, "b", f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("concurrent retrieve: expected ErrNotFound, got %v", err)
	}
	// An aborted transfer still consumes the file.
	_ = first.Close()
	if n := countRows(t, h.db, &domain.FileTransmission{}); n != 0 {
		t.Fatalf("aborted retrieval should delete the row, got %d", n)
	}
}

func TestRetrieveFile_MissingObjectDropsRow(t *testing.T) {
	h := newHarness(t, socket.Options{})
	ctx := context.Background()
	up, _ := h.tx.Upload(ctx, "doc.pdf", bytes.NewReader(pdfBytes))
	f, _ := h.tx.StageFile(ctx, "a", "b", up)
	_ = h.files.Delete(ctx, up.Key)

	if _, err := h.tx.RetrieveFile(ctx, "b", f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := countRows(t, h.db, &domain.FileTransmission{}); n != 0 {
		t.Fatalf("orphaned row should be removed, got %d", n)
	}
}

func TestCleanupFor_DeletesFilesAndRows(t *testing.T) {
	h := newHarness(t, socket.Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		up, _ := h.tx.Upload(ctx, "doc.pdf", bytes.NewReader(pdfBytes))
		if _, err := h.tx.StageFile(ctx, "a", "b", up); err != nil {
			t.Fatalf("StageFile: %v", err)
		}
	}
	// A file that already vanished must not abort the batch.
	up, _ := h.tx.Upload(ctx, "gone.pdf", bytes.NewReader(pdfBytes))
	_, _ = h.tx.StageFile(ctx, "a", "b", up)
	_ = h.files.Delete(ctx, up.Key)

	_, _ = h.tx.StageMessage(ctx, "a", "b", "one")
	_, _ = h.tx.StageMessage(ctx, "a", "b", "two")
	keep, _ := h.tx.StageMessage(ctx, "b", "a", "not for b")

	h.tx.CleanupFor(ctx, "b")

	if n := countRows(t, h.db, &domain.FileTransmission{}); n != 0 {
		t.Fatalf("file rows left: %d", n)
	}
	if entries, _ := os.ReadDir(h.files.Dir()); len(entries) != 0 {
		t.Fatalf("files left on disk: %d", len(entries))
	}
	var msgs []domain.MessageTransmission
	h.db.Find(&msgs)
	if len(msgs) != 1 || msgs[0].ID != keep.ID {
		t.Fatalf("only messages addressed elsewhere should remain, got %+v", msgs)
	}
}

func TestGraceExpiry_CleansStagedAndIdentity(t *testing.T) {
	h := newHarness(t, socket.Options{GracePeriod: 30 * time.Millisecond})
	a := seedIdentity(t, h.db, "Swift Otter", "1.1.1.1")
	b := seedIdentity(t, h.db, "Calm Heron", "1.1.1.1")
	bSess, _ := h.connect(t, b)
	ctx := context.Background()

	up, _ := h.tx.Upload(ctx, "doc.pdf", bytes.NewReader(pdfBytes))
	_, _ = h.tx.StageFile(ctx, a.ID, b.ID, up)
	_, _ = h.tx.StageMessage(ctx, a.ID, b.ID, "hello")

	bSess.Disconnected(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countRows(t, h.db, &domain.Identity{}) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := countRows(t, h.db, &domain.Identity{}); n != 1 {
		t.Fatalf("expired identity should be deleted, %d identities left", n)
	}
	if countRows(t, h.db, &domain.FileTransmission{}) != 0 || countRows(t, h.db, &domain.MessageTransmission{}) != 0 {
		t.Fatalf("staged transmissions for the expired identity should be gone")
	}
	if entries, _ := os.ReadDir(h.files.Dir()); len(entries) != 0 {
		t.Fatalf("staged file should be removed from disk")
	}
}

func TestRetrieveMessage_Race(t *testing.T) {
	h := newHarness(t, socket.Options{})
	m, _ := h.tx.StageMessage(context.Background(), "a", "b", "once")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.tx.RetrieveMessage(context.Background(), "b", m.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("message retrieved %d times, want exactly once", wins)
	}
}
