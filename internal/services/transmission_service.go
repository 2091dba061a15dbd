// Package services – TransmissionService
//
// TransmissionService stages a message or file for a recipient, asks the
// recipient for consent over its websocket session and reacts to the
// verdict:
//
//   - accepted: the requester is told, the recipient receives the payload
//     event and the staged row stays until the recipient pulls it
//   - declined: the requester is told and the staged payload is deleted
//   - timed out: both sides are told and the staged payload is deleted
//
// A staged file and its row are always deleted together. Deletion is
// idempotent; every path that can race (decline, timeout, retrieval,
// termination cleanup) may run it.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/repo"
	"github.com/tbourn/go-drop-backend/internal/socket"
	"github.com/tbourn/go-drop-backend/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxMessageRunes caps staged message text.
const MaxMessageRunes = 256

// sniffLen is how much of an upload is buffered for content detection.
const sniffLen = 3072

// UploadedFile is a file already written to the store and not yet staged.
type UploadedFile struct {
	Key          string
	OriginalName string
	MimeType     string
	Size         int64
}

// StagedRef points at a staged transmission for negotiation.
type StagedRef struct {
	Kind           string // socket.KindMessage or socket.KindFile
	TransmissionID string
	RequestID      string
	Message        string           // message kind only
	File           *socket.FileMeta // file kind only
}

// MessageRef describes a staged message.
func MessageRef(m *domain.MessageTransmission) StagedRef {
	return StagedRef{Kind: socket.KindMessage, TransmissionID: m.ID, RequestID: m.RequestID, Message: m.Message}
}

// FileRef describes a staged file.
func FileRef(f *domain.FileTransmission) StagedRef {
	return StagedRef{
		Kind:           socket.KindFile,
		TransmissionID: f.ID,
		RequestID:      f.RequestID,
		File:           &socket.FileMeta{OriginalName: f.OriginalName, MimeType: f.MimeType, Size: f.Size},
	}
}

// Outcome is the final result of a negotiation, reported once its side
// effects have run.
type Outcome struct {
	RequestID string
	Verdict   socket.Verdict
	// Deleted reports whether the staged payload was removed.
	Deleted bool
}

// MessagePayload is sent with transmission:message on acceptance.
type MessagePayload struct {
	UUID     string `json:"uuid"`
	FromName string `json:"fromName"`
	Message  string `json:"message"`
}

// FilePayload is sent with transmission:file on acceptance.
type FilePayload struct {
	UUID             string `json:"uuid"`
	FromName         string `json:"fromName"`
	FileOriginalName string `json:"fileOriginalName"`
	FileMimeType     string `json:"fileMimeType"`
	FileSize         int64  `json:"fileSize"`
}

// TransmissionService orchestrates staging, negotiation and cleanup.
type TransmissionService struct {
	DB       *gorm.DB
	Files    storage.Store
	Presence Presence
	Log      zerolog.Logger

	// MaxFileSize caps uploads; zero means unlimited.
	MaxFileSize int64
	// AllowedTypes is the MIME allowlist for uploads. Nil uses DefaultAllowedTypes.
	AllowedTypes []string

	claimMu sync.Mutex
	claims  map[string]struct{}

	wg sync.WaitGroup
}

// NewTransmissionService wires a TransmissionService.
func NewTransmissionService(db *gorm.DB, files storage.Store, p Presence, log zerolog.Logger) *TransmissionService {
	return &TransmissionService{
		DB:       db,
		Files:    files,
		Presence: p,
		Log:      log.With().Str("component", "transmissions").Logger(),
		claims:   make(map[string]struct{}),
	}
}

// DefaultAllowedTypes lists the MIME types accepted for upload.
var DefaultAllowedTypes = []string{
	"image/jpeg", "image/png", "image/tiff", "image/webp", "image/gif", "image/svg+xml", "image/vnd.microsoft.icon",
	"video/x-msvideo", "video/mp4", "video/mpeg", "video/webm", "video/ogg",
	"audio/wav", "audio/mpeg", "audio/webm",
	"text/plain", "text/csv", "application/xml", "text/xml", "application/pdf", "application/json",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.oasis.opendocument.spreadsheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.presentation",
	"application/vnd.visio",
	"application/epub+zip", "application/java-archive", "application/zip", "application/gzip",
	"application/x-7z-compressed", "application/vnd.rar", "application/x-tar",
}

// Wait blocks until every negotiation follow-up has finished.
func (s *TransmissionService) Wait() { s.wg.Wait() }

// StageMessage stores message text for toID.
func (s *TransmissionService) StageMessage(ctx context.Context, fromID, toID, text string) (*domain.MessageTransmission, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxMessageRunes {
		return nil, ErrInvalidMessage
	}
	if fromID == toID {
		return nil, ErrTargetIsSelf
	}
	return repo.CreateMessageTransmission(ctx, s.DB, fromID, toID, text)
}

// StageFile records an uploaded file for toID. On failure the stored file is
// removed.
func (s *TransmissionService) StageFile(ctx context.Context, fromID, toID string, up *UploadedFile) (*domain.FileTransmission, error) {
	if up == nil || up.Key == "" {
		return nil, ErrNoPayload
	}
	if fromID == toID {
		s.DiscardUpload(ctx, up)
		return nil, ErrTargetIsSelf
	}
	f := &domain.FileTransmission{
		FromID:       fromID,
		ToID:         toID,
		FileKey:      up.Key,
		OriginalName: up.OriginalName,
		MimeType:     up.MimeType,
		Size:         up.Size,
	}
	if err := repo.CreateFileTransmission(ctx, s.DB, f); err != nil {
		s.DiscardUpload(ctx, up)
		return nil, err
	}
	return f, nil
}

// Upload streams r into the file store after checking its sniffed content
// type against the allowlist. The stored object is named after a fresh uuid
// and the original extension.
func (s *TransmissionService) Upload(ctx context.Context, originalName string, r io.Reader) (*UploadedFile, error) {
	ctx, span := otel.Tracer("services/TransmissionService").Start(ctx, "Upload")
	defer span.End()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	head = head[:n]
	if n == 0 {
		return nil, ErrNoPayload
	}
	mt := mimetype.Detect(head)
	if !s.allowed(mt) {
		return nil, ErrUnsupportedMedia
	}

	name := displayName(originalName)
	key := uuid.NewString() + storageExt(name)
	size, err := s.Files.Put(ctx, key, io.MultiReader(bytes.NewReader(head), r), s.MaxFileSize)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, ErrFileTooLarge
		}
		return nil, err
	}
	uploadBytes.Observe(float64(size))
	span.SetAttributes(attribute.Int64("file.size", size), attribute.String("file.mime", mt.String()))

	return &UploadedFile{
		Key:          key,
		OriginalName: name,
		MimeType:     baseMIME(mt.String()),
		Size:         size,
	}, nil
}

// DiscardUpload removes an upload that will not be staged.
func (s *TransmissionService) DiscardUpload(ctx context.Context, up *UploadedFile) {
	if up == nil || up.Key == "" {
		return
	}
	if err := s.Files.Delete(ctx, up.Key); err != nil {
		s.Log.Error().Err(err).Str("file_key", up.Key).Msg("discard upload")
	}
}

func (s *TransmissionService) allowed(mt *mimetype.MIME) bool {
	list := s.AllowedTypes
	if list == nil {
		list = DefaultAllowedTypes
	}
	for _, a := range list {
		if mt.Is(a) {
			return true
		}
	}
	return false
}

// maxOriginalName matches the original_name column width.
const maxOriginalName = 255

// safeExt is what a client extension must look like to be kept in a key.
var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,16}$`)

// displayName strips any client path, either separator style, and caps the
// name at the column width without splitting a rune.
func displayName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if len(name) > maxOriginalName {
		cut := maxOriginalName
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// storageExt returns the lower-cased extension of name when it is short
// and alphanumeric, and "" otherwise.
func storageExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if !safeExt.MatchString(ext) {
		return ""
	}
	return ext
}

// baseMIME drops parameters such as "; charset=utf-8".
func baseMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// SendMessage resolves toName, stages text and starts the negotiation. It
// returns the request uuid the requester will see in the response events.
func (s *TransmissionService) SendMessage(ctx context.Context, from *domain.Identity, toName, text string) (string, error) {
	to, err := s.target(ctx, from, toName)
	if err != nil {
		return "", err
	}
	m, err := s.StageMessage(ctx, from.ID, to.ID, text)
	if err != nil {
		return "", err
	}
	if _, err := s.Negotiate(ctx, from.ID, from.Name, to.ID, MessageRef(m)); err != nil {
		return "", err
	}
	return m.RequestID, nil
}

// SendFile is SendMessage for an uploaded file. It takes ownership of up:
// on any error the stored file is removed.
func (s *TransmissionService) SendFile(ctx context.Context, from *domain.Identity, toName string, up *UploadedFile) (string, error) {
	if up == nil || up.Key == "" {
		return "", ErrNoPayload
	}
	to, err := s.target(ctx, from, toName)
	if err != nil {
		s.DiscardUpload(ctx, up)
		return "", err
	}
	f, err := s.StageFile(ctx, from.ID, to.ID, up)
	if err != nil {
		return "", err
	}
	if _, err := s.Negotiate(ctx, from.ID, from.Name, to.ID, FileRef(f)); err != nil {
		return "", err
	}
	return f.RequestID, nil
}

func (s *TransmissionService) target(ctx context.Context, from *domain.Identity, toName string) (*domain.Identity, error) {
	to, err := repo.GetIdentityByName(ctx, s.DB, strings.TrimSpace(toName))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	if to.ID == from.ID {
		return nil, ErrTargetIsSelf
	}
	if _, ok := s.Presence.Lookup(to.ID); !ok {
		return nil, ErrNotConnected
	}
	return to, nil
}

// Negotiate asks toID to accept the staged transmission. It fails with
// ErrNotConnected when toID has no session and ErrDeliveryFailed when the
// request cannot be written; in both cases the staged payload is deleted.
// Otherwise the returned channel yields the Outcome once the verdict's side
// effects have run. Callers may ignore the channel.
func (s *TransmissionService) Negotiate(ctx context.Context, fromID, fromName, toID string, ref StagedRef) (<-chan Outcome, error) {
	ctx, span := otel.Tracer("services/TransmissionService").Start(ctx, "Negotiate",
		trace.WithAttributes(
			attribute.String("request.id", ref.RequestID),
			attribute.String("transmission.kind", ref.Kind),
			attribute.String("identity.from", fromID),
			attribute.String("identity.to", toID),
		),
	)
	defer span.End()

	sess, ok := s.Presence.Lookup(toID)
	if !ok {
		s.discard(ctx, ref, "not_connected")
		return nil, ErrNotConnected
	}
	p, err := sess.OpenRequest(ctx, socket.Request{
		CorrelationID: ref.RequestID,
		FromID:        fromID,
		ToID:          toID,
		Kind:          ref.Kind,
		FromName:      fromName,
		File:          ref.File,
	})
	if err != nil {
		s.discard(ctx, ref, "delivery_failed")
		if errors.Is(err, socket.ErrDeliveryFailed) || errors.Is(err, socket.ErrSessionClosed) {
			return nil, ErrDeliveryFailed
		}
		return nil, err
	}

	out := make(chan Outcome, 1)
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		out <- s.settle(bg, fromID, fromName, toID, ref, <-p.Done())
	}()
	return out, nil
}

// settle runs the follow-up for a verdict.
func (s *TransmissionService) settle(ctx context.Context, fromID, fromName, toID string, ref StagedRef, v socket.Verdict) Outcome {
	ctx, span := otel.Tracer("services/TransmissionService").Start(ctx, "Settle",
		trace.WithAttributes(
			attribute.String("request.id", ref.RequestID),
			attribute.String("verdict", v.String()),
		),
	)
	defer span.End()

	log := s.Log.With().Str("request_id", ref.RequestID).Str("kind", ref.Kind).Str("verdict", v.String()).Logger()
	negotiationsTotal.WithLabelValues(ref.Kind, v.String()).Inc()
	out := Outcome{RequestID: ref.RequestID, Verdict: v}

	switch v {
	case socket.Accepted:
		emitJSON(ctx, s.Presence, fromID, socket.EventResponse, socket.ResponsePayload{CorrelationID: ref.RequestID, Accepted: true})
		var delivered bool
		if ref.Kind == socket.KindFile && ref.File != nil {
			delivered = emitJSON(ctx, s.Presence, toID, socket.EventTransmissionFile, FilePayload{
				UUID:             ref.TransmissionID,
				FromName:         fromName,
				FileOriginalName: ref.File.OriginalName,
				FileMimeType:     ref.File.MimeType,
				FileSize:         ref.File.Size,
			})
		} else {
			delivered = emitJSON(ctx, s.Presence, toID, socket.EventTransmissionMessage, MessagePayload{
				UUID:     ref.TransmissionID,
				FromName: fromName,
				Message:  ref.Message,
			})
		}
		if !delivered {
			// The recipient can no longer learn the uuid; termination cleanup
			// will remove the row if it does not reconnect in time.
			log.Warn().Msg("accepted payload event not delivered")
		}
	case socket.Declined:
		emitJSON(ctx, s.Presence, fromID, socket.EventResponse, socket.ResponsePayload{CorrelationID: ref.RequestID, Accepted: false})
		out.Deleted = s.discard(ctx, ref, "declined")
	default:
		corr := socket.CorrelationPayload{CorrelationID: ref.RequestID}
		emitJSON(ctx, s.Presence, toID, socket.EventRequestRetracted, corr)
		emitJSON(ctx, s.Presence, fromID, socket.EventRequestTimeout, corr)
		out.Deleted = s.discard(ctx, ref, v.String())
	}
	log.Debug().Bool("deleted", out.Deleted).Msg("negotiation settled")
	return out
}

// discard deletes the staged payload behind ref, logging failures.
func (s *TransmissionService) discard(ctx context.Context, ref StagedRef, reason string) bool {
	var (
		ok  bool
		err error
	)
	switch ref.Kind {
	case socket.KindFile:
		var f *domain.FileTransmission
		f, err = repo.GetFileTransmissionByRequest(ctx, s.DB, ref.RequestID)
		if errors.Is(err, repo.ErrNotFound) {
			return false
		}
		if err == nil {
			ok, err = s.deleteFile(ctx, f)
		}
	default:
		ok, err = repo.DeleteMessageTransmissionByRequest(ctx, s.DB, ref.RequestID)
	}
	if err != nil {
		s.Log.Error().Err(err).Str("request_id", ref.RequestID).Str("reason", reason).Msg("delete staged transmission")
		return false
	}
	if ok {
		stagedDeletes.WithLabelValues(ref.Kind, reason).Inc()
	}
	return ok
}

// deleteFile removes the stored object and then the row. When the object
// cannot be removed the row is kept so a later cleanup can retry.
func (s *TransmissionService) deleteFile(ctx context.Context, f *domain.FileTransmission) (bool, error) {
	if err := s.Files.Delete(ctx, f.FileKey); err != nil && !errors.Is(err, storage.ErrNotExist) {
		return false, err
	}
	return repo.DeleteFileTransmission(ctx, s.DB, f.ID)
}

// claim marks id as being retrieved. It returns false when another retrieval
// holds it.
func (s *TransmissionService) claim(id string) bool {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if s.claims == nil {
		s.claims = make(map[string]struct{})
	}
	if _, busy := s.claims[id]; busy {
		return false
	}
	s.claims[id] = struct{}{}
	return true
}

func (s *TransmissionService) release(id string) {
	s.claimMu.Lock()
	delete(s.claims, id)
	s.claimMu.Unlock()
}

// RetrieveMessage returns a staged message addressed to identityID and
// deletes it. A second call for the same uuid yields ErrNotFound.
func (s *TransmissionService) RetrieveMessage(ctx context.Context, identityID, id string) (*domain.MessageTransmission, error) {
	ctx, span := otel.Tracer("services/TransmissionService").Start(ctx, "RetrieveMessage",
		trace.WithAttributes(attribute.String("transmission.id", id)),
	)
	defer span.End()

	if !s.claim(id) {
		return nil, ErrNotFound
	}
	defer s.release(id)

	m, err := repo.GetMessageTransmission(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if m.ToID != identityID {
		return nil, ErrNotFound
	}
	deleted, err := repo.DeleteMessageTransmission(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		// Lost a race with cleanup.
		return nil, ErrNotFound
	}
	stagedDeletes.WithLabelValues(socket.KindMessage, "retrieved").Inc()
	return m, nil
}

// Retrieval is an open staged file. Close must be called whether or not the
// body was read to the end; it deletes the file and its row.
type Retrieval struct {
	File *domain.FileTransmission
	Body io.ReadCloser
	Size int64

	once  sync.Once
	close func() error
}

// Read implements io.Reader over the stored file.
func (r *Retrieval) Read(p []byte) (int, error) { return r.Body.Read(p) }

// Close releases and deletes the staged file. Repeated calls return nil.
func (r *Retrieval) Close() error {
	var err error
	r.once.Do(func() {
		if r.close == nil {
			err = r.Body.Close()
			return
		}
		err = r.close()
	})
	return err
}

// RetrieveFile opens a staged file addressed to identityID. Concurrent
// retrievals of the same uuid are refused with ErrNotFound.
func (s *TransmissionService) RetrieveFile(ctx context.Context, identityID, id string) (*Retrieval, error) {
	ctx, span := otel.Tracer("services/TransmissionService").Start(ctx, "RetrieveFile",
		trace.WithAttributes(attribute.String("transmission.id", id)),
	)
	defer span.End()

	if !s.claim(id) {
		return nil, ErrNotFound
	}
	f, err := repo.GetFileTransmission(ctx, s.DB, id)
	if err != nil {
		s.release(id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if f.ToID != identityID {
		s.release(id)
		return nil, ErrNotFound
	}
	body, size, err := s.Files.Open(ctx, f.FileKey)
	if err != nil {
		s.release(id)
		if errors.Is(err, storage.ErrNotExist) {
			// Orphaned row; drop it so the uuid stops resolving.
			_, _ = repo.DeleteFileTransmission(ctx, s.DB, f.ID)
			return nil, ErrNotFound
		}
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	return &Retrieval{
		File: f,
		Body: body,
		Size: size,
		close: func() error {
			defer s.release(id)
			cerr := body.Close()
			ok, err := s.deleteFile(bg, f)
			if err != nil {
				s.Log.Error().Err(err).Str("transmission_id", f.ID).Msg("delete retrieved file")
				return err
			}
			if ok {
				stagedDeletes.WithLabelValues(socket.KindFile, "retrieved").Inc()
			}
			return cerr
		},
	}, nil
}

// CleanupFor deletes every staged transmission addressed to identityID.
// Individual failures are logged and the batch continues. It implements
// socket.Terminator.
func (s *TransmissionService) CleanupFor(ctx context.Context, identityID string) {
	ctx, span := otel.Tracer("services/TransmissionService").Start(ctx, "CleanupFor",
		trace.WithAttributes(attribute.String("identity.id", identityID)),
	)
	defer span.End()

	log := s.Log.With().Str("identity_id", identityID).Logger()

	msgs, err := repo.ListMessageTransmissionsTo(ctx, s.DB, identityID)
	if err != nil {
		log.Error().Err(err).Msg("list staged messages")
	}
	for _, m := range msgs {
		ok, err := repo.DeleteMessageTransmission(ctx, s.DB, m.ID)
		if err != nil {
			log.Error().Err(err).Str("transmission_id", m.ID).Msg("delete staged message")
			continue
		}
		if ok {
			stagedDeletes.WithLabelValues(socket.KindMessage, "terminated").Inc()
		}
	}

	files, err := repo.ListFileTransmissionsTo(ctx, s.DB, identityID)
	if err != nil {
		log.Error().Err(err).Msg("list staged files")
	}
	for i := range files {
		ok, err := s.deleteFile(ctx, &files[i])
		if err != nil {
			log.Error().Err(err).Str("transmission_id", files[i].ID).Msg("delete staged file")
			continue
		}
		if ok {
			stagedDeletes.WithLabelValues(socket.KindFile, "terminated").Inc()
		}
	}
	log.Debug().Int("messages", len(msgs)).Int("files", len(files)).Msg("staged transmissions cleaned")
}
