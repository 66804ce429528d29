package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"docpipe/internal/api"
	"docpipe/internal/auth"
	"docpipe/internal/daemon"
	"docpipe/internal/ingest"
	"docpipe/internal/lifecycle"
	"docpipe/internal/logging"
	"docpipe/internal/store"
)

// serviceName prefixes every RPC method.
const serviceName = "Docpipe"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Sweep(_ SweepRequest, resp *SweepResponse) error {
	n, err := s.daemon.Sweep(s.ctx)
	if err != nil {
		return err
	}
	resp.Reclaimed = n
	s.logger.Info("sweep requested via IPC",
		logging.String(logging.FieldEventType, "ipc_sweep"),
		logging.Int("reclaimed", n))
	return nil
}

func (s *service) Ingest(req IngestRequest, resp *IngestResponse) error {
	doc, err := s.daemon.Ingest(s.ctx, ingest.Request{
		Path:           req.Path,
		Owner:          req.Owner,
		DocumentTypeID: req.DocumentTypeID,
		Date:           req.Date,
		Comment:        req.Comment,
	})
	if err != nil {
		return err
	}
	resp.Document = api.FromDocument(doc, nil)
	return nil
}

func (s *service) DocumentList(req DocumentListRequest, resp *DocumentListResponse) error {
	statuses := make([]lifecycle.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		status, ok := lifecycle.ParseStatus(raw)
		if !ok {
			return fmt.Errorf("unknown document status %q", raw)
		}
		statuses = append(statuses, status)
	}
	docs, err := s.daemon.ListDocuments(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Documents = api.FromDocuments(docs)
	return nil
}

func (s *service) TypeAdd(req TypeAddRequest, resp *TypeAddResponse) error {
	typ, err := s.daemon.AddDocumentType(s.ctx, req.ID, req.Name)
	if err != nil {
		return err
	}
	resp.Type = fromType(*typ)
	s.logger.Info("document type registered",
		logging.String(logging.FieldEventType, "document_type_added"),
		logging.String("document_type", typ.ID))
	return nil
}

func (s *service) TypeList(_ TypeListRequest, resp *TypeListResponse) error {
	types, err := s.daemon.ListDocumentTypes(s.ctx)
	if err != nil {
		return err
	}
	resp.Types = make([]DocumentType, 0, len(types))
	for _, typ := range types {
		resp.Types = append(resp.Types, fromType(typ))
	}
	return nil
}

func (s *service) Grant(req GrantRequest, resp *GrantResponse) error {
	if err := s.daemon.Grant(s.ctx, req.User, req.DocumentID); err != nil {
		return err
	}
	resp.Granted = true
	s.logger.Info("document access granted",
		logging.String(logging.FieldEventType, "grant_added"),
		logging.String(logging.FieldDocumentID, req.DocumentID),
		logging.String("user", req.User))
	return nil
}

func (s *service) TokenIssue(req TokenIssueRequest, resp *TokenIssueResponse) error {
	token, expires, err := s.daemon.IssueToken(req.Subject, auth.Role(req.Role), time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		return err
	}
	resp.Token = token
	resp.ExpiresAt = expires.UTC().Format(time.RFC3339)
	return nil
}

func fromType(t store.DocumentType) DocumentType {
	return DocumentType{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339)}
}
