package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// Sweep runs the stale-claim sweeper once.
func (c *Client) Sweep() (*SweepResponse, error) {
	return call[SweepRequest, SweepResponse](c, "Sweep", SweepRequest{})
}

// Ingest registers a PDF that is readable by the daemon.
func (c *Client) Ingest(req IngestRequest) (*IngestResponse, error) {
	return call[IngestRequest, IngestResponse](c, "Ingest", req)
}

// DocumentList lists documents, optionally filtered by status.
func (c *Client) DocumentList(statuses []string) (*DocumentListResponse, error) {
	return call[DocumentListRequest, DocumentListResponse](c, "DocumentList", DocumentListRequest{Statuses: statuses})
}

// TypeAdd registers or renames a document type.
func (c *Client) TypeAdd(id, name string) (*TypeAddResponse, error) {
	return call[TypeAddRequest, TypeAddResponse](c, "TypeAdd", TypeAddRequest{ID: id, Name: name})
}

// TypeList lists document types.
func (c *Client) TypeList() (*TypeListResponse, error) {
	return call[TypeListRequest, TypeListResponse](c, "TypeList", TypeListRequest{})
}

// Grant gives user access to a document.
func (c *Client) Grant(user, documentID string) (*GrantResponse, error) {
	return call[GrantRequest, GrantResponse](c, "Grant", GrantRequest{User: user, DocumentID: documentID})
}

// TokenIssue signs an API token.
func (c *Client) TokenIssue(req TokenIssueRequest) (*TokenIssueResponse, error) {
	return call[TokenIssueRequest, TokenIssueResponse](c, "TokenIssue", req)
}
