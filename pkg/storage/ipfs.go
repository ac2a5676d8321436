package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/boxo/files"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/kubo/client/rpc"
	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

// IpfsPrefix is the URI scheme prefix recognized for IPFS content.
const IpfsPrefix = "ipfs://"

// Blobs adds and reads raw content on an IPFS node.
type Blobs interface {
	Add(ctx context.Context, content []byte) (cid.Cid, error)
	Cat(ctx context.Context, c cid.Cid) ([]byte, error)
}

// kuboBlobs is the Kubo HTTP RPC implementation of Blobs.
type kuboBlobs struct {
	api *rpc.HttpApi
}

// NewIPFSClient constructs a Kubo HTTP API client pointed at url.
func NewIPFSClient(url string, timeout time.Duration) (*rpc.HttpApi, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	client, err := rpc.NewURLApiWithClient(url, httpClient)
	if err != nil {
		zap.L().Error("connection failed to IPFS", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	return client, nil
}

// NewKuboBlobs wraps a connected Kubo client.
func NewKuboBlobs(api *rpc.HttpApi) Blobs {
	return &kuboBlobs{api: api}
}

func (k *kuboBlobs) Add(ctx context.Context, content []byte) (cid.Cid, error) {
	if k.api == nil {
		return cid.Undef, fmt.Errorf("ipfs client not configured")
	}
	p, err := k.api.Unixfs().Add(ctx, files.NewBytesFile(content))
	if err != nil {
		zap.L().Error("error uploading to ipfs", zap.Error(err))
		return cid.Undef, err
	}
	return p.RootCid(), nil
}

func (k *kuboBlobs) Cat(ctx context.Context, c cid.Cid) (content []byte, err error) {
	if k.api == nil {
		return nil, fmt.Errorf("ipfs client not configured")
	}
	resp, err := k.api.Request("cat", c.String()).Send(ctx)
	if err != nil {
		zap.L().Error("error executing the cat command in ipfs", zap.Stringer("cid", c), zap.Error(err))
		return nil, err
	}
	defer func(resp *rpc.Response) {
		if cerr := resp.Close(); cerr != nil {
			zap.L().Error("error closing response in ipfs", zap.Stringer("cid", c), zap.Error(cerr))
		}
	}(resp)

	if resp.Error != nil {
		zap.L().Error("ipfs cat returned error", zap.Stringer("cid", c), zap.Error(resp.Error))
		return nil, resp.Error
	}
	return io.ReadAll(resp.Output)
}

// ipfsEntry is what the store keeps locally for an order; the content itself
// lives on the node.
type ipfsEntry struct {
	cid cid.Cid
	d   *model.Deliverable
}

// IPFSStore keeps deliverable content on IPFS and an order to CID index in
// memory. The SHA-256 content hash is verified again on every read.
type IPFSStore struct {
	blobs Blobs

	mu    sync.RWMutex
	index map[string]ipfsEntry
}

// NewIPFSStore returns a store backed by blobs.
func NewIPFSStore(blobs Blobs) *IPFSStore {
	return &IPFSStore{blobs: blobs, index: make(map[string]ipfsEntry)}
}

// DialIPFSStore connects to the Kubo RPC API at url.
func DialIPFSStore(url string, timeout time.Duration) (*IPFSStore, error) {
	api, err := NewIPFSClient(url, timeout)
	if err != nil {
		return nil, err
	}
	return NewIPFSStore(NewKuboBlobs(api)), nil
}

func (s *IPFSStore) Set(ctx context.Context, d *model.Deliverable) error {
	c, err := prepare(d)
	if err != nil {
		return err
	}
	if ok, _ := s.Has(ctx, c.OrderID); ok {
		return ErrDeliverableExists
	}

	id, err := s.blobs.Add(ctx, c.Content)
	if err != nil {
		return fmt.Errorf("ipfs add: %w", err)
	}
	zap.L().Debug("deliverable uploaded to IPFS",
		zap.String("order_id", c.OrderID), zap.String("uri", IpfsPrefix+id.String()))

	meta := c.Clone()
	meta.Content = nil
	if meta.Metadata == nil {
		meta.Metadata = map[string]string{}
	}
	meta.Metadata["ipfs_cid"] = id.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[c.OrderID]; ok {
		return ErrDeliverableExists
	}
	s.index[c.OrderID] = ipfsEntry{cid: id, d: meta}
	return nil
}

func (s *IPFSStore) Get(ctx context.Context, orderID string) (*model.Deliverable, error) {
	s.mu.RLock()
	e, ok := s.index[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, ivxperr.New(ivxperr.CodeOrderNotFound, "no deliverable for order %s", orderID).WithOrder(orderID)
	}

	content, err := s.blobs.Cat(ctx, e.cid)
	if err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "ipfs cat %s", e.cid).WithOrder(orderID)
	}
	if !VerifyHash(content, e.d.ContentHash) {
		zap.L().Error("IPFS content hash verification failed",
			zap.String("order_id", orderID),
			zap.String("expected", e.d.ContentHash),
			zap.String("actual", ContentHash(content)))
		return nil, ivxperr.New(ivxperr.CodeContentHashMismatch,
			"content fetched from %s does not match stored hash", e.cid).WithOrder(orderID)
	}

	d := e.d.Clone()
	d.Content = content
	return d, nil
}

// CID returns the content identifier of an order's deliverable.
func (s *IPFSStore) CID(orderID string) (cid.Cid, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[orderID]
	return e.cid, ok
}

func (s *IPFSStore) Has(_ context.Context, orderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[orderID]
	return ok, nil
}

// Delete drops the index entry. The content stays on the node until it is
// garbage collected.
func (s *IPFSStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, orderID)
	return nil
}

func (s *IPFSStore) Close() error { return nil }

// ParseCID accepts a bare CID or an ipfs:// URI.
func ParseCID(s string) (cid.Cid, error) {
	return cid.Parse(strings.TrimPrefix(strings.TrimSpace(s), IpfsPrefix))
}
