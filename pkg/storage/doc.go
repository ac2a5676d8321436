// Package storage keeps the deliverables a provider produces until the client
// downloads them.
//
// Two DeliverableStore implementations are provided:
//
//   - MemoryStore, the default, keeps deep copies in process memory;
//   - IPFSStore adds content to an IPFS node through the Kubo HTTP RPC API
//     and keeps an order id to CID index. Content read back from the node is
//     checked against the SHA-256 hash recorded at write time.
//
// A deliverable is written once per order; a second Set returns
// ErrDeliverableExists.
//
//	store, err := storage.DialIPFSStore("http://127.0.0.1:5001", 30*time.Second)
//	err = store.Set(ctx, &model.Deliverable{OrderID: id, Content: out, ContentType: "text/plain"})
//	d, err := store.Get(ctx, id)
//
// ContentHash is the hash carried on the wire as content_hash: lowercase hex
// SHA-256 of the raw content bytes.
package storage
