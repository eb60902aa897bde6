// Package client speaks the djbs storage protocol from the worker side.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dendrascience/dendra-blockstore/protocol"
)

// Client is one worker connection. Requests are serialized; open more
// clients for parallelism.
type Client struct {
	mu         sync.Mutex
	conn       net.Conn
	blockSize  int64
	maxPayload uint32
	timeout    time.Duration
}

// Options tunes Dial.
type Options struct {
	// Worker identifies this client in server logs.
	Worker string
	// Timeout bounds each request round trip. Zero waits forever.
	Timeout time.Duration
	// MaxPayload bounds response payloads.
	MaxPayload uint32
}

// Dial connects and performs the handshake.
func Dial(ctx context.Context, network, address string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", network, address, err)
	}
	if opts.MaxPayload == 0 {
		opts.MaxPayload = protocol.DefaultMaxPayload
	}
	c := &Client{conn: conn, maxPayload: opts.MaxPayload, timeout: opts.Timeout}

	resp, err := c.roundTrip(ctx, &protocol.Handshake{Worker: opts.Worker})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	hs, ok := resp.(*protocol.HandshakeResponse)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("handshake: unexpected %s response", resp.Op())
	}
	c.blockSize = int64(hs.BlockSize)
	return c, nil
}

// BlockSize is the block size announced by the server.
func (c *Client) BlockSize() int64 { return c.blockSize }

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Time{}
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if err := protocol.WritePacket(c.conn, protocol.Encode(msg)); err != nil {
		return nil, err
	}
	pkt, err := protocol.ReadPacket(c.conn, c.maxPayload)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.Decode(pkt)
	if err != nil {
		return nil, err
	}
	if e, ok := resp.(*protocol.Error); ok {
		return nil, e.Err()
	}
	return resp, nil
}

func (c *Client) expectOK(ctx context.Context, msg protocol.Message) error {
	resp, err := c.roundTrip(ctx, msg)
	if err != nil {
		return err
	}
	if _, ok := resp.(*protocol.OK); !ok {
		return fmt.Errorf("%s: unexpected %s response", msg.Op(), resp.Op())
	}
	return nil
}

func target(job uint64, file, tag string) protocol.Target {
	return protocol.Target{Job: job, File: file, Tag: tag}
}

func (c *Client) Create(ctx context.Context, job uint64, file, tag string) error {
	return c.expectOK(ctx, &protocol.Create{Target: target(job, file, tag)})
}

func (c *Client) Truncate(ctx context.Context, job uint64, file, tag string, size uint64) error {
	return c.expectOK(ctx, &protocol.Truncate{Target: target(job, file, tag), Size: size})
}

func (c *Client) Write(ctx context.Context, job uint64, file, tag string, base uint64, content []byte) error {
	return c.expectOK(ctx, &protocol.Write{Target: target(job, file, tag), Base: base, Content: content})
}

// Read fetches one full logical block.
func (c *Client) Read(ctx context.Context, job uint64, file, tag string, block uint64) ([]byte, error) {
	resp, err := c.roundTrip(ctx, &protocol.Read{Target: target(job, file, tag), Block: block, Size: uint64(c.blockSize)})
	if err != nil {
		return nil, err
	}
	rr, ok := resp.(*protocol.ReadResponse)
	if !ok {
		return nil, fmt.Errorf("read: unexpected %s response", resp.Op())
	}
	return rr.Data, nil
}

func (c *Client) Tag(ctx context.Context, job uint64, file, tag, dstFile, dstTag string) error {
	return c.expectOK(ctx, &protocol.Tag{Target: target(job, file, tag), DstFile: dstFile, DstTag: dstTag})
}

func (c *Client) Commit(ctx context.Context, job uint64, file, tag string) error {
	return c.expectOK(ctx, &protocol.Commit{Target: target(job, file, tag)})
}

func (c *Client) Delete(ctx context.Context, job uint64, file, tag string) error {
	return c.expectOK(ctx, &protocol.Delete{Target: target(job, file, tag)})
}
