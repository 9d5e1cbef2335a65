package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// StdioClient connects to an MCP server via stdio (subprocess).
// The process is started on first use and restarted after it exits.
// Messages are newline-delimited JSON; responses are matched to callers by id.
type StdioClient struct {
	serverPath string
	serverArgs []string
	env        []string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{} // closed when the reader goroutine exits

	pendingMu sync.Mutex
	pending   map[interface{}]chan []byte

	writeMu sync.Mutex
}

// NewStdioClient creates a client for the given MCP server command.
// env entries (KEY=value) are appended to the gateway's environment.
func NewStdioClient(serverPath string, serverArgs []string, env []string) *StdioClient {
	return &StdioClient{
		serverPath: serverPath,
		serverArgs: serverArgs,
		env:        env,
		pending:    make(map[interface{}]chan []byte),
	}
}

// ensureStarted launches the subprocess if needed. A process that exited
// since the last call is reaped and reported as an expired session so the
// caller reinitializes.
func (c *StdioClient) ensureStarted() (io.Writer, chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		select {
		case <-c.done:
			_ = c.stopLocked()
			return nil, nil, fmt.Errorf("upstream process exited: %w", errSessionExpired)
		default:
			return c.stdin, c.done, nil
		}
	}

	// Not CommandContext: the process outlives the request that started it.
	cmd := exec.Command(c.serverPath, c.serverArgs...)
	cmd.Env = append(os.Environ(), c.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	// Forward server stderr to gateway stderr (MCP allows server logging)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, nil, fmt.Errorf("failed to start server: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.done = make(chan struct{})
	go c.readLoop(stdout, c.done)

	return c.stdin, c.done, nil
}

// readLoop routes each response line to the caller waiting on its id.
func (c *StdioClient) readLoop(stdout io.Reader, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), maxResponseBodySize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, err := decodeResponse(line)
		if err != nil {
			// server-initiated requests and notifications are not routed
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID.Raw()]
		if ok {
			delete(c.pending, resp.ID.Raw())
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- append([]byte(nil), line...)
		}
	}
}

func (c *StdioClient) send(ctx context.Context, body []byte, id jsonrpc.ID) ([]byte, error) {
	stdin, done, err := c.ensureStarted()
	if err != nil {
		return nil, err
	}

	var ch chan []byte
	if id.IsValid() {
		ch = make(chan []byte, 1)
		c.pendingMu.Lock()
		c.pending[id.Raw()] = ch
		c.pendingMu.Unlock()
		defer func() {
			c.pendingMu.Lock()
			delete(c.pending, id.Raw())
			c.pendingMu.Unlock()
		}()
	}

	c.writeMu.Lock()
	_, err = stdin.Write(append(body, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("writing to upstream: %w", err)
	}

	if ch == nil {
		return nil, nil
	}

	select {
	case line := <-ch:
		return line, nil
	case <-done:
		return nil, fmt.Errorf("upstream process exited: %w", errSessionExpired)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *StdioClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.stopLocked()
}

// Close terminates the subprocess and waits for the reader to exit.
// Close is idempotent.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *StdioClient) stopLocked() error {
	if c.cmd == nil {
		return nil
	}

	var errs []error

	// Close stdin first to signal EOF to server
	if err := c.stdin.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stdin: %w", err))
	}

	if c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill process: %w", err))
		}
	}
	// Wait closes stdout, which ends readLoop.
	_ = c.cmd.Wait()
	<-c.done

	c.cmd = nil
	c.stdin = nil

	return errors.Join(errs...)
}

// Compile-time check that StdioClient implements transport.
var _ transport = (*StdioClient)(nil)
