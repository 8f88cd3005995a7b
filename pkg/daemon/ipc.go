package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caribu66/veruspulse-sub005/pkg/errs"
)

// connTimeout bounds how long one control connection may stay open.
const connTimeout = 5 * time.Second

// Verb names a control command.
type Verb string

// The control verbs.
const (
	VerbHealth  Verb = "HEALTH"
	VerbPause   Verb = "PAUSE"
	VerbResume  Verb = "RESUME"
	VerbRefresh Verb = "REFRESH"
	VerbSync    Verb = "SYNC"
)

// Command is one control request: a verb and, for the feed verbs, the
// feed it targets.
type Command struct {
	Verb Verb
	Feed string
}

// ParseCommand reads a "VERB [feed]" line. Verbs are case-insensitive,
// feed names are not.
func ParseCommand(line string) (Command, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Command{}, errs.Invalidf("parse command", "empty command")
	}
	if len(parts) > 2 {
		return Command{}, errs.Invalidf("parse command", "too many arguments in %q", line)
	}
	cmd := Command{Verb: Verb(strings.ToUpper(parts[0]))}
	if len(parts) == 2 {
		cmd.Feed = parts[1]
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks the verb and whether it takes a feed. It does not know
// which feeds exist; the handler checks that.
func (c Command) Validate() error {
	op := strings.ToLower(string(c.Verb))
	switch c.Verb {
	case VerbPause, VerbResume:
		if c.Feed == "" {
			return errs.Invalidf(op, "%s requires a feed name", c.Verb)
		}
	case VerbRefresh:
	case VerbHealth, VerbSync:
		if c.Feed != "" {
			return errs.Invalidf(op, "%s takes no feed", c.Verb)
		}
	default:
		return errs.Invalidf("parse command", "unknown command %q", string(c.Verb))
	}
	return nil
}

// String renders the command in wire form.
func (c Command) String() string {
	if c.Feed == "" {
		return string(c.Verb)
	}
	return string(c.Verb) + " " + c.Feed
}

// Reply is the single JSON line written back for every command.
type Reply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ReplyError     `json:"error,omitempty"`
}

// ReplyError carries a failure across the socket with its kind intact.
type ReplyError struct {
	Kind    string `json:"kind"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

// Err rebuilds the classified error on the client side.
func (e *ReplyError) Err() error {
	return errs.New(errs.ParseKind(e.Kind), e.Op, errors.New(e.Message))
}

func errorReply(err error) Reply {
	re := &ReplyError{Kind: errs.KindOf(err).String(), Message: err.Error()}
	var e *errs.Error
	if errors.As(err, &e) {
		re.Op = e.Op
		re.Message = e.Err.Error()
	}
	return Reply{Error: re}
}

// IPCHandler executes validated commands. The result is marshalled as the
// reply's result field.
type IPCHandler interface {
	HandleCommand(ctx context.Context, cmd Command) (any, error)
}

// IPCServer accepts one command per connection on a unix socket and answers
// with a Reply.
type IPCServer struct {
	socketPath string
	handler    IPCHandler
	listener   net.Listener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewIPCServer returns a server for socketPath. It does not listen until
// Start.
func NewIPCServer(socketPath string, handler IPCHandler) *IPCServer {
	return &IPCServer{socketPath: socketPath, handler: handler}
}

// Start replaces any stale socket, listens with owner-only permissions and
// serves until Stop or until ctx is done.
func (s *IPCServer) Start(ctx context.Context) error {
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener, waits for in-flight commands and removes the
// socket file. It is safe to call more than once.
func (s *IPCServer) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *IPCServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.wg.Add(1)
		go s.serve(ctx, conn)
	}
}

func (s *IPCServer) serve(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	json.NewEncoder(conn).Encode(s.dispatch(ctx, sc.Text()))
}

func (s *IPCServer) dispatch(ctx context.Context, line string) Reply {
	cmd, err := ParseCommand(line)
	if err != nil {
		return errorReply(err)
	}
	res, err := s.handler.HandleCommand(ctx, cmd)
	if err != nil {
		return errorReply(err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		return errorReply(errs.Schema(strings.ToLower(string(cmd.Verb)), err))
	}
	return Reply{OK: true, Result: data}
}

// IPCClient sends commands to a running daemon.
type IPCClient struct {
	socketPath string
}

// NewIPCClient returns a client for the daemon listening on socketPath.
func NewIPCClient(socketPath string) *IPCClient {
	return &IPCClient{socketPath: socketPath}
}

// Send validates cmd, delivers it on a fresh connection and returns the
// reply's result. A failed command comes back as a classified error.
func (c *IPCClient) Send(ctx context.Context, cmd Command) (json.RawMessage, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, errs.Network("connect to daemon", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return nil, errs.Network("send command", err)
	}
	var r Reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errs.Network("read reply", errors.New("daemon closed the connection"))
		}
		return nil, errs.Schema("read reply", err)
	}
	if r.Error != nil {
		return nil, r.Error.Err()
	}
	return r.Result, nil
}
