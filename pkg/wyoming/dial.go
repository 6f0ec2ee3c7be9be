package wyoming

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"time"
)

// DialURI builds a Dialer for a "tcp://host:port" or "unix://path" bind
// URI, the scheme shared by every remote peer.
func DialURI(uri string) (Dialer, error) {
	network, address, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	d := &net.Dialer{Timeout: 10 * time.Second}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		return d.DialContext(ctx, network, address)
	}, nil
}

func splitURI(uri string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(uri, "tcp://"):
		return "tcp", strings.TrimPrefix(uri, "tcp://"), nil
	case strings.HasPrefix(uri, "unix://"):
		return "unix", strings.TrimPrefix(uri, "unix://"), nil
	default:
		return "", "", fmt.Errorf("%w: unsupported uri scheme %q", ErrProtocol, uri)
	}
}

// procStream joins a subprocess's stdin and stdout into a single
// io.ReadWriteCloser so it can be framed exactly like a socket.
type procStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *procStream) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *procStream) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *procStream) Close() error {
	stdinErr := p.stdin.Close()
	stdoutErr := p.stdout.Close()
	killErr := p.cmd.Process.Kill()
	if stdinErr != nil {
		return stdinErr
	}
	if stdoutErr != nil {
		return stdoutErr
	}
	return killErr
}

// DialCommand builds a Dialer that spawns argv and speaks full Wyoming
// framing over its stdin/stdout. Used for wake-command, where the
// subprocess must answer describe/detect the same way a remote wake
// service would.
func DialCommand(argv []string) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		if len(argv) == 0 {
			return nil, fmt.Errorf("%w: empty command", ErrProtocol)
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdin pipe: %v", ErrTransport, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdout pipe: %v", ErrTransport, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("%w: starting %q: %v", ErrTransport, argv[0], err)
		}
		return &procStream{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}
