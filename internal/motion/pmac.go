package motion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ack terminates every reply on the PMAC command line.
const ack = "\x06"

// PMAC talks to a Power PMAC over its ASCII command line on a TCP socket.
// Each command line is answered by zero or more response lines followed by
// an ACK line. A response containing "error #" fails the command.
type PMAC struct {
	addr        string
	dialTimeout time.Duration
	ioTimeout   time.Duration

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// NewPMAC creates a client for addr (host:port). The connection is made on
// first use and remade after any I/O error.
func NewPMAC(addr string, dialTimeout time.Duration) *PMAC {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &PMAC{addr: addr, dialTimeout: dialTimeout, ioTimeout: 2 * time.Second}
}

// NewPMACConn wraps an established connection. It is never redialled.
func NewPMACConn(conn net.Conn) *PMAC {
	return &PMAC{conn: conn, r: bufio.NewReader(conn), ioTimeout: 2 * time.Second}
}

func (p *PMAC) connect(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}
	if p.addr == "" {
		return errors.New("pmac: connection closed")
	}
	d := net.Dialer{Timeout: p.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial pmac %s: %w", p.addr, err)
	}
	p.conn = conn
	p.r = bufio.NewReader(conn)
	return nil
}

func (p *PMAC) drop() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	p.r = nil
}

// Command sends one command line and returns the response lines.
func (p *PMAC) Command(ctx context.Context, line string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(ctx); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.ioTimeout)
	}
	if err := p.conn.SetDeadline(deadline); err != nil {
		p.drop()
		return nil, fmt.Errorf("pmac set deadline: %w", err)
	}

	if _, err := p.conn.Write([]byte(line + "\n")); err != nil {
		p.drop()
		return nil, fmt.Errorf("pmac write: %w", err)
	}

	var lines []string
	var cmdErr error
	for {
		s, err := p.r.ReadString('\n')
		if err != nil {
			p.drop()
			return nil, fmt.Errorf("pmac read: %w", err)
		}
		s = strings.TrimRight(s, "\r\n")
		if s == ack {
			break
		}
		if strings.Contains(s, "error #") && cmdErr == nil {
			cmdErr = fmt.Errorf("pmac %q: %s", line, s)
		}
		lines = append(lines, s)
	}
	if cmdErr != nil {
		return nil, cmdErr
	}
	return lines, nil
}

// Jog issues every relative jog of the group on one command line, so the
// controller starts them together.
func (p *PMAC) Jog(ctx context.Context, group []Jog) error {
	if len(group) == 0 {
		return nil
	}
	parts := make([]string, len(group))
	for i, j := range group {
		parts[i] = "#" + strconv.Itoa(j.Axis) + "j^" + formatPos(j.Distance)
	}
	_, err := p.Command(ctx, strings.Join(parts, " "))
	return err
}

// MoveAbsolute jogs axis to an absolute position.
func (p *PMAC) MoveAbsolute(ctx context.Context, axis int, pos float64) error {
	_, err := p.Command(ctx, "#"+strconv.Itoa(axis)+"j="+formatPos(pos))
	return err
}

// Status queries in-position and fault flags for each axis.
func (p *PMAC) Status(ctx context.Context, axes []int) ([]AxisStatus, error) {
	out := make([]AxisStatus, 0, len(axes))
	for _, axis := range axes {
		n := strconv.Itoa(axis)
		lines, err := p.Command(ctx, "Motor["+n+"].InPos Motor["+n+"].AmpFault Motor["+n+"].FeFatal")
		if err != nil {
			return nil, err
		}
		if len(lines) != 3 {
			return nil, fmt.Errorf("pmac status axis %d: expected 3 values, got %d", axis, len(lines))
		}
		var v [3]int
		for i, l := range lines {
			if v[i], err = parseValue(l); err != nil {
				return nil, fmt.Errorf("pmac status axis %d: %w", axis, err)
			}
		}
		out = append(out, AxisStatus{
			Axis:       axis,
			InPosition: v[0] != 0,
			Fault:      v[1] != 0 || v[2] != 0,
		})
	}
	return out, nil
}

// Close closes the connection.
func (p *PMAC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.r = nil
	p.addr = ""
	return err
}

// parseValue accepts "Motor[1].InPos=1" or a bare "1".
func parseValue(s string) (int, error) {
	if _, v, ok := strings.Cut(s, "="); ok {
		s = v
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return n, nil
}

func formatPos(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
