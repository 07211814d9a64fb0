package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os/user"
	"strings"

	"github.com/txtx/runbook/internal/supervisor"
)

// Prompter is the terminal approval front-end: it consumes signing requests
// from a supervisor hub and prompts the operator for each one in turn.
type Prompter struct {
	hub *supervisor.Hub
	in  *bufio.Reader
	out io.Writer

	approver string
}

// NewPrompter creates a prompter over the given streams.
func NewPrompter(hub *supervisor.Hub, in io.Reader, out io.Writer) *Prompter {
	approver := "operator"
	if u, err := user.Current(); err == nil && u.Username != "" {
		approver = u.Username
	}
	return &Prompter{hub: hub, in: bufio.NewReader(in), out: out, approver: approver}
}

// Serve prompts for requests until the hub closes or the context ends.
// Requests are handled one at a time in arrival order.
func (p *Prompter) Serve(ctx context.Context) {
	for {
		select {
		case req, ok := <-p.hub.Requests():
			if !ok {
				return
			}
			p.hub.Resolve(req.ID, p.prompt(req))
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prompter) prompt(req *supervisor.Request) supervisor.Resolution {
	fmt.Fprintf(p.out, "\nApproval requested: %s\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(p.out, "  %s\n", req.Description)
	}
	fmt.Fprintf(p.out, "  construct: %s\n  signer:    %s\n", req.Construct, req.Signer)
	if len(req.Payload) > 0 {
		fmt.Fprintf(p.out, "  payload:   %s\n", hex.EncodeToString(req.Payload))
	}
	fmt.Fprintf(p.out, "Approve? [y/N]: ")

	line, err := p.in.ReadString('\n')
	if err != nil {
		return supervisor.Resolution{Approved: false, Approver: p.approver, Reason: "input closed"}
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return supervisor.Resolution{Approved: true, Approver: p.approver}
	default:
		return supervisor.Resolution{Approved: false, Approver: p.approver, Reason: "declined at prompt"}
	}
}
